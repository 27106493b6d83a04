package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// cspAPI is the Content-Security-Policy of JSON and stream responses.
const cspAPI = "default-src 'none'; frame-ancestors 'none'"

// cspDefault applies to everything else.
const cspDefault = "default-src 'self'; img-src 'self' data:; frame-ancestors 'none'"

// SecurityHeaders returns a middleware that sets security-related HTTP response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if isAPIRoute(c.Request.URL.Path) {
			c.Header("Content-Security-Policy", cspAPI)
		} else {
			c.Header("Content-Security-Policy", cspDefault)
		}

		c.Next()
	}
}

// isAPIRoute returns true for paths that only serve JSON or event streams.
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") ||
		strings.HasPrefix(path, "/health")
}
