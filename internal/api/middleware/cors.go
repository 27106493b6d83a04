package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CORS returns a middleware that handles Cross-Origin Resource Sharing for
// the dashboard. Empty allowedOrigins allows every origin.
func CORS(allowedOrigins []string, logger zerolog.Logger) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		logger.Warn().Msg("CORS_ORIGINS is empty, all origins are allowed")
	}

	allowAll := len(allowedOrigins) == 0

	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[strings.ToLower(origin)] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := allowAll
		if !allowed && origin != "" {
			_, allowed = originSet[strings.ToLower(origin)]
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			c.Header("Access-Control-Max-Age", "86400")
		}

		// Handle preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
