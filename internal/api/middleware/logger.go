// Package middleware provides the gin middleware of the aktibguard HTTP API.
package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key of the request id.
const RequestIDKey = "request_id"

// probePaths are polled by load balancers and scrapers; successful hits are
// logged at debug level.
var probePaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// redactedParams never reach the logs.
var redactedParams = []string{"token", "key", "secret", "password", "api_key"}

func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	changed := false
	for name, values := range params {
		for _, secret := range redactedParams {
			if strings.EqualFold(name, secret) {
				for i := range values {
					values[i] = "[REDACTED]"
				}
				changed = true
			}
		}
	}
	if !changed {
		return rawQuery
	}
	return params.Encode()
}

// RequestLogger tags each request with an id and logs it once it completes.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case probePaths[c.Request.URL.Path]:
			event = log.Debug()
		default:
			event = log.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", redactQueryString(c.Request.URL.RawQuery)).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}
