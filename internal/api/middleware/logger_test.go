package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	mw := RequestLogger(zerolog.New(&buf))

	r := gin.New()
	r.Use(mw)
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/error", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fail"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/bad-request", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad"})
	})

	t.Run("successful request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test?q=hello", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if !strings.Contains(buf.String(), `"level":"info"`) {
			t.Errorf("expected info level log, got %s", buf.String())
		}
	})

	t.Run("server error request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/error", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
		if !strings.Contains(buf.String(), `"level":"error"`) {
			t.Errorf("expected error level log, got %s", buf.String())
		}
	})

	t.Run("client error request", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/bad-request", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
		if !strings.Contains(buf.String(), `"level":"warn"`) {
			t.Errorf("expected warn level log, got %s", buf.String())
		}
	})

	t.Run("probe logged at debug", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		r.ServeHTTP(w, req)

		if !strings.Contains(buf.String(), `"level":"debug"`) {
			t.Errorf("expected debug level log, got %s", buf.String())
		}
	})

	t.Run("assigns request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		r.ServeHTTP(w, req)

		if w.Header().Get(RequestIDHeader) == "" {
			t.Error("expected generated request id header")
		}
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		r.ServeHTTP(w, req)

		if got := w.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id req-123, got %q", got)
		}
	})
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		check func(string) bool
	}{
		{"empty", "", func(s string) bool { return s == "" }},
		{"nothing sensitive", "hours=24&agent_id=a1", func(s string) bool { return s == "hours=24&agent_id=a1" }},
		{"token redacted", "token=abc&hours=1", func(s string) bool {
			return strings.Contains(s, "token=%5BREDACTED%5D") && !strings.Contains(s, "abc")
		}},
		{"case insensitive", "API_KEY=xyz", func(s string) bool { return !strings.Contains(s, "xyz") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactQueryString(tt.in); !tt.check(got) {
				t.Errorf("unexpected redaction result %q", got)
			}
		})
	}
}
