package handlers

import (
	"net/http"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestVersionGet(t *testing.T) {
	r := gin.New()
	NewVersionHandler("1.0.0", "abc1234", "2026-01-15T10:30:00Z", zerolog.Nop()).RegisterPublicRoutes(r)

	w := doRequest(t, r, http.MethodGet, "/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp VersionInfo
	decodeJSON(t, w, &resp)
	if resp.Version != "1.0.0" {
		t.Fatalf("expected version '1.0.0', got %q", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Fatalf("expected commit 'abc1234', got %q", resp.Commit)
	}
	if resp.BuildDate != "2026-01-15T10:30:00Z" {
		t.Fatalf("expected build_date '2026-01-15T10:30:00Z', got %q", resp.BuildDate)
	}
	if resp.GoVersion != runtime.Version() {
		t.Fatalf("expected go_version %q, got %q", runtime.Version(), resp.GoVersion)
	}
}

func TestVersionGet_OmitsEmptyFields(t *testing.T) {
	r := gin.New()
	NewVersionHandler("dev", "", "", zerolog.Nop()).RegisterPublicRoutes(r)

	w := doRequest(t, r, http.MethodGet, "/version", nil)

	var raw map[string]any
	decodeJSON(t, w, &raw)
	if _, ok := raw["commit"]; ok {
		t.Error("expected commit to be omitted")
	}
	if _, ok := raw["build_date"]; ok {
		t.Error("expected build_date to be omitted")
	}
}
