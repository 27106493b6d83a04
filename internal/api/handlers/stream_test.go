package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/hub"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func setupStreamTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(hub.DefaultConfig(), zerolog.Nop())
	handler := NewStreamHandler(h, zerolog.Nop())

	r := gin.New()
	handler.RegisterPublicRoutes(r)
	handler.RegisterRoutes(r.Group("/api/v1"))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

// readSSE returns the next event name and data from an SSE stream.
func readSSE(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestStreamSSE(t *testing.T) {
	h, srv := setupStreamTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream content type, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	name, _ := readSSE(t, reader)
	if name != pkgmodels.EventConnected {
		t.Fatalf("expected connected event, got %q", name)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate, AgentID: "a1", ThreatsCount: 1, Timestamp: time.Now().UTC()})
	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventAgentOffline, AgentID: "a1", Timestamp: time.Now().UTC()})

	for _, want := range []string{pkgmodels.EventTelemetryUpdate, pkgmodels.EventAgentOffline} {
		name, data := readSSE(t, reader)
		if name != want {
			t.Fatalf("expected %s event, got %q", want, name)
		}
		var event pkgmodels.UpdateEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("failed to decode event data %q: %v", data, err)
		}
		if event.AgentID != "a1" {
			t.Errorf("expected agent a1, got %q", event.AgentID)
		}
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Len() != 0 {
		t.Fatalf("expected subscriber to be removed after disconnect, got %d", h.Len())
	}
}

func TestStreamSSE_Filter(t *testing.T) {
	h, srv := setupStreamTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream?agent_id=a2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readSSE(t, reader)

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate, AgentID: "a1", Timestamp: time.Now().UTC()})
	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate, AgentID: "a2", Timestamp: time.Now().UTC()})

	_, data := readSSE(t, reader)
	var event pkgmodels.UpdateEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.AgentID != "a2" {
		t.Fatalf("expected only a2 events, got %q", event.AgentID)
	}
}

func TestStreamWebSocket(t *testing.T) {
	h, srv := setupStreamTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	var welcome pkgmodels.UpdateEvent
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("failed to read welcome: %v", err)
	}
	if welcome.Type != pkgmodels.EventConnected {
		t.Fatalf("expected connected, got %q", welcome.Type)
	}

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate, AgentID: "a1", Timestamp: time.Now().UTC()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got pkgmodels.UpdateEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != pkgmodels.EventTelemetryUpdate || got.AgentID != "a1" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestSplitQuery(t *testing.T) {
	got := splitQuery([]string{"a1, a2", "", "a3"})
	want := []string{"a1", "a2", "a3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
