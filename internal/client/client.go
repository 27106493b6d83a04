// Package client provides an HTTP client for the aktibguard server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aktibguard/aktibguard/internal/config"
	"github.com/aktibguard/aktibguard/internal/maintenance"
	"github.com/aktibguard/aktibguard/internal/models"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for communicating with the aktibguard server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient creates a new API client with a direct connection. A
// non-positive timeout means 30s.
func NewClient(serverURL string, timeout time.Duration) *Client {
	c, _ := NewClientWithProxy(serverURL, timeout, nil)
	return c
}

// NewClientWithProxy creates an API client whose requests go through proxy.
// A nil proxy connects directly.
func NewClientWithProxy(serverURL string, timeout time.Duration, proxy *config.ProxyConfig) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient, err := newHTTPClient(timeout, proxy)
	if err != nil {
		return nil, err
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
	}, nil
}

// VersionInfo is the server's build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// Version retrieves the server's build information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.get(ctx, "/version", &info); err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &info, nil
}

// SendTelemetry posts a payload and returns the server's acknowledgement.
func (c *Client) SendTelemetry(ctx context.Context, payload *pkgmodels.TelemetryPayload) (*pkgmodels.TelemetryResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.SendRawTelemetry(ctx, data)
}

// SendRawTelemetry posts an already encoded payload.
func (c *Client) SendRawTelemetry(ctx context.Context, body []byte) (*pkgmodels.TelemetryResponse, error) {
	var resp pkgmodels.TelemetryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/telemetry", body, &resp); err != nil {
		return nil, fmt.Errorf("send telemetry: %w", err)
	}
	return &resp, nil
}

// Summary retrieves the fleet headline numbers.
func (c *Client) Summary(ctx context.Context) (*models.FleetSummary, error) {
	var summary models.FleetSummary
	if err := c.get(ctx, "/api/v1/dashboard/stats", &summary); err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &summary, nil
}

// Fleet lists every agent.
func (c *Client) Fleet(ctx context.Context) ([]*models.FleetAgent, error) {
	var resp struct {
		Agents []*models.FleetAgent `json:"agents"`
	}
	if err := c.get(ctx, "/api/v1/agents", &resp); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return resp.Agents, nil
}

// Agent retrieves one agent's detail view.
func (c *Client) Agent(ctx context.Context, id string) (*models.AgentDetail, error) {
	var detail models.AgentDetail
	if err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(id), &detail); err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &detail, nil
}

// Threats lists threats in a status. Empty status and zero limit use the
// server defaults.
func (c *Client) Threats(ctx context.Context, status string, limit int) ([]*models.ThreatEvent, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/threats"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Threats []*models.ThreatEvent `json:"threats"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("list threats: %w", err)
	}
	return resp.Threats, nil
}

// SetThreatStatus changes a threat's operator status.
func (c *Client) SetThreatStatus(ctx context.Context, id, status string) error {
	body, err := json.Marshal(pkgmodels.ThreatStatusUpdate{Status: status})
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/threats/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("update threat %s: %w", id, err)
	}
	return nil
}

// Sweep asks the server to run a maintenance sweep now.
func (c *Client) Sweep(ctx context.Context) (*maintenance.SweepResult, error) {
	var result maintenance.SweepResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/maintenance/sweep", nil, &result); err != nil {
		return nil, fmt.Errorf("run sweep: %w", err)
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, result any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if result != nil {
		return json.Unmarshal(data, result)
	}
	return nil
}

// errorMessage extracts the error field of a JSON error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var e pkgmodels.APIError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
