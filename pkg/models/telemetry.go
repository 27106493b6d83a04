// Package models contains the wire types shared by the aktibguard server,
// its agents and the operator CLI.
package models

import (
	"encoding/json"
	"time"
)

// AgentInfo identifies the endpoint that produced a telemetry payload.
type AgentInfo struct {
	ID           string `json:"id"`
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	OSRelease    string `json:"os_release,omitempty"`
	Version      string `json:"version,omitempty"`
}

// TelemetryPayload is one agent report.
type TelemetryPayload struct {
	AgentInfo AgentInfo       `json:"agent_info"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
	Threats   []ThreatReport  `json:"threats,omitempty"`
	Processes []ProcessReport `json:"processes,omitempty"`

	// MalformedThreats and MalformedProcesses count list entries the server
	// skipped while decoding because they did not have the expected shape.
	MalformedThreats   int `json:"-"`
	MalformedProcesses int `json:"-"`
}

// ThreatsReported is the number of threat entries the agent sent.
func (p *TelemetryPayload) ThreatsReported() int {
	return len(p.Threats) + p.MalformedThreats
}

// HasMetrics reports whether the payload carries a metrics block.
func (p *TelemetryPayload) HasMetrics() bool {
	return len(p.Metrics) > 0 && string(p.Metrics) != "null"
}

// ThreatReport is a threat as reported by an agent.
type ThreatReport struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp,omitempty"`
	Source      string `json:"source,omitempty"`
}

// ProcessReport is one entry of an agent's top-process list.
type ProcessReport struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	Username      string  `json:"username"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// MetricsBlock is the typed view of the well-known keys of a metrics blob.
// Anything else in the blob is kept verbatim in the raw copy.
type MetricsBlock struct {
	CPU struct {
		Percent float64 `json:"percent"`
	} `json:"cpu"`
	Memory struct {
		Percent float64 `json:"percent"`
	} `json:"memory"`
	Disk struct {
		Percent float64 `json:"percent"`
	} `json:"disk"`
	Network struct {
		Connections int64 `json:"connections"`
	} `json:"network"`
}

// TelemetryResponse is returned to the agent after an ingest.
type TelemetryResponse struct {
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	AgentsUpdated     int       `json:"agents_updated"`
	MetricsAccepted   int       `json:"metrics_accepted"`
	ThreatsDetected   int       `json:"threats_detected"`
	ThreatsAccepted   int       `json:"threats_accepted"`
	ThreatsRejected   int       `json:"threats_rejected"`
	ProcessesAccepted int       `json:"processes_accepted"`
	ProcessesDropped  int       `json:"processes_dropped"`
	ServerTime        time.Time `json:"server_time"`
	Error             string    `json:"error,omitempty"`
}

// Update event types delivered to dashboard subscribers.
const (
	EventConnected       = "connected"
	EventTelemetryUpdate = "telemetry_update"
	EventAgentOffline    = "agent_offline"
)

// UpdateEvent is the notification pushed to live subscribers.
type UpdateEvent struct {
	Type         string          `json:"type"`
	AgentID      string          `json:"agent_id,omitempty"`
	Hostname     string          `json:"hostname,omitempty"`
	Metrics      json.RawMessage `json:"metrics,omitempty"`
	ThreatsCount int             `json:"threats_count"`
	Timestamp    time.Time       `json:"timestamp"`
}
