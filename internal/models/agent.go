package models

import (
	"time"

	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
)

// AgentStatus represents the liveness status of an agent.
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent reported within the liveness timeout.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusOffline indicates the agent has been silent for longer than the liveness timeout.
	AgentStatusOffline AgentStatus = "offline"
)

// HealthStatus is the verdict of the fleet health evaluation.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusUnknown  HealthStatus = "unknown"
)

// Agent is one monitored endpoint.
type Agent struct {
	ID           string      `json:"id"`
	Hostname     string      `json:"hostname"`
	Platform     string      `json:"platform,omitempty"`
	Architecture string      `json:"architecture,omitempty"`
	OSRelease    string      `json:"os_release,omitempty"`
	Version      string      `json:"version,omitempty"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	Status       AgentStatus `json:"status"`
}

// NewAgentFromInfo builds an online agent record from a payload's agent_info
// block, observed at now.
func NewAgentFromInfo(info pkgmodels.AgentInfo, now time.Time) *Agent {
	return &Agent{
		ID:           info.ID,
		Hostname:     info.Hostname,
		Platform:     info.Platform,
		Architecture: info.Architecture,
		OSRelease:    info.OSRelease,
		Version:      info.Version,
		FirstSeen:    now,
		LastSeen:     now,
		Status:       AgentStatusOnline,
	}
}

// SilentFor returns how long the agent has been silent as of now.
func (a *Agent) SilentFor(now time.Time) time.Duration {
	return now.Sub(a.LastSeen)
}
