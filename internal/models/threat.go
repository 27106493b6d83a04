package models

import (
	"strings"
	"time"
)

// Severity is the ordered importance of a threat.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// NormalizeSeverity lowercases a reported severity. Values outside the
// known scale are kept as reported and rank 0; a missing severity stays empty.
func NormalizeSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether s is one of the four ranked severities.
func (s Severity) Known() bool {
	return s.Rank() > 0
}

// ThreatStatus is the operator-driven lifecycle state of a threat.
type ThreatStatus string

const (
	// ThreatStatusActive is the state every newly ingested threat starts in.
	ThreatStatusActive ThreatStatus = "active"
	// ThreatStatusInvestigating indicates an operator is looking at the threat.
	ThreatStatusInvestigating ThreatStatus = "investigating"
	// ThreatStatusFalsePositive indicates the threat was dismissed.
	ThreatStatusFalsePositive ThreatStatus = "false_positive"
	// ThreatStatusResolved indicates the threat has been dealt with.
	ThreatStatusResolved ThreatStatus = "resolved"
)

// Valid reports whether s is a known threat status.
func (s ThreatStatus) Valid() bool {
	switch s {
	case ThreatStatusActive, ThreatStatusInvestigating, ThreatStatusFalsePositive, ThreatStatusResolved:
		return true
	}
	return false
}

// ThreatEvent is a detected threat, keyed by the agent-assigned id.
type ThreatEvent struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agent_id"`
	Type        string       `json:"type"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      ThreatStatus `json:"status"`
	Source      string       `json:"source,omitempty"`
	// Hostname is filled in by listings that join the owning agent.
	Hostname string `json:"hostname,omitempty"`
}
