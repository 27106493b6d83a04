package health

import (
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
)

// Thresholds defines the limits used to grade an agent.
type Thresholds struct {
	// Disk thresholds (percentage used)
	DiskWarning  float64 // Default: 80%
	DiskCritical float64 // Default: 90%

	// Memory thresholds (percentage used)
	MemoryWarning  float64 // Default: 85%
	MemoryCritical float64 // Default: 95%

	// CPU thresholds (percentage used)
	CPUWarning  float64 // Default: 80%
	CPUCritical float64 // Default: 95%

	// Silence thresholds
	HeartbeatWarning  time.Duration // Default: 5 minutes
	HeartbeatCritical time.Duration // Default: 15 minutes
}

// DefaultThresholds returns the default health thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarning:       80.0,
		DiskCritical:      90.0,
		MemoryWarning:     85.0,
		MemoryCritical:    95.0,
		CPUWarning:        80.0,
		CPUCritical:       95.0,
		HeartbeatWarning:  5 * time.Minute,
		HeartbeatCritical: 15 * time.Minute,
	}
}

// CheckResult is a graded agent with the reasons for the grade.
type CheckResult struct {
	Status       models.HealthStatus `json:"status"`
	Message      string              `json:"message"`
	Issues       []Issue             `json:"issues,omitempty"`
	CheckedAt    time.Time           `json:"checked_at"`
	MetricsStale bool                `json:"metrics_stale"`
}

// Issue is one threshold an agent crossed.
type Issue struct {
	Component string              `json:"component"` // disk, memory, cpu, heartbeat
	Severity  models.HealthStatus `json:"severity"`
	Message   string              `json:"message"`
	Value     float64             `json:"value,omitempty"`
	Threshold float64             `json:"threshold,omitempty"`
}

// Checker grades agents from their latest metric sample and silence.
type Checker struct {
	thresholds Thresholds
}

// NewChecker creates a new health checker with the given thresholds.
func NewChecker(thresholds Thresholds) *Checker {
	return &Checker{thresholds: thresholds}
}

// NewCheckerWithDefaults creates a new health checker with default thresholds.
func NewCheckerWithDefaults() *Checker {
	return NewChecker(DefaultThresholds())
}

// Thresholds returns the checker's thresholds.
func (c *Checker) Thresholds() Thresholds {
	return c.thresholds
}

// EvaluateSample grades a metric sample. A nil sample is unknown.
func (c *Checker) EvaluateSample(m *models.MetricSample, now time.Time) *CheckResult {
	result := &CheckResult{
		Status:    models.HealthStatusHealthy,
		CheckedAt: now,
		Issues:    make([]Issue, 0),
	}

	if m == nil {
		result.Status = models.HealthStatusUnknown
		result.Message = "No metrics available"
		return result
	}

	result.Issues = appendThreshold(result.Issues, "disk", m.DiskPercent,
		c.thresholds.DiskWarning, c.thresholds.DiskCritical,
		"Disk space running low", "Disk space critically low")
	result.Issues = appendThreshold(result.Issues, "memory", m.MemoryPercent,
		c.thresholds.MemoryWarning, c.thresholds.MemoryCritical,
		"Memory usage high", "Memory usage critically high")
	result.Issues = appendThreshold(result.Issues, "cpu", m.CPUPercent,
		c.thresholds.CPUWarning, c.thresholds.CPUCritical,
		"CPU usage high", "CPU usage critically high")

	result.Status = determineOverallStatus(result.Issues)
	result.Message = generateMessage(result.Status)
	return result
}

// Evaluate grades an agent from its latest sample and the time it was last
// seen. An agent without a sample is unknown unless its silence alone is
// critical.
func (c *Checker) Evaluate(m *models.MetricSample, lastSeen time.Time, now time.Time) *CheckResult {
	result := c.EvaluateSample(m, now)

	silent := now.Sub(lastSeen)
	switch {
	case lastSeen.IsZero():
		result.Issues = append(result.Issues, Issue{
			Component: "heartbeat",
			Severity:  models.HealthStatusWarning,
			Message:   "Agent has never reported",
		})
	case silent >= c.thresholds.HeartbeatCritical:
		result.Issues = append(result.Issues, Issue{
			Component: "heartbeat",
			Severity:  models.HealthStatusCritical,
			Message:   "Agent has not reported in over " + c.thresholds.HeartbeatCritical.String(),
			Value:     silent.Minutes(),
			Threshold: c.thresholds.HeartbeatCritical.Minutes(),
		})
		result.MetricsStale = true
	case silent >= c.thresholds.HeartbeatWarning:
		result.Issues = append(result.Issues, Issue{
			Component: "heartbeat",
			Severity:  models.HealthStatusWarning,
			Message:   "Agent heartbeat delayed",
			Value:     silent.Minutes(),
			Threshold: c.thresholds.HeartbeatWarning.Minutes(),
		})
	}

	status := determineOverallStatus(result.Issues)
	if m == nil && status != models.HealthStatusCritical {
		status = models.HealthStatusUnknown
	}
	result.Status = status
	result.Message = generateMessage(status)
	return result
}

// Status is Evaluate reduced to its verdict.
func (c *Checker) Status(m *models.MetricSample, lastSeen time.Time, now time.Time) models.HealthStatus {
	return c.Evaluate(m, lastSeen, now).Status
}

func appendThreshold(issues []Issue, component string, value, warning, critical float64, warnMsg, critMsg string) []Issue {
	switch {
	case value >= critical:
		return append(issues, Issue{
			Component: component,
			Severity:  models.HealthStatusCritical,
			Message:   critMsg,
			Value:     value,
			Threshold: critical,
		})
	case value >= warning:
		return append(issues, Issue{
			Component: component,
			Severity:  models.HealthStatusWarning,
			Message:   warnMsg,
			Value:     value,
			Threshold: warning,
		})
	}
	return issues
}

func determineOverallStatus(issues []Issue) models.HealthStatus {
	hasWarning := false
	for _, issue := range issues {
		switch issue.Severity {
		case models.HealthStatusCritical:
			return models.HealthStatusCritical
		case models.HealthStatusWarning:
			hasWarning = true
		}
	}
	if hasWarning {
		return models.HealthStatusWarning
	}
	return models.HealthStatusHealthy
}

func generateMessage(status models.HealthStatus) string {
	switch status {
	case models.HealthStatusHealthy:
		return "All systems operational"
	case models.HealthStatusWarning:
		return "Some metrics require attention"
	case models.HealthStatusCritical:
		return "Critical issues detected"
	default:
		return "Health status unknown"
	}
}

// StatusColor returns the dashboard color of a health status.
func StatusColor(status models.HealthStatus) string {
	switch status {
	case models.HealthStatusHealthy:
		return "green"
	case models.HealthStatusWarning:
		return "yellow"
	case models.HealthStatusCritical:
		return "red"
	default:
		return "gray"
	}
}
