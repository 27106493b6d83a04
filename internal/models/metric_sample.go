package models

import (
	"encoding/json"
	"time"
)

// MetricSample is one resource-usage observation of an agent.
type MetricSample struct {
	ID                 int64           `json:"id"`
	AgentID            string          `json:"agent_id"`
	Timestamp          time.Time       `json:"timestamp"`
	CPUPercent         float64         `json:"cpu_percent"`
	MemoryPercent      float64         `json:"memory_percent"`
	DiskPercent        float64         `json:"disk_percent"`
	NetworkConnections int64           `json:"network_connections"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// MetricQuery selects samples at or after Since, optionally for one agent.
type MetricQuery struct {
	AgentID string
	Since   time.Time
}

// TimelineBucket aggregates the samples of one UTC hour.
type TimelineBucket struct {
	Time       time.Time `json:"time"`
	AvgCPU     float64   `json:"avg_cpu"`
	AvgMemory  float64   `json:"avg_memory"`
	AvgDisk    float64   `json:"avg_disk"`
	DataPoints int       `json:"data_points"`
}
