package models

import "time"

// ProcessSnapshot is one row of an agent's top-process list.
type ProcessSnapshot struct {
	ID            int64     `json:"id"`
	AgentID       string    `json:"agent_id"`
	PID           int       `json:"pid"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	Timestamp     time.Time `json:"timestamp"`
}
