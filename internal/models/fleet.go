package models

// FleetSummary holds the dashboard headline numbers.
type FleetSummary struct {
	TotalAgents   int     `json:"total_agents"`
	OnlineAgents  int     `json:"online_agents"`
	ActiveThreats int     `json:"active_threats"`
	AvgCPU        float64 `json:"avg_cpu"`
	AvgMemory     float64 `json:"avg_memory"`
}

// FleetAgent is one entry of the fleet listing.
type FleetAgent struct {
	*Agent
	LatestMetric  *MetricSample `json:"latest_metric,omitempty"`
	ActiveThreats int           `json:"active_threats"`
	Health        HealthStatus  `json:"health"`
}

// AgentDetail is the per-agent drill-down view.
type AgentDetail struct {
	Agent        *Agent             `json:"agent"`
	LatestMetric *MetricSample      `json:"latest_metric,omitempty"`
	Processes    []*ProcessSnapshot `json:"processes"`
	Health       HealthStatus       `json:"health"`
}
