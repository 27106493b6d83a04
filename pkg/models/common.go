package models

// APIError represents a standard API error response.
type APIError struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ThreatStatusUpdate is the body of an operator threat status change.
type ThreatStatusUpdate struct {
	Status string `json:"status"`
}
