package models

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"` // "ok", "degraded", "down"
	Message string `json:"message"`
}

// StatusResponse represents detailed system status
type StatusResponse struct {
	Status       string              `json:"status"` // "ok", "degraded"
	Version      string              `json:"version"`
	Mode         string              `json:"mode"`
	Target       string              `json:"target"`
	ConfigStored bool                `json:"config_stored"`
	DataPlane    DataPlaneStatus     `json:"data_plane"`
	API          APIStatus           `json:"api"`
	Statistics   *StatisticsResponse `json:"statistics,omitempty"`
	RuleCount    int                 `json:"rule_count"`
	CommandCount int                 `json:"command_count"`
	Uptime       int64               `json:"uptime_seconds"`
}

// DataPlaneStatus represents data plane status
type DataPlaneStatus struct {
	Kind    string `json:"kind"`   // "kernel", "in-process"
	Status  string `json:"status"` // "running", "idle"
	Message string `json:"message"`
}

// APIStatus represents API server status
type APIStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
