package models

// ConfigResponse represents the enforcement configuration record.
// Stored is false when the hook is running on defaults.
type ConfigResponse struct {
	Mode   string `json:"mode"`
	Target string `json:"target"`
	Stored bool   `json:"stored"`
}

// ConfigUpdateRequest replaces the configuration record
type ConfigUpdateRequest struct {
	Mode   string `json:"mode" binding:"required,oneof=monitor block enforce"`
	Target string `json:"target" binding:"required,oneof=host container"`
}
