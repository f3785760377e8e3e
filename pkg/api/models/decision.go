package models

// DecisionRequest describes a hypothetical connection attempt
type DecisionRequest struct {
	Dst     string `json:"dst" binding:"required"`
	Port    uint16 `json:"port"`
	Src     string `json:"src"`
	Command string `json:"command" binding:"required"`
	PID     uint32 `json:"pid"`
	// Container evaluates the attempt as coming from a non-host
	// namespace; NamespaceID overrides the namespace used.
	Container   bool   `json:"container"`
	NamespaceID uint64 `json:"namespace_id"`
	// Record runs the attempt through the live decision path: counters
	// move and a block is audited.
	Record bool `json:"record"`
}

// DecisionResponse is the evaluated outcome
type DecisionResponse struct {
	Computed  string `json:"computed"`
	Returned  string `json:"returned"`
	Reason    string `json:"reason"`
	Monitored bool   `json:"monitored"`
	Audited   bool   `json:"audited,omitempty"`
	Published bool   `json:"published,omitempty"`
}
