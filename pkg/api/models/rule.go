package models

// RuleRequest represents a CIDR rule creation request. RuleID 0 picks
// the next free id.
type RuleRequest struct {
	RuleID      uint32 `json:"rule_id"`
	CIDR        string `json:"cidr" binding:"required"`
	Action      string `json:"action" binding:"required,oneof=allow deny block"`
	Description string `json:"description"`
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	RuleID      uint32 `json:"rule_id"`
	CIDR        string `json:"cidr"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// RuleListResponse represents a list of rules
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Count int            `json:"count"`
}

// CommandRequest adds an exempt command
type CommandRequest struct {
	Name string `json:"name" binding:"required"`
}

// CommandListResponse lists exempt commands
type CommandListResponse struct {
	Commands []string `json:"commands"`
	Count    int      `json:"count"`
}
