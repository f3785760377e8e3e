package models

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// ErrorResponse is the body of every failed API call. RequestID echoes
// the X-Request-ID the response carries, so a client error can be
// matched to the agent's request log.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Code      int         `json:"code"`
	RequestID string      `json:"request_id,omitempty"`
}
