package api

// StartExecutionRequest is the API-level request to start an agent execution.
type StartExecutionRequest struct {
	AgentID        string         `json:"agent_id"`
	InputData      map[string]any `json:"input_data"`
	SessionID      string         `json:"session_id,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
}

// StartExecutionResponse acknowledges a scheduled execution.
type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

// StopExecutionResponse reports the outcome of a stop request.
type StopExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	Stopped     bool   `json:"stopped"`
}

// ValidateRequest runs content through the guardrails engine without an
// execution.
type ValidateRequest struct {
	Content   string `json:"content"`
	Source    string `json:"source"` // "input" or "output"
	AgentID   string `json:"agent_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// CheckPolicyRequest evaluates a tenant policy for an action/resource
// pair.
type CheckPolicyRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
