package storage

import "time"

// ExecutionStatus is the lifecycle state of one agent execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusTimeout   ExecutionStatus = "timeout"
)

// Terminal reports whether the status is a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// ExecutionRecord is one stored agent run. Records are never deleted;
// a restart supersedes the original with a new record under a new id.
type ExecutionRecord struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	AgentID      string          `json:"agent_id" db:"agent_id"`
	SessionID    string          `json:"session_id,omitempty" db:"session_id"`
	DeploymentID string          `json:"deployment_id,omitempty" db:"deployment_id"`
	Status       ExecutionStatus `json:"status" db:"status"`
	InputData    map[string]any  `json:"input_data" db:"input_data"`
	OutputData   map[string]any  `json:"output_data,omitempty" db:"output_data"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	TimeoutSecs  int             `json:"timeout_seconds" db:"timeout_seconds"`
	TokensUsed   int             `json:"tokens_used" db:"tokens_used"`
	Cost         float64         `json:"cost" db:"cost"`
	DurationMS   int64           `json:"execution_time_ms" db:"execution_time_ms"`
	CreatedBy    string          `json:"created_by,omitempty" db:"created_by"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// ExecutionUpdate is a partial update applied to an execution row.
// Nil fields are left untouched.
type ExecutionUpdate struct {
	Status       *ExecutionStatus
	OutputData   map[string]any
	ErrorMessage *string
	TokensUsed   *int
	Cost         *float64
	DurationMS   *int64
	CompletedAt  *time.Time
}

// AgentRecord is the administrative agent definition. The orchestrator
// snapshots the config fields at start so edits never change an
// in-flight run.
type AgentRecord struct {
	ID                string  `json:"id" db:"id"`
	TenantID          string  `json:"tenant_id" db:"tenant_id"`
	Name              string  `json:"name" db:"name"`
	Status            string  `json:"status" db:"status"` // active, disabled, archived
	Provider          string  `json:"provider" db:"provider"`
	Model             string  `json:"model" db:"model"`
	Temperature       float64 `json:"temperature" db:"temperature"`
	MaxTokens         int     `json:"max_tokens" db:"max_tokens"`
	SystemPrompt      string  `json:"system_prompt,omitempty" db:"system_prompt"`
	MemoryEnabled     bool    `json:"memory_enabled" db:"memory_enabled"`
	GuardrailsEnabled bool    `json:"guardrails_enabled" db:"guardrails_enabled"`
}

// Active reports whether the agent may accept new executions.
func (a *AgentRecord) Active() bool {
	return a.Status == "active"
}

// ViolationRecord stores a guardrail violation for audit.
type ViolationRecord struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	UserID        string    `json:"user_id,omitempty" db:"user_id"`
	AgentID       string    `json:"agent_id,omitempty" db:"agent_id"`
	ViolationType string    `json:"violation_type" db:"violation_type"`
	RiskLevel     string    `json:"risk_level" db:"risk_level"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	ContentPrefix string    `json:"content_prefix,omitempty" db:"content_prefix"`
	Sanitized     string    `json:"sanitized,omitempty" db:"sanitized"`
	Source        string    `json:"source" db:"source"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	Resolved      bool      `json:"resolved" db:"resolved"`
}

// MemoryEntry is one stored conversation memory.
type MemoryEntry struct {
	ID        string         `json:"id" db:"id"`
	AgentID   string         `json:"agent_id" db:"agent_id"`
	SessionID string         `json:"session_id,omitempty" db:"session_id"`
	Content   string         `json:"content" db:"content"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for listing executions.
type ExecutionFilter struct {
	TenantID string
	AgentID  string
	Status   ExecutionStatus
	Limit    int
	Offset   int
}
