package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrAgentNotActive    = errors.New("agent is not active")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrInvalidInput      = errors.New("invalid execution input")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// GuardrailError signals that content was rejected at the input or
// output boundary. It always results in a failed execution.
type GuardrailError struct {
	Stage      string // "input" or "output"
	Violations []string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("%s rejected by guardrails: %v", e.Stage, e.Violations)
}

// IsAdmissionError reports whether the error should be surfaced
// synchronously to the start caller instead of producing an execution.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrAgentNotActive) ||
		errors.Is(err, ErrInvalidInput)
}
