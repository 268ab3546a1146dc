package orchestrator

import (
	"context"
	"sync"
	"time"

	"agent-orchestrator/internal/storage"
)

// ExecutionContext ties a live execution id to its cancellable unit of
// work, its time budget, and the config snapshot used to compute
// progress. It is ephemeral: created on start, destroyed on the first
// terminal transition.
type ExecutionContext struct {
	ID        string
	TenantID  string
	AgentID   string
	SessionID string
	Agent     storage.AgentRecord // resolved config snapshot
	Input     map[string]any
	Timeout   time.Duration
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	forced       bool
	forcedStatus storage.ExecutionStatus
	forcedMsg    string
}

func newExecutionContext(id string, agent *storage.AgentRecord, input map[string]any, sessionID string, timeout time.Duration, ctx context.Context, cancel context.CancelFunc) *ExecutionContext {
	return &ExecutionContext{
		ID:        id,
		TenantID:  agent.TenantID,
		AgentID:   agent.ID,
		SessionID: sessionID,
		Agent:     *agent,
		Input:     input,
		Timeout:   timeout,
		StartedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation of the unit of work.
func (e *ExecutionContext) Cancel() {
	e.cancel()
}

// ForceOutcome pins the terminal status the unit of work must persist.
// The staleness sweep uses it after claiming a live entry: the run
// goroutine still performs the single terminal write, but the claimed
// outcome wins over whatever its own cancellation would classify as.
func (e *ExecutionContext) ForceOutcome(status storage.ExecutionStatus, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forced = true
	e.forcedStatus = status
	e.forcedMsg = msg
}

// ForcedOutcome returns the pinned terminal status, if any.
func (e *ExecutionContext) ForcedOutcome() (storage.ExecutionStatus, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forcedStatus, e.forcedMsg, e.forced
}

// Done is closed once the unit of work has fully unwound and persisted
// its terminal state.
func (e *ExecutionContext) Done() <-chan struct{} {
	return e.done
}

func (e *ExecutionContext) finish() {
	close(e.done)
}

// Progress describes how much of the timeout budget an active
// execution has consumed.
type Progress struct {
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
	TimeoutSeconds     float64 `json:"timeout_seconds"`
	ProgressPercentage float64 `json:"progress_percentage"`
	RemainingSeconds   float64 `json:"remaining_seconds"`
}

// Progress reports elapsed/remaining time against the timeout budget.
// Percentage is capped at 100, remaining is floored at 0.
func (e *ExecutionContext) Progress(now time.Time) Progress {
	elapsed := now.Sub(e.StartedAt).Seconds()
	budget := e.Timeout.Seconds()

	pct := 0.0
	if budget > 0 {
		pct = elapsed / budget * 100
	}
	if pct > 100 {
		pct = 100
	}

	remaining := budget - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return Progress{
		ElapsedSeconds:     elapsed,
		TimeoutSeconds:     budget,
		ProgressPercentage: pct,
		RemainingSeconds:   remaining,
	}
}

// Registry is the in-memory table of live executions. Access is
// linearizable per execution id: Claim atomically removes an entry, so
// a racing stop and natural completion cannot both win — the first
// terminal transition claims the context and the loser's cleanup is a
// no-op.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ExecutionContext
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*ExecutionContext)}
}

// Register inserts a context under its execution id.
func (r *Registry) Register(e *ExecutionContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
}

// Get returns the live context for an id, if any.
func (r *Registry) Get(id string) (*ExecutionContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Claim atomically removes and returns the context for an id. Exactly
// one caller wins for a given id.
func (r *Registry) Claim(id string) (*ExecutionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// Len returns the number of live executions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ActiveIDs lists the ids of live executions.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
