package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"agent-orchestrator/internal/guardrails"
	"agent-orchestrator/internal/monitor"
	"agent-orchestrator/internal/storage"
)

const (
	memoryRecallLimit  = 10
	persistTimeout     = 5 * time.Second
	stopAckGracePeriod = 10 * time.Second
)

// Orchestrator manages the lifecycle of agent executions for one
// tenant: creation, concurrent execution, cancellation, timeout,
// completion, restart, and stale-run cleanup.
type Orchestrator struct {
	tenantID   string
	store      PersistenceStore
	guardrails *guardrails.Service
	llm        LLMClient
	memory     MemoryStore
	costs      CostEstimator
	registry   *Registry
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// Config holds the orchestrator's dependencies and limits.
type Config struct {
	TenantID       string
	Store          PersistenceStore
	Guardrails     *guardrails.Service
	LLM            LLMClient
	Memory         MemoryStore // optional; nil disables memory even for memory-enabled agents
	Costs          CostEstimator
	Metrics        *monitor.Metrics // optional
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// New creates an orchestrator for one tenant.
func New(cfg Config) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 30 * time.Minute
	}
	if cfg.Costs == nil {
		cfg.Costs = NewFlatRateEstimator()
	}
	return &Orchestrator{
		tenantID:       cfg.TenantID,
		store:          cfg.Store,
		guardrails:     cfg.Guardrails,
		llm:            cfg.LLM,
		memory:         cfg.Memory,
		costs:          cfg.Costs,
		registry:       NewRegistry(),
		metrics:        cfg.Metrics,
		tracer:         monitor.NewTracer(),
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
	}
}

// StartRequest is the input to Start.
type StartRequest struct {
	AgentID        string
	InputData      map[string]any
	SessionID      string
	TimeoutSeconds int
	CreatedBy      string
}

// Start admits and schedules a new execution, returning its id without
// waiting for completion. Admission failures (unknown or inactive
// agent, malformed input) are returned synchronously and no execution
// record is created.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	agent, err := o.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
		}
		return "", &ExecutionError{Op: "load_agent", Err: err}
	}
	if !agent.Active() {
		return "", fmt.Errorf("%w: %s is %s", ErrAgentNotActive, agent.ID, agent.Status)
	}

	if promptFrom(req.InputData) == "" {
		return "", fmt.Errorf("%w: input data has no prompt", ErrInvalidInput)
	}

	timeout := o.resolveTimeout(req.TimeoutSeconds)
	execID := uuid.New().String()

	rec := &storage.ExecutionRecord{
		ID:          execID,
		TenantID:    agent.TenantID,
		AgentID:     agent.ID,
		SessionID:   req.SessionID,
		Status:      storage.StatusPending,
		InputData:   req.InputData,
		TimeoutSecs: int(timeout.Seconds()),
		CreatedBy:   req.CreatedBy,
		StartedAt:   time.Now().UTC(),
	}
	if _, err := o.store.CreateExecution(ctx, rec); err != nil {
		return "", &ExecutionError{ExecID: execID, Op: "create_execution", Err: err}
	}

	// The time budget starts at scheduling, not at the first pipeline
	// step. The run context derives from Background so an API request
	// disconnecting cannot cancel the execution.
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	entry := newExecutionContext(execID, agent, req.InputData, req.SessionID, timeout, runCtx, cancel)
	o.registry.Register(entry)

	running := storage.StatusRunning
	if err := o.store.UpdateExecution(ctx, execID, storage.ExecutionUpdate{Status: &running}); err != nil {
		log.Warn().Err(err).Str("exec_id", execID).Msg("failed to persist running status")
	}

	if o.metrics != nil {
		o.metrics.ActiveExecutions.Inc()
	}

	go o.run(runCtx, entry)

	log.Info().
		Str("exec_id", execID).
		Str("tenant_id", agent.TenantID).
		Str("agent_id", agent.ID).
		Dur("timeout", timeout).
		Msg("execution scheduled")

	return execID, nil
}

// run is the cancellable unit of work for one execution. It owns all
// status transitions after RUNNING.
func (o *Orchestrator) run(ctx context.Context, entry *ExecutionContext) {
	logger := log.With().
		Str("exec_id", entry.ID).
		Str("tenant_id", entry.TenantID).
		Str("agent_id", entry.AgentID).
		Logger()

	spanCtx, span := o.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecutionID.String(entry.ID),
		monitor.AttrTenantID.String(entry.TenantID),
		monitor.AttrAgentID.String(entry.AgentID),
		monitor.AttrProvider.String(entry.Agent.Provider),
	)

	// Cleanup is unconditional: even if the terminal persist fails the
	// context must leave the registry, or the execution would look live
	// forever.
	defer func() {
		o.registry.Claim(entry.ID)
		entry.finish()
		entry.cancel()
		span.End()
		if o.metrics != nil {
			o.metrics.ActiveExecutions.Dec()
		}
	}()

	output, tokens, err := o.pipeline(spanCtx, entry, logger)
	duration := time.Since(entry.StartedAt)

	status, errMsg := classifyOutcome(ctx, err, entry.Timeout)
	if forcedStatus, forcedMsg, forced := entry.ForcedOutcome(); forced && status != storage.StatusCompleted {
		// The staleness sweep claimed this entry and pinned its terminal
		// status before cancelling. The persist below is still the only
		// terminal write for this row.
		status, errMsg = forcedStatus, forcedMsg
	}
	span.SetAttributes(monitor.AttrStatus.String(string(status)))

	upd := storage.ExecutionUpdate{
		Status:      &status,
		DurationMS:  int64Ptr(duration.Milliseconds()),
		CompletedAt: timePtr(time.Now().UTC()),
	}
	if status == storage.StatusCompleted {
		cost := o.costs.EstimateCost(tokens, modelConfigFor(&entry.Agent))
		upd.OutputData = output
		upd.TokensUsed = &tokens
		upd.Cost = &cost
		if o.metrics != nil {
			o.metrics.RecordUsage(tokens, cost)
		}
	} else {
		upd.ErrorMessage = &errMsg
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if perr := o.store.UpdateExecution(persistCtx, entry.ID, upd); perr != nil {
		logger.Error().Err(perr).Str("status", string(status)).Msg("failed to persist terminal status")
	}

	if o.metrics != nil {
		o.metrics.RecordExecution(entry.Agent.Provider, string(status), duration.Seconds())
	}

	logger.Info().
		Str("status", string(status)).
		Dur("duration", duration).
		Int("tokens", tokens).
		Msg("execution finished")
}

// pipeline executes the ordered steps of one run. It checks for
// cancellation at every suspension point and unwinds without running
// later steps once the context is done.
func (o *Orchestrator) pipeline(ctx context.Context, entry *ExecutionContext, logger zerolog.Logger) (map[string]any, int, error) {
	agent := &entry.Agent
	prompt := promptFrom(entry.Input)
	if o.metrics != nil {
		o.metrics.InputSizeBytes.Observe(float64(len(prompt)))
	}

	// Step 1: guardrail input boundary (fail-closed).
	if agent.GuardrailsEnabled {
		res := o.guardrails.ValidateAgentInput(ctx, entry.TenantID, agent.ID, "", entry.SessionID, prompt)
		o.recordValidation(ctx, "input", res)
		if !res.IsValid {
			return nil, 0, &GuardrailError{Stage: "input", Violations: res.Violations}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	// Step 2: memory recall, best-effort.
	var memoryContext []string
	if agent.MemoryEnabled && o.memory != nil {
		entries, err := o.memory.RetrieveMemories(ctx, agent.ID, prompt, memoryRecallLimit)
		if err != nil {
			// Non-fatal: the run continues without prior context.
			logger.Warn().Err(err).Msg("memory retrieval failed, continuing without context")
		} else {
			for _, e := range entries {
				memoryContext = append(memoryContext, e.Content)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	// Step 3: provider call. This step owns most of the time budget.
	messages := composeMessages(agent, memoryContext, prompt)
	result, err := o.llm.Generate(ctx, messages, modelConfigFor(agent))
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if o.metrics != nil {
		o.metrics.OutputSizeBytes.Observe(float64(len(result.Content)))
	}

	// Step 4: guardrail output boundary (fail-closed).
	if agent.GuardrailsEnabled {
		res := o.guardrails.ValidateAgentOutput(ctx, entry.TenantID, agent.ID, "", entry.SessionID, result.Content)
		o.recordValidation(ctx, "output", res)
		if !res.IsValid {
			return nil, 0, &GuardrailError{Stage: "output", Violations: res.Violations}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	// Step 5: memory store, best-effort, only with a session.
	if agent.MemoryEnabled && o.memory != nil && entry.SessionID != "" {
		memErr := o.memory.StoreMemory(ctx, &storage.MemoryEntry{
			ID:        uuid.New().String(),
			AgentID:   agent.ID,
			SessionID: entry.SessionID,
			Content:   fmt.Sprintf("user: %s\nassistant: %s", prompt, result.Content),
			Metadata:  map[string]any{"execution_id": entry.ID},
			CreatedAt: time.Now().UTC(),
		})
		if memErr != nil {
			logger.Warn().Err(memErr).Msg("memory store failed, result unaffected")
		}
	}

	output := map[string]any{
		"response": result.Content,
		"model":    agent.Model,
		"provider": agent.Provider,
	}
	return output, result.TokensUsed, nil
}

// Stop cancels a live execution and waits for its unit of work to
// acknowledge. Returns false when the id is not live (unknown or
// already terminal), making repeated stops idempotent.
func (o *Orchestrator) Stop(id string) bool {
	entry, ok := o.registry.Claim(id)
	if !ok {
		return false
	}

	entry.Cancel()

	select {
	case <-entry.Done():
	case <-time.After(stopAckGracePeriod):
		log.Warn().Str("exec_id", id).Msg("timed out waiting for execution to acknowledge stop")
	}

	log.Info().Str("exec_id", id).Msg("execution stopped")
	return true
}

// Restart stops an execution if it is still live and schedules a fresh
// one with the original's agent, input, and session. The original
// record is never mutated; the new execution gets a new id.
func (o *Orchestrator) Restart(ctx context.Context, id string) (string, error) {
	rec, err := o.store.LoadExecution(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return "", &ExecutionError{ExecID: id, Op: "load_execution", Err: err}
	}

	if _, live := o.registry.Get(id); live {
		o.Stop(id)
	}

	return o.Start(ctx, StartRequest{
		AgentID:        rec.AgentID,
		InputData:      rec.InputData,
		SessionID:      rec.SessionID,
		TimeoutSeconds: rec.TimeoutSecs,
		CreatedBy:      rec.CreatedBy,
	})
}

// StatusSnapshot merges the persisted execution fields with live
// progress for callers polling the fire-and-poll API.
type StatusSnapshot struct {
	ExecutionID     string                  `json:"execution_id"`
	AgentID         string                  `json:"agent_id"`
	Status          storage.ExecutionStatus `json:"status"`
	StartedAt       time.Time               `json:"started_at"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	ExecutionTimeMS int64                   `json:"execution_time_ms"`
	TokensUsed      int                     `json:"tokens_used"`
	Cost            float64                 `json:"cost"`
	OutputData      map[string]any          `json:"output_data,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	IsActive        bool                    `json:"is_active"`
	Progress        *Progress               `json:"progress,omitempty"`
}

// Status returns the merged persisted + live view of an execution.
func (o *Orchestrator) Status(ctx context.Context, id string) (*StatusSnapshot, error) {
	rec, err := o.store.LoadExecution(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, &ExecutionError{ExecID: id, Op: "load_execution", Err: err}
	}

	snap := &StatusSnapshot{
		ExecutionID:     rec.ID,
		AgentID:         rec.AgentID,
		Status:          rec.Status,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		ExecutionTimeMS: rec.DurationMS,
		TokensUsed:      rec.TokensUsed,
		Cost:            rec.Cost,
		OutputData:      rec.OutputData,
		ErrorMessage:    rec.ErrorMessage,
	}

	if entry, ok := o.registry.Get(id); ok {
		snap.IsActive = true
		p := entry.Progress(time.Now().UTC())
		snap.Progress = &p
	}

	return snap, nil
}

// CleanupStale forces executions stuck in pending/running past the
// given age into timeout. It exists because process restarts or crashed
// units of work can otherwise leave rows permanently "running".
func (o *Orchestrator) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := o.store.QueryStaleExecutions(ctx, o.tenantID,
		[]storage.ExecutionStatus{storage.StatusPending, storage.StatusRunning}, cutoff)
	if err != nil {
		return 0, &ExecutionError{Op: "query_stale", Err: err}
	}

	count := 0
	for _, rec := range stale {
		status := storage.StatusTimeout
		msg := fmt.Sprintf("execution marked stale after exceeding %s in %s state", maxAge, rec.Status)

		if entry, ok := o.registry.Claim(rec.ID); ok {
			// The unit of work is still live and owns the terminal
			// persist. Pin its outcome and cancel; writing timeout here
			// would race the goroutine's own terminal write.
			entry.ForceOutcome(status, msg)
			entry.Cancel()
		} else if err := o.store.UpdateExecution(ctx, rec.ID, storage.ExecutionUpdate{
			Status:       &status,
			ErrorMessage: &msg,
			CompletedAt:  timePtr(time.Now().UTC()),
		}); err != nil {
			log.Error().Err(err).Str("exec_id", rec.ID).Msg("failed to mark stale execution")
			continue
		}

		count++
		log.Warn().
			Str("exec_id", rec.ID).
			Str("previous_status", string(rec.Status)).
			Time("started_at", rec.StartedAt).
			Msg("stale execution forced to timeout")
	}

	if o.metrics != nil && count > 0 {
		o.metrics.StaleExecutionsSwept.Add(float64(count))
	}
	return count, nil
}

// ActiveCount returns the number of live executions for this tenant.
func (o *Orchestrator) ActiveCount() int {
	return o.registry.Len()
}

// TenantID returns the tenant this orchestrator serves.
func (o *Orchestrator) TenantID() string {
	return o.tenantID
}

func (o *Orchestrator) resolveTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return o.defaultTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > o.maxTimeout {
		return o.maxTimeout
	}
	return timeout
}

func (o *Orchestrator) recordValidation(ctx context.Context, source string, res guardrails.ValidationResult) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			monitor.AttrRiskLevel.String(res.RiskLevel.String()),
			monitor.AttrRiskScore.Float64(res.RiskScore),
		)
	}

	if o.metrics == nil {
		return
	}
	o.metrics.RecordValidation(source, res.RiskLevel.String(), res.ProcessingTime.Seconds())
	if !res.IsValid {
		for _, t := range res.ViolationTypes {
			o.metrics.RecordViolation(string(t))
		}
	}
}

// classifyOutcome maps the pipeline error to a terminal status and
// message. Cancellation and timeout share a mechanism but not a
// status, and only the run context's own expiry counts as a timeout:
// deadline errors surfacing from nested calls (a provider HTTP client
// carries its own request budget) are provider failures.
func classifyOutcome(ctx context.Context, err error, timeout time.Duration) (storage.ExecutionStatus, string) {
	switch {
	case err == nil:
		return storage.StatusCompleted, ""
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return storage.StatusTimeout, fmt.Sprintf("execution exceeded %.0fs timeout", timeout.Seconds())
	case errors.Is(ctx.Err(), context.Canceled):
		return storage.StatusCancelled, "execution cancelled by request"
	default:
		return storage.StatusFailed, err.Error()
	}
}

func composeMessages(agent *storage.AgentRecord, memoryContext []string, prompt string) []Message {
	messages := make([]Message, 0, 3)
	if agent.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: agent.SystemPrompt})
	}
	if len(memoryContext) > 0 {
		messages = append(messages, Message{
			Role:    "system",
			Content: "Relevant prior context:\n- " + strings.Join(memoryContext, "\n- "),
		})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return messages
}

func modelConfigFor(agent *storage.AgentRecord) ModelConfig {
	return ModelConfig{
		Provider:    agent.Provider,
		Model:       agent.Model,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}
}

// promptFrom extracts the user prompt from the input document.
func promptFrom(input map[string]any) string {
	for _, key := range []string{"prompt", "input", "query"} {
		if v, ok := input[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func int64Ptr(v int64) *int64        { return &v }
func timePtr(t time.Time) *time.Time { return &t }
