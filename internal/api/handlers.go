package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"agent-orchestrator/internal/guardrails"
	"agent-orchestrator/internal/monitor"
	"agent-orchestrator/internal/orchestrator"
	"agent-orchestrator/internal/storage"
)

const defaultTenant = "default"

// ExecutionLister is the read-side query surface the handlers need
// beyond what the orchestrator exposes. Both storage.DB and
// storage.MemStore satisfy it.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.ExecutionRecord, error)
}

type Handlers struct {
	manager    *orchestrator.Manager
	guardrails *guardrails.Service
	lister     ExecutionLister
	metrics    *monitor.Metrics
}

func NewHandlers(manager *orchestrator.Manager, gr *guardrails.Service, lister ExecutionLister, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		manager:    manager,
		guardrails: gr,
		lister:     lister,
		metrics:    metrics,
	}
}

// tenantFrom resolves the tenant for a request. Single-tenant installs
// omit the header and land on the default tenant.
func tenantFrom(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenant
}

func (h *Handlers) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.AgentID == "" {
		writeError(w, "agent_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	tenant := tenantFrom(r)
	orch := h.manager.Orchestrator(tenant)

	id, err := orch.Start(r.Context(), orchestrator.StartRequest{
		AgentID:        req.AgentID,
		InputData:      req.InputData,
		SessionID:      req.SessionID,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAgentNotFound):
			writeError(w, err.Error(), "AGENT_NOT_FOUND", http.StatusNotFound, r)
		case errors.Is(err, orchestrator.ErrAgentNotActive):
			writeError(w, err.Error(), "AGENT_NOT_ACTIVE", http.StatusConflict, r)
		case errors.Is(err, orchestrator.ErrInvalidInput):
			writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("start execution failed")
			writeError(w, "failed to start execution", "INTERNAL", http.StatusInternalServerError, r)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, StartExecutionResponse{
		ExecutionID: id,
		Status:      string(storage.StatusPending),
	})
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	orch := h.manager.Orchestrator(tenantFrom(r))
	snap, err := orch.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrExecutionNotFound) {
			writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("status query failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) HandleStopExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	orch := h.manager.Orchestrator(tenantFrom(r))
	stopped := orch.Stop(id)

	// Stop on an unknown or already-terminal execution reports false
	// rather than an error; the caller's goal (no live execution with
	// this id) holds either way.
	writeJSON(w, http.StatusOK, StopExecutionResponse{ExecutionID: id, Stopped: stopped})
}

func (h *Handlers) HandleRestartExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	orch := h.manager.Orchestrator(tenantFrom(r))
	newID, err := orch.Restart(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrExecutionNotFound):
			writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		case orchestrator.IsAdmissionError(err):
			writeError(w, err.Error(), "INVALID_REQUEST", http.StatusConflict, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("restart failed")
			writeError(w, "restart failed", "INTERNAL", http.StatusInternalServerError, r)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, StartExecutionResponse{
		ExecutionID: newID,
		Status:      string(storage.StatusPending),
	})
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, "storage not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.ExecutionFilter{
		TenantID: tenantFrom(r),
		AgentID:  r.URL.Query().Get("agent_id"),
		Status:   storage.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:    100,
	}

	execs, err := h.lister.ListExecutions(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("list query failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if execs == nil {
		execs = []storage.ExecutionRecord{}
	}

	writeJSON(w, http.StatusOK, execs)
}

func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Content == "" {
		writeError(w, "content is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	tenant := tenantFrom(r)
	var result guardrails.ValidationResult
	switch req.Source {
	case "", "input":
		result = h.guardrails.ValidateAgentInput(r.Context(), tenant, req.AgentID, req.UserID, req.SessionID, req.Content)
	case "output":
		result = h.guardrails.ValidateAgentOutput(r.Context(), tenant, req.AgentID, req.UserID, req.SessionID, req.Content)
	default:
		writeError(w, "source must be \"input\" or \"output\"", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleCheckPolicy(w http.ResponseWriter, r *http.Request) {
	var req CheckPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Action == "" || req.Resource == "" {
		writeError(w, "action and resource are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	writeJSON(w, http.StatusOK, h.guardrails.CheckAgentPolicy(tenantFrom(r), req.Action, req.Resource))
}

func (h *Handlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
