package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory store with the same surface as DB. It backs
// unit tests and DSN-less development runs.
type MemStore struct {
	mu         sync.RWMutex
	executions map[string]*ExecutionRecord
	agents     map[string]*AgentRecord
	violations []ViolationRecord
	memories   []MemoryEntry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		executions: make(map[string]*ExecutionRecord),
		agents:     make(map[string]*AgentRecord),
	}
}

// PutAgent registers an agent definition.
func (m *MemStore) PutAgent(agent *AgentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *agent
	m.agents[agent.ID] = &cp
}

// GetAgent retrieves an agent definition.
func (m *MemStore) GetAgent(_ context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

// CreateExecution stores a new execution row.
func (m *MemStore) CreateExecution(_ context.Context, rec *ExecutionRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.ID] = copyExecution(rec)
	return rec.ID, nil
}

// LoadExecution retrieves an execution row.
func (m *MemStore) LoadExecution(_ context.Context, id string) (*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExecution(rec), nil
}

// UpdateExecution applies a partial update.
func (m *MemStore) UpdateExecution(_ context.Context, id string, upd ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}

	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.OutputData != nil {
		rec.OutputData = copyMap(upd.OutputData)
	}
	if upd.ErrorMessage != nil {
		rec.ErrorMessage = *upd.ErrorMessage
	}
	if upd.TokensUsed != nil {
		rec.TokensUsed = *upd.TokensUsed
	}
	if upd.Cost != nil {
		rec.Cost = *upd.Cost
	}
	if upd.DurationMS != nil {
		rec.DurationMS = *upd.DurationMS
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		rec.CompletedAt = &t
	}
	return nil
}

// QueryStaleExecutions lists executions in the given statuses started
// before the cutoff.
func (m *MemStore) QueryStaleExecutions(_ context.Context, tenantID string, statuses []ExecutionStatus, before time.Time) ([]ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusSet := make(map[ExecutionStatus]struct{}, len(statuses))
	for _, s := range statuses {
		statusSet[s] = struct{}{}
	}

	var results []ExecutionRecord
	for _, rec := range m.executions {
		if rec.TenantID != tenantID {
			continue
		}
		if _, ok := statusSet[rec.Status]; !ok {
			continue
		}
		if !rec.StartedAt.Before(before) {
			continue
		}
		results = append(results, *copyExecution(rec))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.Before(results[j].StartedAt)
	})
	return results, nil
}

// ListExecutions queries executions with optional filters.
func (m *MemStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ExecutionRecord
	for _, rec := range m.executions {
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.AgentID != "" && rec.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		results = append(results, *copyExecution(rec))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// LogViolation stores a guardrail violation.
func (m *MemStore) LogViolation(_ context.Context, v *ViolationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, *v)
	return nil
}

// Violations returns all stored violations (test helper).
func (m *MemStore) Violations() []ViolationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ViolationRecord, len(m.violations))
	copy(out, m.violations)
	return out
}

// RetrieveMemories returns the most recent memory entries for an agent.
func (m *MemStore) RetrieveMemories(_ context.Context, agentID, _ string, limit int) ([]MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	var entries []MemoryEntry
	for _, e := range m.memories {
		if e.AgentID == agentID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// StoreMemory inserts a memory entry.
func (m *MemStore) StoreMemory(_ context.Context, entry *MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories = append(m.memories, *entry)
	return nil
}

func copyExecution(rec *ExecutionRecord) *ExecutionRecord {
	cp := *rec
	cp.InputData = copyMap(rec.InputData)
	cp.OutputData = copyMap(rec.OutputData)
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
