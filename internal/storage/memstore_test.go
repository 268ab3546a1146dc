package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedExecution(t *testing.T, m *MemStore, id string, status ExecutionStatus, startedAt time.Time) {
	t.Helper()
	rec := &ExecutionRecord{
		ID:        id,
		TenantID:  "tenant-1",
		AgentID:   "agent-1",
		Status:    status,
		InputData: map[string]any{"prompt": "hi"},
		StartedAt: startedAt,
	}
	if _, err := m.CreateExecution(context.Background(), rec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
}

func TestMemStoreLoadNotFound(t *testing.T) {
	m := NewMemStore()
	if _, err := m.LoadExecution(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := m.UpdateExecution(context.Background(), "missing", ExecutionUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update err = %v, want ErrNotFound", err)
	}
	if _, err := m.GetAgent(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("agent err = %v, want ErrNotFound", err)
	}
}

func TestMemStorePartialUpdate(t *testing.T) {
	m := NewMemStore()
	seedExecution(t, m, "e-1", StatusRunning, time.Now().UTC())

	status := StatusCompleted
	tokens := 42
	completedAt := time.Now().UTC()
	err := m.UpdateExecution(context.Background(), "e-1", ExecutionUpdate{
		Status:      &status,
		TokensUsed:  &tokens,
		CompletedAt: &completedAt,
	})
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	rec, err := m.LoadExecution(context.Background(), "e-1")
	if err != nil {
		t.Fatalf("LoadExecution: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.TokensUsed != 42 {
		t.Errorf("tokens = %d", rec.TokensUsed)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(completedAt) {
		t.Errorf("completed_at = %v", rec.CompletedAt)
	}
	// Fields absent from the update keep their values.
	if rec.InputData["prompt"] != "hi" {
		t.Errorf("input mutated: %v", rec.InputData)
	}
}

func TestMemStoreReturnsCopies(t *testing.T) {
	m := NewMemStore()
	seedExecution(t, m, "e-1", StatusRunning, time.Now().UTC())

	rec, _ := m.LoadExecution(context.Background(), "e-1")
	rec.InputData["prompt"] = "tampered"
	rec.Status = StatusFailed

	reloaded, _ := m.LoadExecution(context.Background(), "e-1")
	if reloaded.InputData["prompt"] != "hi" || reloaded.Status != StatusRunning {
		t.Error("mutation of a loaded record leaked into the store")
	}
}

func TestMemStoreQueryStale(t *testing.T) {
	m := NewMemStore()
	now := time.Now().UTC()
	seedExecution(t, m, "old-running", StatusRunning, now.Add(-2*time.Hour))
	seedExecution(t, m, "old-pending", StatusPending, now.Add(-3*time.Hour))
	seedExecution(t, m, "fresh-running", StatusRunning, now)
	seedExecution(t, m, "old-completed", StatusCompleted, now.Add(-2*time.Hour))

	stale, err := m.QueryStaleExecutions(context.Background(), "tenant-1",
		[]ExecutionStatus{StatusPending, StatusRunning}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryStaleExecutions: %v", err)
	}

	if len(stale) != 2 {
		t.Fatalf("got %d stale executions, want 2", len(stale))
	}
	// Oldest first.
	if stale[0].ID != "old-pending" || stale[1].ID != "old-running" {
		t.Errorf("order = %s, %s", stale[0].ID, stale[1].ID)
	}
}

func TestMemStoreListFilters(t *testing.T) {
	m := NewMemStore()
	now := time.Now().UTC()
	seedExecution(t, m, "e-1", StatusCompleted, now.Add(-time.Minute))
	seedExecution(t, m, "e-2", StatusFailed, now)

	byStatus, err := m.ListExecutions(context.Background(), ExecutionFilter{
		TenantID: "tenant-1",
		Status:   StatusFailed,
	})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "e-2" {
		t.Errorf("status filter returned %v", byStatus)
	}

	all, _ := m.ListExecutions(context.Background(), ExecutionFilter{TenantID: "tenant-1"})
	if len(all) != 2 {
		t.Fatalf("got %d executions, want 2", len(all))
	}
	// Most recent first.
	if all[0].ID != "e-2" {
		t.Errorf("order = %s, %s", all[0].ID, all[1].ID)
	}

	other, _ := m.ListExecutions(context.Background(), ExecutionFilter{TenantID: "tenant-2"})
	if len(other) != 0 {
		t.Errorf("foreign tenant saw %d executions", len(other))
	}
}

func TestMemStoreMemories(t *testing.T) {
	m := NewMemStore()
	now := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		err := m.StoreMemory(context.Background(), &MemoryEntry{
			ID:        content,
			AgentID:   "agent-1",
			SessionID: "session-1",
			Content:   content,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
	}

	entries, err := m.RetrieveMemories(context.Background(), "agent-1", "", 2)
	if err != nil {
		t.Fatalf("RetrieveMemories: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].Content != "third" || entries[1].Content != "second" {
		t.Errorf("order = %s, %s", entries[0].Content, entries[1].Content)
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []ExecutionStatus{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}
