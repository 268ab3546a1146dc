package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"agent-orchestrator/internal/guardrails"
	"agent-orchestrator/internal/storage"
)

func newTestManager(stores map[string]*storage.MemStore, llm LLMClient, staleAge time.Duration) *Manager {
	var mu sync.Mutex
	return NewManager(ManagerConfig{
		Factory: func(tenantID string) *Orchestrator {
			mu.Lock()
			defer mu.Unlock()
			store, ok := stores[tenantID]
			if !ok {
				store = storage.NewMemStore()
				stores[tenantID] = store
			}
			return New(Config{
				TenantID:   tenantID,
				Store:      store,
				Guardrails: guardrails.NewService(guardrails.DefaultEngineConfig()),
				LLM:        llm,
			})
		},
		SweepInterval: time.Hour, // never fires in tests; Sweep is driven directly
		StaleAge:      staleAge,
	})
}

func TestManagerLazyPerTenant(t *testing.T) {
	stores := map[string]*storage.MemStore{}
	m := newTestManager(stores, &fakeLLM{response: "ok"}, time.Hour)

	a := m.Orchestrator("tenant-a")
	b := m.Orchestrator("tenant-b")
	if a == b {
		t.Fatal("distinct tenants share one orchestrator")
	}
	if m.Orchestrator("tenant-a") != a {
		t.Error("repeat lookup returned a different orchestrator")
	}
	if a.TenantID() != "tenant-a" || b.TenantID() != "tenant-b" {
		t.Errorf("tenant ids = %q, %q", a.TenantID(), b.TenantID())
	}
}

func TestManagerConcurrentLookupSameTenant(t *testing.T) {
	stores := map[string]*storage.MemStore{}
	m := newTestManager(stores, &fakeLLM{response: "ok"}, time.Hour)

	const callers = 16
	results := make([]*Orchestrator, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Orchestrator("tenant-a")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent lookups produced distinct orchestrators")
		}
	}
}

func TestManagerStatusAggregation(t *testing.T) {
	stores := map[string]*storage.MemStore{}
	llm := &fakeLLM{block: true}
	m := newTestManager(stores, llm, time.Hour)

	orchA := m.Orchestrator("tenant-a")
	orchB := m.Orchestrator("tenant-b")
	stores["tenant-a"].PutAgent(testAgent(false, false))
	agentB := testAgent(false, false)
	agentB.TenantID = "tenant-b"
	stores["tenant-b"].PutAgent(agentB)

	idA, err := orchA.Start(context.Background(), StartRequest{
		AgentID:        "agent-1",
		InputData:      map[string]any{"prompt": "slow"},
		TimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("Start tenant-a: %v", err)
	}
	idB, err := orchB.Start(context.Background(), StartRequest{
		AgentID:        "agent-1",
		InputData:      map[string]any{"prompt": "slow"},
		TimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("Start tenant-b: %v", err)
	}
	defer orchA.Stop(idA)
	defer orchB.Stop(idB)

	status := m.Status()
	if status.TenantCount != 2 {
		t.Errorf("tenant count = %d, want 2", status.TenantCount)
	}
	if status.TotalActiveExecutions != 2 {
		t.Errorf("total active = %d, want 2", status.TotalActiveExecutions)
	}
	if status.TenantStats["tenant-a"].ActiveExecutions != 1 {
		t.Errorf("tenant-a active = %d, want 1", status.TenantStats["tenant-a"].ActiveExecutions)
	}

	orchA.Stop(idA)
	status = m.Status()
	if status.TenantStats["tenant-a"].ActiveExecutions != 0 {
		t.Errorf("tenant-a active after stop = %d, want 0", status.TenantStats["tenant-a"].ActiveExecutions)
	}
}

func TestManagerSweepSpansTenants(t *testing.T) {
	stores := map[string]*storage.MemStore{}
	m := newTestManager(stores, &fakeLLM{response: "ok"}, time.Minute)

	m.Orchestrator("tenant-a")
	m.Orchestrator("tenant-b")

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		rec := &storage.ExecutionRecord{
			ID:        "stale-" + tenant,
			TenantID:  tenant,
			AgentID:   "agent-1",
			Status:    storage.StatusRunning,
			InputData: map[string]any{"prompt": "orphaned"},
			StartedAt: time.Now().UTC().Add(-time.Hour),
		}
		if _, err := stores[tenant].CreateExecution(context.Background(), rec); err != nil {
			t.Fatalf("seeding %s: %v", tenant, err)
		}
	}

	if n := m.Sweep(context.Background()); n != 2 {
		t.Errorf("sweep forced %d executions, want 2", n)
	}

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		rec, _ := stores[tenant].LoadExecution(context.Background(), "stale-"+tenant)
		if rec.Status != storage.StatusTimeout {
			t.Errorf("%s status = %s, want timeout", tenant, rec.Status)
		}
	}
}

func TestManagerMonitoringStartStop(t *testing.T) {
	stores := map[string]*storage.MemStore{}
	m := newTestManager(stores, &fakeLLM{response: "ok"}, time.Hour)

	if m.Status().MonitoringEnabled {
		t.Error("monitoring enabled before start")
	}
	m.StartMonitoring()
	m.StartMonitoring() // idempotent
	if !m.Status().MonitoringEnabled {
		t.Error("monitoring not enabled after start")
	}
	m.StopMonitoring()
	m.StopMonitoring() // idempotent
	if m.Status().MonitoringEnabled {
		t.Error("monitoring still enabled after stop")
	}
}
