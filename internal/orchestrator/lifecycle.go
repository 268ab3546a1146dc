package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agent-orchestrator/internal/monitor"
)

// Manager holds one Orchestrator per tenant and runs the periodic
// staleness sweep across all of them. It is constructed once at process
// start and passed by handle to everything that needs it; there is no
// package-level instance.
type Manager struct {
	factory func(tenantID string) *Orchestrator
	metrics *monitor.Metrics

	sweepInterval time.Duration
	staleAge      time.Duration

	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator

	monitoring bool
	stop       chan struct{}
	wg         sync.WaitGroup
}

// ManagerConfig configures the lifecycle manager.
type ManagerConfig struct {
	Factory       func(tenantID string) *Orchestrator
	Metrics       *monitor.Metrics // optional
	SweepInterval time.Duration
	StaleAge      time.Duration
}

// NewManager creates a lifecycle manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = time.Hour
	}
	return &Manager{
		factory:       cfg.Factory,
		metrics:       cfg.Metrics,
		sweepInterval: cfg.SweepInterval,
		staleAge:      cfg.StaleAge,
		orchestrators: make(map[string]*Orchestrator),
		stop:          make(chan struct{}),
	}
}

// Orchestrator returns the tenant's orchestrator, creating it lazily.
func (m *Manager) Orchestrator(tenantID string) *Orchestrator {
	m.mu.RLock()
	orch, ok := m.orchestrators[tenantID]
	m.mu.RUnlock()
	if ok {
		return orch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if orch, ok = m.orchestrators[tenantID]; ok {
		return orch
	}
	orch = m.factory(tenantID)
	m.orchestrators[tenantID] = orch
	return orch
}

// StartMonitoring launches the periodic staleness sweep.
func (m *Manager) StartMonitoring() {
	m.mu.Lock()
	if m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sweepLoop(stop)

	log.Info().
		Dur("interval", m.sweepInterval).
		Dur("stale_age", m.staleAge).
		Msg("stale execution monitoring started")
}

// StopMonitoring stops the sweep and waits for it to exit.
func (m *Manager) StopMonitoring() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = false
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) sweepLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep runs one staleness pass over every tenant and returns the
// number of executions forced to timeout.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	orchs := make([]*Orchestrator, 0, len(m.orchestrators))
	for _, o := range m.orchestrators {
		orchs = append(orchs, o)
	}
	m.mu.RUnlock()

	total := 0
	for _, orch := range orchs {
		n, err := orch.CleanupStale(ctx, m.staleAge)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", orch.TenantID()).Msg("staleness sweep failed")
			continue
		}
		total += n
	}

	if m.metrics != nil {
		m.metrics.StaleSweepsTotal.Inc()
	}
	if total > 0 {
		log.Info().Int("count", total).Msg("staleness sweep forced executions to timeout")
	}
	return total
}

// TenantStats summarizes one tenant's live executions.
type TenantStats struct {
	ActiveExecutions int `json:"active_executions"`
}

// SystemStatus is the system-wide view answered by the manager.
type SystemStatus struct {
	TotalActiveExecutions int                    `json:"total_active_executions"`
	TenantCount           int                    `json:"tenant_count"`
	MonitoringEnabled     bool                   `json:"monitoring_enabled"`
	TenantStats           map[string]TenantStats `json:"tenant_stats"`
}

// Status answers the system-wide status query.
func (m *Manager) Status() SystemStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := SystemStatus{
		TenantCount:       len(m.orchestrators),
		MonitoringEnabled: m.monitoring,
		TenantStats:       make(map[string]TenantStats, len(m.orchestrators)),
	}
	for tenantID, orch := range m.orchestrators {
		active := orch.ActiveCount()
		status.TotalActiveExecutions += active
		status.TenantStats[tenantID] = TenantStats{ActiveExecutions: active}
	}
	return status
}
