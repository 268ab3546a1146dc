package orchestrator

import (
	"context"
	"time"

	"agent-orchestrator/internal/storage"
)

// PersistenceStore is the storage surface the orchestrator depends on.
// Both storage.DB and storage.MemStore satisfy it.
type PersistenceStore interface {
	GetAgent(ctx context.Context, id string) (*storage.AgentRecord, error)
	CreateExecution(ctx context.Context, rec *storage.ExecutionRecord) (string, error)
	LoadExecution(ctx context.Context, id string) (*storage.ExecutionRecord, error)
	UpdateExecution(ctx context.Context, id string, upd storage.ExecutionUpdate) error
	QueryStaleExecutions(ctx context.Context, tenantID string, statuses []storage.ExecutionStatus, before time.Time) ([]storage.ExecutionRecord, error)
}

// Message is one prompt message sent to the reasoning provider.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ModelConfig is the provider configuration snapshot for one call.
type ModelConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// GenerateResult is the provider's answer plus token accounting.
type GenerateResult struct {
	Content    string
	TokensUsed int
}

// LLMClient abstracts the external reasoning provider. Implementations
// must honor context cancellation so the execution timeout can
// interrupt a call in flight. Returning an error is the only failure
// signal; retries are the implementation's concern.
type LLMClient interface {
	Generate(ctx context.Context, messages []Message, cfg ModelConfig) (*GenerateResult, error)
}

// MemoryStore abstracts the recall subsystem. Both operations are
// best-effort from the orchestrator's perspective.
type MemoryStore interface {
	RetrieveMemories(ctx context.Context, agentID, query string, limit int) ([]storage.MemoryEntry, error)
	StoreMemory(ctx context.Context, entry *storage.MemoryEntry) error
}

// CostEstimator converts a token count into a provider cost estimate.
type CostEstimator interface {
	EstimateCost(tokens int, cfg ModelConfig) float64
}

// FlatRateEstimator charges a flat per-token rate per provider; a
// placeholder with no pricing tiers or volume discounts.
type FlatRateEstimator struct {
	Rates       map[string]float64
	DefaultRate float64
}

// NewFlatRateEstimator returns the stock per-token rate table.
func NewFlatRateEstimator() *FlatRateEstimator {
	return &FlatRateEstimator{
		Rates: map[string]float64{
			"openai":    0.00003,
			"anthropic": 0.000025,
			"google":    0.00002,
		},
		DefaultRate: 0.00002,
	}
}

// EstimateCost implements CostEstimator.
func (e *FlatRateEstimator) EstimateCost(tokens int, cfg ModelConfig) float64 {
	rate, ok := e.Rates[cfg.Provider]
	if !ok {
		rate = e.DefaultRate
	}
	return float64(tokens) * rate
}
