package guardrails

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// violationPrefixLen bounds how much raw content a Violation carries.
// Everything else is only stored as a hash.
const violationPrefixLen = 64

// Violation is the audit-style record emitted for an invalid result.
type Violation struct {
	ID            string
	TenantID      string
	UserID        string
	AgentID       string
	Type          ViolationType
	RiskLevel     RiskLevel
	ContentHash   string
	ContentPrefix string
	Sanitized     string
	Context       ValidationContext
	Timestamp     time.Time
	Resolved      bool
}

// AuditSink receives violations. Implementations must not block
// validation beyond a bounded best-effort attempt.
type AuditSink interface {
	Record(v Violation)
}

// Notifier receives high-risk alerts synchronously.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, v Violation, result ValidationResult)
}

// LogNotifier is the default Notifier; it only logs.
type LogNotifier struct{}

func (LogNotifier) NotifyHighRisk(_ context.Context, v Violation, result ValidationResult) {
	log.Warn().
		Str("tenant_id", v.TenantID).
		Str("agent_id", v.AgentID).
		Str("violation_type", string(v.Type)).
		Str("risk_level", result.RiskLevel.String()).
		Float64("risk_score", result.RiskScore).
		Msg("high-risk content detected")
}

// Service fronts one Engine per tenant. Engines are created lazily and
// never evicted for the process lifetime; tenants are long-lived.
type Service struct {
	cfg      EngineConfig
	policies func(tenantID string) []Policy
	sink     AuditSink
	notifier Notifier

	mu      sync.RWMutex
	engines map[string]*Engine
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAuditSink sets the violation sink.
func WithAuditSink(sink AuditSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithNotifier replaces the default log-only notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithPolicySource sets the per-tenant policy loader.
func WithPolicySource(fn func(tenantID string) []Policy) ServiceOption {
	return func(s *Service) { s.policies = fn }
}

// NewService creates the guardrails service.
func NewService(cfg EngineConfig, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:      cfg,
		engines:  make(map[string]*Engine),
		notifier: LogNotifier{},
		policies: func(string) []Policy { return nil },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the memoized engine for a tenant, creating it on first use.
func (s *Service) Engine(tenantID string) *Engine {
	s.mu.RLock()
	eng, ok := s.engines[tenantID]
	s.mu.RUnlock()
	if ok {
		return eng
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok = s.engines[tenantID]; ok {
		return eng
	}
	eng = NewEngine(tenantID, s.cfg, s.policies(tenantID))
	s.engines[tenantID] = eng
	return eng
}

// ValidateAgentInput validates content entering an agent execution.
func (s *Service) ValidateAgentInput(ctx context.Context, tenantID, agentID, userID, sessionID, content string) ValidationResult {
	vctx := s.buildContext(tenantID, agentID, userID, sessionID, "input")
	result := s.Engine(tenantID).ValidateInput(ctx, content, vctx)
	s.afterValidation(ctx, content, vctx, result)
	return result
}

// ValidateAgentOutput validates content produced by an agent execution.
func (s *Service) ValidateAgentOutput(ctx context.Context, tenantID, agentID, userID, sessionID, content string) ValidationResult {
	vctx := s.buildContext(tenantID, agentID, userID, sessionID, "output")
	result := s.Engine(tenantID).ValidateOutput(ctx, content, vctx)
	s.afterValidation(ctx, content, vctx, result)
	return result
}

// CheckAgentPolicy evaluates a tenant policy for an action/resource pair.
func (s *Service) CheckAgentPolicy(tenantID, action, resource string) PolicyResult {
	return s.Engine(tenantID).CheckPolicy(action, resource)
}

func (s *Service) buildContext(tenantID, agentID, userID, sessionID, source string) ValidationContext {
	return ValidationContext{
		TenantID:  tenantID,
		AgentID:   agentID,
		UserID:    userID,
		SessionID: sessionID,
		Category:  "agent_content",
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Service) afterValidation(ctx context.Context, content string, vctx ValidationContext, result ValidationResult) {
	if result.IsValid {
		return
	}

	v := Violation{
		ID:            uuid.New().String(),
		TenantID:      vctx.TenantID,
		UserID:        vctx.UserID,
		AgentID:       vctx.AgentID,
		Type:          primaryViolationType(result),
		RiskLevel:     result.RiskLevel,
		ContentHash:   fmt.Sprintf("%x", sha256.Sum256([]byte(content))),
		ContentPrefix: contentPrefix(content),
		Sanitized:     result.SanitizedContent,
		Context:       vctx,
		Timestamp:     time.Now().UTC(),
	}

	if s.sink != nil {
		s.sink.Record(v)
	}

	if result.RiskLevel >= RiskHigh {
		s.notifier.NotifyHighRisk(ctx, v, result)
	}

	log.Info().
		Str("tenant_id", vctx.TenantID).
		Str("agent_id", vctx.AgentID).
		Str("source", vctx.Source).
		Str("violation_type", string(v.Type)).
		Int("violation_count", len(result.Violations)).
		Float64("risk_score", result.RiskScore).
		Msg("guardrail violation recorded")
}

func primaryViolationType(result ValidationResult) ViolationType {
	if len(result.ViolationTypes) > 0 {
		return result.ViolationTypes[0]
	}
	return ViolationType("risk_threshold")
}

func contentPrefix(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= violationPrefixLen {
		return trimmed
	}
	return trimmed[:violationPrefixLen]
}
