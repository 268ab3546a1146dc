package guardrails

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scoring weights for the risk aggregation. Each term is capped before
// summation and the final sum is clamped to [0,1].
const (
	violationWeight = 0.2
	toxicityWeight  = 0.3
	sentimentWeight = 0.2
	biasWeight      = 0.3

	biasViolationThreshold = 0.5

	engineConfidence = 0.9
)

// EngineConfig carries the validity thresholds. Output validation is
// deliberately more permissive than input validation: output has already
// passed through the provider, and blocking it outright degrades
// usefulness more than flagging it does.
type EngineConfig struct {
	InputRiskThreshold  float64
	OutputRiskThreshold float64
}

// DefaultEngineConfig returns the stock thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InputRiskThreshold:  0.7,
		OutputRiskThreshold: 0.8,
	}
}

// Engine runs all content detectors concurrently over one text blob and
// aggregates their findings into a single risk-scored ValidationResult.
// Engines are stateless apart from configuration and safe for concurrent
// use.
type Engine struct {
	tenantID string
	cfg      EngineConfig
	policies []Policy
}

// NewEngine creates an engine for one tenant.
func NewEngine(tenantID string, cfg EngineConfig, policies []Policy) *Engine {
	if cfg.InputRiskThreshold <= 0 {
		cfg.InputRiskThreshold = 0.7
	}
	if cfg.OutputRiskThreshold <= 0 {
		cfg.OutputRiskThreshold = 0.8
	}
	return &Engine{tenantID: tenantID, cfg: cfg, policies: policies}
}

// detectorOutput collects the fan-out results. Each detector goroutine
// writes only its own field, so no lock is needed beyond the WaitGroup.
type detectorOutput struct {
	harmful   []PatternMatch
	pii       []PatternMatch
	injection []PatternMatch
	toxic     []PatternMatch
	sentiment SentimentScores
	toxicity  float64
	bias      map[string]float64

	errs [7]error
}

// ValidateInput runs the full detector pipeline over input content.
// Pattern hits always invalidate input regardless of the risk score.
func (e *Engine) ValidateInput(ctx context.Context, content string, vctx ValidationContext) ValidationResult {
	res := e.validate(ctx, content, vctx)
	res.IsValid = res.RiskScore < e.cfg.InputRiskThreshold && len(res.Violations) == 0
	if !res.IsValid && res.SanitizedContent == "" {
		res.SanitizedContent = content
	}
	return res
}

// ValidateOutput runs the identical pipeline but relaxes validity to the
// output threshold: a pattern hit alone does not force invalidity.
func (e *Engine) ValidateOutput(ctx context.Context, content string, vctx ValidationContext) ValidationResult {
	res := e.validate(ctx, content, vctx)
	if res.HasViolationType(ViolationInternalError) {
		return res
	}
	res.IsValid = res.RiskScore < e.cfg.OutputRiskThreshold
	return res
}

func (e *Engine) validate(ctx context.Context, content string, vctx ValidationContext) ValidationResult {
	start := time.Now()

	var out detectorOutput
	var wg sync.WaitGroup

	run := func(slot int, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					out.errs[slot] = fmt.Errorf("detector panic: %v", rec)
				}
			}()
			fn()
		}()
	}

	run(0, func() { out.harmful = DetectHarmfulContent(content) })
	run(1, func() { out.pii = DetectPII(content) })
	run(2, func() { out.injection = DetectPromptInjection(content) })
	run(3, func() { out.toxic = DetectToxicKeywords(content) })
	run(4, func() { out.sentiment = AnalyzeSentiment(content) })
	run(5, func() { out.toxicity = AnalyzeToxicity(content) })
	run(6, func() { out.bias = AnalyzeBias(content) })

	wg.Wait()

	for _, err := range out.errs {
		if err != nil {
			// Fail closed: a detector crash must never read as "clean".
			log.Error().
				Err(err).
				Str("tenant_id", vctx.TenantID).
				Str("source", vctx.Source).
				Msg("content detector failed, failing closed")
			return failClosedResult(err, start)
		}
	}

	return e.aggregate(content, out, start)
}

func (e *Engine) aggregate(content string, out detectorOutput, start time.Time) ValidationResult {
	var violations []string
	var blocked []string
	var types []ViolationType

	appendMatches := func(matches []PatternMatch, t ViolationType) {
		if len(matches) == 0 {
			return
		}
		types = append(types, t)
		for _, m := range matches {
			violations = append(violations, fmt.Sprintf("%s: %s", m.Pattern, m.Detail))
			blocked = append(blocked, m.Span)
		}
	}

	appendMatches(out.harmful, ViolationHarmfulContent)
	appendMatches(out.pii, ViolationPIIExposure)
	appendMatches(out.injection, ViolationPromptInjection)
	appendMatches(out.toxic, ViolationToxicContent)

	// Bias contributes its type tag and the weighted score term, but the
	// violation list is the union of the four pattern matchers only.
	maxBiasScore := maxBias(out.bias)
	if maxBiasScore > biasViolationThreshold {
		types = append(types, ViolationBiasDetection)
	}

	violationTerm := float64(len(violations)) * violationWeight
	if violationTerm > 1 {
		violationTerm = 1
	}

	risk := violationTerm +
		out.toxicity*toxicityWeight +
		out.sentiment.Negative*sentimentWeight +
		maxBiasScore*biasWeight
	if risk > 1 {
		risk = 1
	}

	res := ValidationResult{
		Violations:     violations,
		ViolationTypes: types,
		RiskScore:      risk,
		RiskLevel:      RiskLevelFor(risk),
		BlockedPhrases: blocked,
		Confidence:     engineConfidence,
		Metadata: map[string]any{
			"sentiment_positive": out.sentiment.Positive,
			"sentiment_negative": out.sentiment.Negative,
			"sentiment_neutral":  out.sentiment.Neutral,
			"toxicity_score":     out.toxicity,
			"bias_scores":        out.bias,
			"content_length":     len(content),
			"word_count":         len(strings.Fields(content)),
		},
	}

	if len(violations) > 0 {
		res.SanitizedContent = sanitize(content, out.pii, out.harmful, out.toxic)
	}

	res.ProcessingTime = time.Since(start)
	return res
}

// failClosedResult is the maximally conservative outcome used when any
// detector crashes.
func failClosedResult(err error, start time.Time) ValidationResult {
	return ValidationResult{
		IsValid:        false,
		Violations:     []string{fmt.Sprintf("internal validation error: %v", err)},
		ViolationTypes: []ViolationType{ViolationInternalError},
		RiskScore:      1.0,
		RiskLevel:      RiskCritical,
		Confidence:     0,
		Metadata:       map[string]any{},
		ProcessingTime: time.Since(start),
	}
}

// CheckPolicy evaluates the tenant's ordered policy list. The first
// matching policy with Allowed=false short-circuits to a denial;
// otherwise the default policy allows.
func (e *Engine) CheckPolicy(action, resource string) PolicyResult {
	for _, p := range e.policies {
		if !policyFieldMatches(p.Action, action) || !policyFieldMatches(p.Resource, resource) {
			continue
		}
		if !p.Allowed {
			return PolicyResult{
				Allowed:   false,
				Policy:    p.Name,
				Reason:    p.Reason,
				RiskScore: p.RiskScore,
			}
		}
	}
	return PolicyResult{Allowed: true, Policy: "default"}
}

func policyFieldMatches(pattern, value string) bool {
	return pattern == "*" || pattern == value
}
