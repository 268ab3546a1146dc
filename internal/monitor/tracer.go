package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agent-orchestrator"

// Tracer wraps OpenTelemetry tracing for the orchestrator system.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("orchestrator.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for orchestrator tracing.
var (
	AttrExecutionID = attribute.Key("orchestrator.execution.id")
	AttrTenantID    = attribute.Key("orchestrator.tenant.id")
	AttrAgentID     = attribute.Key("orchestrator.agent.id")
	AttrProvider    = attribute.Key("orchestrator.provider")
	AttrStatus      = attribute.Key("orchestrator.status")
	AttrRiskLevel   = attribute.Key("guardrails.risk_level")
	AttrRiskScore   = attribute.Key("guardrails.risk_score")
)
