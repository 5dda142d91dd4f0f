package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/ipflow/relay"

// Tracer provides OpenTelemetry tracing for Relay. A nil *Tracer starts
// no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := trace.Tracer(noop.NewTracerProvider().Tracer(tracerName))
	if t != nil {
		tr = t.tracer
	}
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDispatchSpan starts the span covering a whole fan-out.
func (t *Tracer) StartDispatchSpan(ctx context.Context, tenantID, eventName string) (context.Context, trace.Span) {
	return t.start(ctx, "relay.dispatch",
		attribute.String("relay.tenant_id", tenantID),
		attribute.String("relay.event", eventName),
	)
}

// StartDeliverySpan starts a span for one delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, subscriptionID, eventName string) (context.Context, trace.Span) {
	return t.start(ctx, "relay.deliver",
		attribute.String("relay.subscription_id", subscriptionID),
		attribute.String("relay.event", eventName),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, latencyMs int64, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("relay.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartAuthenticateSpan starts a span for a credential lookup.
func (t *Tracer) StartAuthenticateSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.start(ctx, "relay.authenticate")
}
