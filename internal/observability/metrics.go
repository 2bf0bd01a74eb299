package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope of every instrument in this service.
const ScopeName = "o11y/demo/go"

var languageAttr = attribute.String("language", "go")

// Metrics collects model-call metrics.
type Metrics interface {
	RecordModelCall(ctx context.Context)
	RecordLatency(ctx context.Context, seconds float64, labels RequestLabels)
	RecordTokens(ctx context.Context, input, output int, labels RequestLabels)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Model  string
	Status string
}

func (l RequestLabels) attributes(extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		languageAttr,
		attribute.String("model", l.Model),
		attribute.String("status", l.Status),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// ModelMetrics records model calls through OpenTelemetry instruments.
type ModelMetrics struct {
	calls   metric.Int64Counter
	latency metric.Float64Histogram
	tokens  metric.Int64Counter
}

// NewModelMetrics creates the instruments on a meter from mp.
func NewModelMetrics(mp metric.MeterProvider) (*ModelMetrics, error) {
	meter := mp.Meter(ScopeName)

	calls, err := meter.Int64Counter("model_call_counter",
		metric.WithDescription("Number of successful model calls"))
	if err != nil {
		return nil, fmt.Errorf("create model_call_counter: %w", err)
	}
	latency, err := meter.Float64Histogram("model_call_latency",
		metric.WithDescription("Latency of model calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create model_call_latency: %w", err)
	}
	tokens, err := meter.Int64Counter("model_tokens",
		metric.WithDescription("Tokens consumed by model calls"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, fmt.Errorf("create model_tokens: %w", err)
	}

	return &ModelMetrics{calls: calls, latency: latency, tokens: tokens}, nil
}

// RecordModelCall counts one successful model call.
func (m *ModelMetrics) RecordModelCall(ctx context.Context) {
	m.calls.Add(ctx, 1, metric.WithAttributes(languageAttr))
}

func (m *ModelMetrics) RecordLatency(ctx context.Context, seconds float64, labels RequestLabels) {
	m.latency.Record(ctx, seconds, labels.attributes())
}

func (m *ModelMetrics) RecordTokens(ctx context.Context, input, output int, labels RequestLabels) {
	m.tokens.Add(ctx, int64(input), labels.attributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(output), labels.attributes(attribute.String("direction", "output")))
}
