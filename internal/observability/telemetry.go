package observability

import (
	"context"
	"errors"
	"fmt"

	cloudmetric "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/oauth"
)

// DefaultTracingEndpoint is the Google Cloud OTLP ingestion endpoint.
const DefaultTracingEndpoint = "telemetry.googleapis.com:443"

// TelemetryConfig selects which exporters SetupTelemetry installs.
type TelemetryConfig struct {
	ServiceName string
	ProjectID   string

	// TracingEnabled exports spans over OTLP/gRPC with application default
	// credentials. Spans are created and sampled either way so that log
	// records carry trace ids.
	TracingEnabled  bool
	TracingEndpoint string

	// Registry receives the Prometheus exporter when non-nil.
	Registry *prometheus.Registry

	// CloudMetricsEnabled exports metrics to Cloud Monitoring.
	CloudMetricsEnabled bool
}

// Telemetry holds the installed providers.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdownFuncs []func(context.Context) error
}

// Shutdown flushes and stops every provider. It is safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdownFuncs = nil
	return err
}

// SetupTelemetry builds the tracer and meter providers and installs them,
// together with the propagator, as the otel globals. On error everything
// created so far is shut down.
func SetupTelemetry(ctx context.Context, cfg TelemetryConfig, logger *zap.Logger) (*Telemetry, error) {
	t := &Telemetry{}
	fail := func(err error) (*Telemetry, error) {
		return nil, errors.Join(err, t.Shutdown(ctx))
	}

	res, err := resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("gcp.project_id", cfg.ProjectID),
		),
	)
	if err != nil {
		// Partial resources are usable; the detector fails off GCP.
		logger.Warn("Resource detection incomplete", zap.Error(err))
		if res == nil {
			res = resource.Default()
		}
	}

	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}
	if cfg.TracingEnabled {
		exporter, err := newTraceExporter(ctx, cfg.TracingEndpoint)
		if err != nil {
			return fail(err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		logger.Info("Trace export enabled", zap.String("endpoint", endpointOrDefault(cfg.TracingEndpoint)))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)
	otel.SetTracerProvider(tp)
	t.TracerProvider = tp

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Registry != nil {
		exporter, err := otelprom.New(otelprom.WithRegisterer(cfg.Registry))
		if err != nil {
			return fail(fmt.Errorf("create prometheus exporter: %w", err))
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exporter))
	}
	if cfg.CloudMetricsEnabled {
		exporter, err := cloudmetric.New(cloudmetric.WithProjectID(cfg.ProjectID))
		if err != nil {
			return fail(fmt.Errorf("create cloud monitoring exporter: %w", err))
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
		logger.Info("Cloud Monitoring export enabled", zap.String("project_id", cfg.ProjectID))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)
	otel.SetMeterProvider(mp)
	t.MeterProvider = mp

	return t, nil
}

func endpointOrDefault(endpoint string) string {
	if endpoint == "" {
		return DefaultTracingEndpoint
	}
	return endpoint
}

func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	creds, err := oauth.NewApplicationDefault(ctx)
	if err != nil {
		return nil, fmt.Errorf("load application default credentials: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpointOrDefault(endpoint)),
		otlptracegrpc.WithDialOption(grpc.WithPerRPCCredentials(creds)),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	return exporter, nil
}
