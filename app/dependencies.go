package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/o11y-demo/genai-facts/config"
	"github.com/o11y-demo/genai-facts/internal/gcp"
	"github.com/o11y-demo/genai-facts/internal/observability"
	"github.com/o11y-demo/genai-facts/repositories"
	"github.com/o11y-demo/genai-facts/repositories/postgres"
	"github.com/o11y-demo/genai-facts/services/facts"
	"github.com/o11y-demo/genai-facts/services/providers"
	"github.com/o11y-demo/genai-facts/services/providers/vertex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Version is the build version, set with -ldflags "-X".
var Version = "dev"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Metadata gcp.Metadata
	Logger   observability.Logger

	// Telemetry
	Registry  *prometheus.Registry
	Telemetry *observability.Telemetry
	Metrics   *observability.ModelMetrics

	// History store; nil when no database is configured
	DB          *postgres.DB
	Generations repositories.GenerationRepository

	// Model and use cases
	Provider providers.Provider
	Facts    *facts.Service
}

type options struct {
	tokenSource oauth2.TokenSource
	db          *sql.DB
}

// Option customizes NewDependencies
type Option func(*options)

// WithTokenSource sets the credentials used for model calls instead of
// application default credentials.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) { o.tokenSource = ts }
}

// WithDB uses an existing pool for the history store instead of opening one
// from the configuration.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, md gcp.Metadata, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config:   cfg,
		Metadata: md,
		Logger:   observability.NewLogger(logger),
	}

	if err := deps.initTelemetry(ctx, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := deps.initDatabase(ctx, o.db, logger); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initProvider(ctx, o.tokenSource); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}

	deps.initServices()

	logger.Info("all dependencies initialized successfully",
		zap.String("project_id", md.ProjectID),
		zap.String("region", md.Region),
		zap.String("model", cfg.Model.Name),
		zap.Bool("history", deps.Generations != nil))
	return deps, nil
}

// initTelemetry sets up the Prometheus registry, the otel providers and the
// model-call instruments
func (d *Dependencies) initTelemetry(ctx context.Context, logger *zap.Logger) error {
	obs := d.Config.Observability

	if obs.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	tel, err := observability.SetupTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:         obs.ServiceName,
		ProjectID:           d.Metadata.ProjectID,
		TracingEnabled:      obs.TracingEnabled,
		TracingEndpoint:     obs.TracingEndpoint,
		Registry:            d.Registry,
		CloudMetricsEnabled: obs.CloudMetricsEnabled,
	}, logger)
	if err != nil {
		return err
	}
	d.Telemetry = tel

	metrics, err := observability.NewModelMetrics(tel.MeterProvider)
	if err != nil {
		_ = tel.Shutdown(ctx)
		d.Telemetry = nil
		return err
	}
	d.Metrics = metrics
	return nil
}

// initDatabase opens the history store when one is configured
func (d *Dependencies) initDatabase(ctx context.Context, pool *sql.DB, logger *zap.Logger) error {
	switch {
	case pool != nil:
		d.DB = postgres.Wrap(pool, logger)
	case d.Config.HistoryEnabled():
		db, err := postgres.NewDB(ctx, *d.Config.Database, logger)
		if err != nil {
			return err
		}
		d.DB = db
	default:
		logger.Info("no database configured, generation history disabled")
		return nil
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return err
	}
	d.Generations = postgres.NewGenerationRepository(d.DB, logger)
	return nil
}

// initProvider creates the Vertex AI adapter
func (d *Dependencies) initProvider(ctx context.Context, ts oauth2.TokenSource) error {
	pc := providers.DefaultProviderConfig()
	pc.BaseURL = d.Config.Model.Endpoint
	pc.Timeout = d.Config.Model.Timeout
	pc.MaxRetries = d.Config.Model.MaxRetries

	adapter, err := vertex.NewAdapter(ctx, vertex.Config{
		ProviderConfig: pc,
		ProjectID:      d.Metadata.ProjectID,
		Region:         d.Metadata.Region,
		TokenSource:    ts,
	})
	if err != nil {
		return err
	}
	d.Provider = adapter
	return nil
}

func (d *Dependencies) initServices() {
	d.Facts = facts.NewService(facts.Config{
		Model:     d.Config.Model.Name,
		RateLimit: d.Config.Model.RateLimit,
		RateBurst: d.Config.Model.RateBurst,

		PromptGuard: d.Config.Model.PromptGuard,
	}, d.Provider, d.Generations, d.Metrics, d.Telemetry.TracerProvider, d.Logger)
}

// Close gracefully shuts down all dependencies. Telemetry is flushed first
// so that spans of in-flight requests are exported.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info(ctx, "shutting down dependencies")

	var errs []error

	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return errors.Join(errs...)
}
