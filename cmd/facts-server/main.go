// Command facts-server serves generated fun facts and writes Cloud Logging
// structured logs to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/o11y-demo/genai-facts/app"
	"github.com/o11y-demo/genai-facts/config"
	"github.com/o11y-demo/genai-facts/internal/gcp"
	"github.com/o11y-demo/genai-facts/internal/observability"
	"github.com/o11y-demo/genai-facts/routes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facts-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := app.SetupSignals(context.Background())
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := zapcore.Lock(os.Stdout)

	// Startup records carry no trace, so the project id in the trace prefix
	// is irrelevant until it has been resolved.
	bootLogger, _, err := observability.NewZapLogger(observability.NewEncoder(cfg.Google.ProjectID), out, cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	md := gcp.Resolve(ctx, gcp.Overrides{
		ProjectID: cfg.Google.ProjectID,
		Region:    cfg.Google.Region,
	}, gcp.NewMetadataClient(), bootLogger)

	logger, closeLogger, err := observability.NewZapLogger(observability.NewEncoder(md.ProjectID), out, cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = closeLogger() }()
	logger = logger.With(zap.String("service", cfg.Observability.ServiceName))

	logger.Info("starting facts server",
		zap.String("version", app.Version),
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address()))

	deps, err := app.NewDependencies(ctx, cfg, md, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}

	servers := app.NewServers(cfg, routes.SetupRoutes(deps), deps.Registry, logger)
	runErr := servers.Run(ctx)
	if runErr != nil {
		logger.Error("server error", zap.Error(runErr))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := deps.Close(closeCtx); err != nil {
		logger.Error("failed to close dependencies", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}

	logger.Info("facts server stopped")
	return runErr
}
