package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/o11y-demo/genai-facts/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 10 * time.Second

// SetupSignals returns a context cancelled on SIGINT or SIGTERM.
func SetupSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// Servers runs the API server and, when metrics are enabled, the metrics
// server.
type Servers struct {
	API     *http.Server
	Metrics *http.Server

	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// NewServers creates the HTTP servers. registry may be nil, in which case no
// metrics server is started.
func NewServers(cfg *config.Config, handler http.Handler, registry *prometheus.Registry, logger *zap.Logger) *Servers {
	errorLog, _ := zap.NewStdLogAt(logger, zap.ErrorLevel)

	s := &Servers{
		API: &http.Server{
			Addr:              cfg.Server.Address(),
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			ErrorLog:          errorLog,
		},
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		logger:          logger,
	}

	if registry != nil {
		s.Metrics = &http.Server{
			Addr:              cfg.MetricsAddress(),
			Handler:           MetricsHandler(registry),
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          errorLog,
		}
	}
	return s
}

// MetricsHandler serves registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// Run serves until ctx is cancelled or a server fails, then shuts every
// server down within the shutdown timeout.
func (s *Servers) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	servers := []*http.Server{s.API}
	if s.Metrics != nil {
		servers = append(servers, s.Metrics)
	}

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			s.logger.Info("server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
