package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/o11y-demo/genai-facts/app"
	"github.com/o11y-demo/genai-facts/handlers"
	appmw "github.com/o11y-demo/genai-facts/middleware"
	"github.com/o11y-demo/genai-facts/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// requestTimeout bounds every request, model calls included.
const requestTimeout = 90 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	healthHandler := handlers.NewHealthHandler(db, deps.Logger)
	factsHandler := handlers.NewFactsHandler(deps.Facts, deps.Logger)
	generationsHandler := handlers.NewGenerationsHandler(deps.Facts, deps.Logger)

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmw.RequestLogger(deps.Logger, "/healthz", "/readyz"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent", "X-Cloud-Trace-Context"},
		ExposedHeaders: []string{"X-Request-ID", "X-Generation-ID"},
		MaxAge:         300,
	}))

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	r.With(routeTag("/facts")).Get("/facts", factsHandler.HandleFacts)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.With(routeTag("/api/v1/status")).Get("/status", handlers.StatusHandler(handlers.StatusInfo{
			Service:        deps.Config.Observability.ServiceName,
			Version:        app.Version,
			Environment:    deps.Config.Environment,
			Model:          deps.Config.Model.Name,
			ProjectID:      deps.Metadata.ProjectID,
			Region:         deps.Metadata.Region,
			HistoryEnabled: deps.Facts.HistoryEnabled(),
		}))
		r.With(routeTag("/api/v1/generations")).Get("/generations", generationsHandler.HandleList)
		r.With(routeTag("/api/v1/generations/{id}")).Get("/generations/{id}", generationsHandler.HandleGet)
	})

	// Static front page
	if dir := deps.Config.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	// The span starts before chi runs so that every log line of the request,
	// the access log included, carries the trace.
	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithTracerProvider(deps.Telemetry.TracerProvider),
		otelhttp.WithMeterProvider(deps.Telemetry.MeterProvider),
	)
}

// routeTag names the server span and metrics after the route pattern.
func routeTag(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.WithRouteTag(route, next)
	}
}
