package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/o11y-demo/genai-facts/internal/observability"
	"github.com/o11y-demo/genai-facts/services/facts"
	"github.com/o11y-demo/genai-facts/utils"
	"go.uber.org/zap"
)

// FactsService defines the facts operations used by the HTTP layer
type FactsService interface {
	Generate(ctx context.Context, subject string) (*facts.Result, error)
}

// FactsQuery holds the query parameters of GET /facts
type FactsQuery struct {
	Subject string `query:"subject" validate:"max=100"`
}

// parseFactsQuery reads the subject from "subject", falling back to the
// older "animal" parameter.
func parseFactsQuery(r *http.Request) FactsQuery {
	q := r.URL.Query()
	subject := q.Get("subject")
	if subject == "" {
		subject = q.Get("animal")
	}
	return FactsQuery{Subject: strings.TrimSpace(subject)}
}

// FactsHandler handles fact generation requests
type FactsHandler struct {
	service FactsService
	logger  observability.Logger
}

// NewFactsHandler creates a new FactsHandler
func NewFactsHandler(service FactsService, logger observability.Logger) *FactsHandler {
	return &FactsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleFacts handles GET /facts
// The generated text is returned as-is; the model is asked for HTML.
func (h *FactsHandler) HandleFacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := parseFactsQuery(r)
	if err := utils.ValidateStruct(&query); err != nil {
		HandleValidationError(w, r, err, h.logger)
		return
	}

	result, err := h.service.Generate(ctx, query.Subject)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	w.Header().Set("X-Generation-ID", result.ID.String())
	if err := utils.WriteHTML(w, http.StatusOK, result.Text); err != nil {
		h.logger.Warn(ctx, "failed to write facts response", zap.Error(err))
	}
}
