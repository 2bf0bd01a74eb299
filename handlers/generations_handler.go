package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/o11y-demo/genai-facts/internal/observability"
	"github.com/o11y-demo/genai-facts/models"
	"github.com/o11y-demo/genai-facts/utils"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is used when the request has no limit parameter
const DefaultHistoryLimit = 20

// HistoryService defines the history operations used by the HTTP layer
type HistoryService interface {
	Recent(ctx context.Context, limit int) ([]*models.Generation, error)
	Get(ctx context.Context, id string) (*models.Generation, error)
}

// HistoryQuery holds the query parameters of GET /api/v1/generations
type HistoryQuery struct {
	Limit int `query:"limit" validate:"gte=1,lte=100"`
}

// GenerationsResponse is the body of GET /api/v1/generations
type GenerationsResponse struct {
	Generations []*models.Generation `json:"generations"`
	Count       int                  `json:"count"`
}

// GenerationsHandler serves the generation history
type GenerationsHandler struct {
	service HistoryService
	logger  observability.Logger
}

// NewGenerationsHandler creates a new GenerationsHandler
func NewGenerationsHandler(service HistoryService, logger observability.Logger) *GenerationsHandler {
	return &GenerationsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /api/v1/generations
func (h *GenerationsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := HistoryQuery{Limit: DefaultHistoryLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Validation failed", map[string]interface{}{
				"limit": "limit must be an integer",
			})
			return
		}
		query.Limit = limit
	}
	if err := utils.ValidateStruct(&query); err != nil {
		HandleValidationError(w, r, err, h.logger)
		return
	}

	list, err := h.service.Recent(ctx, query.Limit)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	if list == nil {
		list = []*models.Generation{}
	}

	if err := utils.WriteOK(w, GenerationsResponse{Generations: list, Count: len(list)}); err != nil {
		h.logger.Error(ctx, "failed to write generations response", zap.Error(err))
	}
}

// HandleGet handles GET /api/v1/generations/{id}
func (h *GenerationsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gen, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, gen); err != nil {
		h.logger.Error(ctx, "failed to write generation response", zap.Error(err))
	}
}
