package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/o11y-demo/genai-facts/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// GenerationRepository handles generation history
type GenerationRepository interface {
	// Create stores a generation
	Create(ctx context.Context, g *models.Generation) error

	// GetByID retrieves a generation by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error)

	// ListRecent returns the newest generations first, at most limit of them
	ListRecent(ctx context.Context, limit int) ([]*models.Generation, error)
}
