package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/o11y-demo/genai-facts/models"
	"github.com/o11y-demo/genai-facts/repositories"
	"go.uber.org/zap"
)

// MaxListLimit caps ListRecent
const MaxListLimit = 100

// GenerationRepository implements the repositories.GenerationRepository interface
type GenerationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository(db *DB, logger *zap.Logger) repositories.GenerationRepository {
	return &GenerationRepository{
		db:     db,
		logger: logger,
	}
}

const generationColumns = `id, request_id, subject, model, status, finish_reason,
	prompt_tokens, completion_tokens, latency_ms, error_message, created_at`

// Create stores a generation
func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	query := `
		INSERT INTO generations (` + generationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		g.ID,
		g.RequestID,
		g.Subject,
		g.Model,
		g.Status,
		g.FinishReason,
		g.PromptTokens,
		g.CompletionTokens,
		g.LatencyMs,
		g.ErrorMessage,
		g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}

	r.logger.Debug("generation created", zap.String("id", g.ID.String()), zap.String("request_id", g.RequestID))
	return nil
}

// GetByID retrieves a generation by ID
func (r *GenerationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`

	g, err := scanGeneration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("generation %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return g, nil
}

// ListRecent returns the newest generations first
func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]*models.Generation, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	generations := make([]*models.Generation, 0, limit)
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generations: %w", err)
	}
	return generations, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGeneration(s scanner) (*models.Generation, error) {
	var (
		g         models.Generation
		requestID sql.NullString
	)
	err := s.Scan(
		&g.ID,
		&requestID,
		&g.Subject,
		&g.Model,
		&g.Status,
		&g.FinishReason,
		&g.PromptTokens,
		&g.CompletionTokens,
		&g.LatencyMs,
		&g.ErrorMessage,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.RequestID = requestID.String
	return &g, nil
}
