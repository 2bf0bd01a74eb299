package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus represents the outcome of a facts generation
type GenerationStatus string

const (
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// Generation records one call to the model for a subject
type Generation struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	RequestID string           `json:"request_id" db:"request_id"` // chi request id of the HTTP call
	Subject   string           `json:"subject" db:"subject"`
	Model     string           `json:"model" db:"model"`
	Status    GenerationStatus `json:"status" db:"status"`

	FinishReason     *string `json:"finish_reason,omitempty" db:"finish_reason"`
	PromptTokens     int     `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" db:"completion_tokens"`
	LatencyMs        int     `json:"latency_ms" db:"latency_ms"`

	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Generation model
func (Generation) TableName() string {
	return "generations"
}

// NewGeneration creates a new Generation instance
func NewGeneration(id uuid.UUID, requestID, subject, model string) *Generation {
	return &Generation{
		ID:        id,
		RequestID: requestID,
		Subject:   subject,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkAsCompleted marks the generation as completed
func (g *Generation) MarkAsCompleted(finishReason string, promptTokens, completionTokens int, latency time.Duration) {
	g.Status = GenerationStatusCompleted
	g.FinishReason = &finishReason
	g.PromptTokens = promptTokens
	g.CompletionTokens = completionTokens
	g.LatencyMs = int(latency.Milliseconds())
}

// MarkAsFailed marks the generation as failed
func (g *Generation) MarkAsFailed(errorMessage string, latency time.Duration) {
	g.Status = GenerationStatusFailed
	g.ErrorMessage = &errorMessage
	g.LatencyMs = int(latency.Milliseconds())
}

// TotalTokens is the sum of prompt and completion tokens
func (g *Generation) TotalTokens() int {
	return g.PromptTokens + g.CompletionTokens
}
