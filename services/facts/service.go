// Package facts generates fun facts about a subject with a generative model.
package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/o11y-demo/genai-facts/internal/observability"
	"github.com/o11y-demo/genai-facts/internal/prompt"
	"github.com/o11y-demo/genai-facts/models"
	"github.com/o11y-demo/genai-facts/repositories"
	"github.com/o11y-demo/genai-facts/services"
	"github.com/o11y-demo/genai-facts/services/providers"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultSubject is used when the caller names none.
	DefaultSubject = "dog"

	// MaxSubjectLength is measured in runes.
	MaxSubjectLength = 100

	historyWriteTimeout = 2 * time.Second
)

// BuildPrompt returns the prompt sent to the model for subject.
func BuildPrompt(subject string) string {
	return fmt.Sprintf("Give me 10 fun facts about %s. Return this as html without backticks.", subject)
}

// Config holds the service settings
type Config struct {
	Model string

	// RateLimit is the number of model calls allowed per second; zero
	// disables limiting.
	RateLimit float64
	RateBurst int

	// PromptGuard rejects subjects that look like prompt injection.
	PromptGuard bool
}

// Result is a successful generation
type Result struct {
	ID               uuid.UUID     `json:"id"`
	Subject          string        `json:"subject"`
	Prompt           string        `json:"prompt"`
	Text             string        `json:"text"`
	Model            string        `json:"model"`
	FinishReason     string        `json:"finish_reason"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`
}

// Service generates facts and keeps an optional history of calls
type Service struct {
	config   Config
	provider providers.Provider
	history  repositories.GenerationRepository
	metrics  observability.Metrics
	limiter  *rate.Limiter
	guard    *prompt.Guard
	tracer   trace.Tracer
	logger   observability.Logger
}

// NewService creates a new facts service. history may be nil.
func NewService(
	config Config,
	provider providers.Provider,
	history repositories.GenerationRepository,
	metrics observability.Metrics,
	tracerProvider trace.TracerProvider,
	logger observability.Logger,
) *Service {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	var guard *prompt.Guard
	if config.PromptGuard {
		guard = prompt.NewGuard(prompt.DefaultThreshold)
	}

	return &Service{
		config:   config,
		provider: provider,
		history:  history,
		metrics:  metrics,
		limiter:  limiter,
		guard:    guard,
		tracer:   tracerProvider.Tracer(observability.ScopeName),
		logger:   logger.With(zap.String("component", "facts")),
	}
}

// Model returns the configured model name
func (s *Service) Model() string {
	return s.config.Model
}

// HistoryEnabled reports whether generations are recorded
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// NormalizeSubject trims subject and applies the default. It fails when the
// subject is longer than MaxSubjectLength.
func NormalizeSubject(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return DefaultSubject, nil
	}
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		return "", services.ErrSubjectTooLong.Wrap(nil).WithDetail("max_length", MaxSubjectLength)
	}
	return subject, nil
}

// Generate asks the model for facts about subject
func (s *Service) Generate(ctx context.Context, subject string) (*Result, error) {
	subject, err := NormalizeSubject(subject)
	if err != nil {
		return nil, err
	}

	if s.guard != nil {
		var injErr *prompt.InjectionError
		if err := s.guard.Check(subject); errors.As(err, &injErr) {
			s.logger.Warn(ctx, "Subject rejected by prompt guard",
				zap.String("subject", subject),
				zap.String("injection_type", string(injErr.Type)))
			return nil, services.ErrSubjectRejected.Wrap(err).WithDetail("injection_type", string(injErr.Type))
		}
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn(ctx, "Model call rate limit exceeded", zap.String("subject", subject))
		return nil, services.ErrRateLimitExceeded
	}

	ctx, span := s.tracer.Start(ctx, "generate-facts",
		trace.WithAttributes(
			attribute.String("facts.subject", subject),
			attribute.String("gen_ai.request.model", s.config.Model),
		))
	defer span.End()

	promptText := BuildPrompt(subject)
	gen := models.NewGeneration(uuid.New(), chimw.GetReqID(ctx), subject, s.config.Model)
	labels := observability.RequestLabels{Model: s.config.Model}

	start := time.Now()
	resp, err := s.provider.GenerateContent(ctx, &providers.GenerateRequest{
		Model:    s.config.Model,
		Prompt:   promptText,
		Metadata: map[string]string{"subject": subject, "generation_id": gen.ID.String()},
	})
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		labels.Status = "error"
		s.metrics.RecordLatency(ctx, latency.Seconds(), labels)

		s.logger.Error(ctx, "Model call failed",
			zap.String("subject", subject),
			zap.String("generation_id", gen.ID.String()),
			zap.Error(err))
		gen.MarkAsFailed(err.Error(), latency)
		s.record(ctx, gen)
		return nil, classify(err)
	}

	labels.Status = "success"
	s.metrics.RecordLatency(ctx, latency.Seconds(), labels)
	s.metrics.RecordTokens(ctx, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, labels)
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.finish_reason", resp.FinishReason),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)

	if resp.Text == "" {
		span.SetStatus(codes.Error, "empty response")
		s.logger.Warn(ctx, "Model returned no content",
			zap.String("subject", subject),
			zap.String("finish_reason", resp.FinishReason))
		gen.MarkAsFailed("empty response: "+resp.FinishReason, latency)
		gen.FinishReason = &resp.FinishReason
		s.record(ctx, gen)
		return nil, services.ErrEmptyResponse.Wrap(nil).WithDetail("finish_reason", resp.FinishReason)
	}

	s.metrics.RecordModelCall(ctx)
	s.logger.Debug(ctx, "Content is generated",
		zap.String("subject", subject),
		zap.String("prompt", promptText),
		zap.String("response", resp.Text))

	gen.MarkAsCompleted(resp.FinishReason, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, latency)
	s.record(ctx, gen)

	return &Result{
		ID:               gen.ID,
		Subject:          subject,
		Prompt:           promptText,
		Text:             resp.Text,
		Model:            resp.Model,
		FinishReason:     resp.FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          latency,
	}, nil
}

// Recent returns the latest recorded generations
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.Generation, error) {
	if s.history == nil {
		return nil, services.ErrHistoryDisabled
	}
	list, err := s.history.ListRecent(ctx, limit)
	if err != nil {
		return nil, services.ErrDatabaseError.Wrap(err)
	}
	return list, nil
}

// Get returns one recorded generation. id must be a UUID.
func (s *Service) Get(ctx context.Context, id string) (*models.Generation, error) {
	if s.history == nil {
		return nil, services.ErrHistoryDisabled
	}
	gid, err := uuid.Parse(id)
	if err != nil {
		return nil, services.ErrInvalidInput.Wrap(err).WithDetail("id", "id must be a UUID")
	}
	g, err := s.history.GetByID(ctx, gid)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil, services.ErrGenerationNotFound.Wrap(err).WithDetail("id", gid.String())
	case err != nil:
		return nil, services.ErrDatabaseError.Wrap(err)
	}
	return g, nil
}

// record stores gen; failures are logged and otherwise ignored.
func (s *Service) record(ctx context.Context, gen *models.Generation) {
	if s.history == nil {
		return
	}
	// The request may already be cancelled; the write should still happen.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	if err := s.history.Create(ctx, gen); err != nil {
		s.logger.Warn(ctx, "Failed to record generation",
			zap.String("generation_id", gen.ID.String()),
			zap.Error(err))
	}
}

func classify(err error) error {
	switch {
	case providers.IsRateLimited(err):
		return services.ErrModelQuota.Wrap(err)
	case providers.IsTimeout(err):
		return services.ErrModelTimeout.Wrap(err)
	default:
		return services.ErrModelFailed.Wrap(err)
	}
}
