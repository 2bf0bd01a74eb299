package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Provider represents a generative model backend
type Provider interface {
	// Name returns the provider name (e.g., "vertex")
	Name() string

	// GenerateContent sends a single-turn prompt and returns the first candidate
	GenerateContent(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is currently available
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest represents a single-turn generation request
type GenerateRequest struct {
	// Model identifier (e.g., "gemini-2.5-flash")
	Model string `json:"model"`

	// Prompt is sent as the only user turn
	Prompt string `json:"prompt"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GenerateResponse represents the first candidate of a generation
type GenerateResponse struct {
	// Model that served the request, as reported by the backend when available
	Model string `json:"model"`

	// Text is the concatenated text of the candidate's parts. Empty when the
	// backend returned no candidate.
	Text string `json:"text"`

	// FinishReason as reported by the backend (e.g., "STOP", "MAX_TOKENS")
	FinishReason string `json:"finish_reason"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Latency of the request, retries included
	Latency time.Duration `json:"latency"`

	// Created timestamp
	Created time.Time `json:"created"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for requests
	Timeout time.Duration

	// MaxRetries for failed requests
	MaxRetries int

	// RetryDelay between retries; the n-th retry waits n*RetryDelay
	RetryDelay time.Duration

	// Additional headers
	Headers map[string]string

	// Transport is the base round tripper (optional, for tests)
	Transport http.RoundTripper
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 1 * time.Second,
		Headers:    make(map[string]string),
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// IsRateLimited reports whether the backend refused the call for quota reasons
func IsRateLimited(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTimeout reports whether the call failed because its deadline expired
func IsTimeout(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusGatewayTimeout {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
