package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/o11y-demo/genai-facts/services/providers"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	providerName = "vertex"
	cloudScope   = "https://www.googleapis.com/auth/cloud-platform"

	// Error bodies beyond this size are truncated in error messages.
	maxErrorBody = 1 << 10
)

// Config configures the Vertex AI adapter
type Config struct {
	providers.ProviderConfig

	ProjectID string
	Region    string

	// TokenSource authenticates requests. Application default credentials
	// are used when nil.
	TokenSource oauth2.TokenSource
}

// Adapter implements providers.Provider for Gemini models on Vertex AI
type Adapter struct {
	config     Config
	tokens     oauth2.TokenSource
	httpClient *http.Client
	parsers    fastjson.ParserPool
}

// NewAdapter creates a new Vertex AI adapter
func NewAdapter(ctx context.Context, config Config) (*Adapter, error) {
	if config.Region == "" {
		return nil, errors.New("vertex: region is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", config.Region)
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}

	tokens := config.TokenSource
	if tokens == nil {
		ts, err := google.DefaultTokenSource(ctx, cloudScope)
		if err != nil {
			return nil, fmt.Errorf("vertex: load application default credentials: %w", err)
		}
		tokens = ts
	}
	tokens = oauth2.ReuseTokenSource(nil, tokens)

	base := config.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Adapter{
		config: config,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   otelhttp.NewTransport(base),
			},
		},
	}, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return providerName
}

// Endpoint returns the generateContent URL for model
func (a *Adapter) Endpoint(model string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		a.config.BaseURL, a.config.ProjectID, a.config.Region, model)
}

// GenerateContent performs a single-turn generateContent call
func (a *Adapter) GenerateContent(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	startTime := time.Now()

	if req.Model == "" {
		return nil, providers.NewProviderError(a.Name(), "INVALID_MODEL", "model is required", http.StatusBadRequest, false, nil)
	}

	reqBody, err := json.Marshal(buildRequest(req.Prompt))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	// Execute request with retry logic
	var (
		statusCode int
		respBody   []byte
		lastErr    error
	)
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, a.config.RetryDelay*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		statusCode, respBody, lastErr = a.do(ctx, req.Model, reqBody)
		if lastErr == nil && statusCode < 500 {
			break
		}
	}

	if lastErr != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, lastErr)
	}

	// Handle error responses
	if statusCode != http.StatusOK {
		return nil, a.handleErrorResponse(statusCode, respBody)
	}

	resp, err := a.parseResponse(respBody)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to parse response", statusCode, false, err)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	resp.Latency = time.Since(startTime)
	resp.Created = startTime
	return resp, nil
}

// IsAvailable reports whether credentials can be obtained
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.tokens.Token()
	return err == nil
}

func (a *Adapter) do(ctx context.Context, model string, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint(model), bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return httpResp.StatusCode, respBody, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseResponse extracts the first part of the first candidate. A response without
// candidates yields an empty Text and, when the prompt was blocked, a
// FinishReason of the form "BLOCKED:<reason>".
func (a *Adapter) parseResponse(body []byte) (*providers.GenerateResponse, error) {
	p := a.parsers.Get()
	defer a.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, err
	}

	resp := &providers.GenerateResponse{
		Provider: a.Name(),
		Model:    string(v.GetStringBytes("modelVersion")),
		Usage: providers.Usage{
			PromptTokens:     v.GetInt("usageMetadata", "promptTokenCount"),
			CompletionTokens: v.GetInt("usageMetadata", "candidatesTokenCount"),
			TotalTokens:      v.GetInt("usageMetadata", "totalTokenCount"),
		},
	}

	candidates := v.GetArray("candidates")
	if len(candidates) == 0 {
		if reason := v.GetStringBytes("promptFeedback", "blockReason"); len(reason) > 0 {
			resp.FinishReason = "BLOCKED:" + string(reason)
		}
		return resp, nil
	}

	first := candidates[0]
	resp.FinishReason = string(first.GetStringBytes("finishReason"))

	// Only the first part is served; the prompt asks for a single HTML document.
	if parts := first.GetArray("content", "parts"); len(parts) > 0 {
		resp.Text = string(parts[0].GetStringBytes("text"))
	}
	return resp, nil
}

// handleErrorResponse converts a google.rpc.Status error body
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	retryable := statusCode >= 500

	p := a.parsers.Get()
	defer a.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil || v.Get("error") == nil {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", msg, statusCode, retryable, err)
	}

	code := string(v.GetStringBytes("error", "status"))
	if code == "" {
		code = "UNKNOWN_ERROR"
	}
	msg := string(v.GetStringBytes("error", "message"))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return providers.NewProviderError(a.Name(), code, msg, statusCode, retryable, nil)
}

// Vertex AI request types

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

func buildRequest(prompt string) generateContentRequest {
	return generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
}
