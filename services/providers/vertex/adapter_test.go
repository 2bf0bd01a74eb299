package vertex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/o11y-demo/genai-facts/services/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const successBody = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "<ul><li>Dogs have wet noses.</li></ul>"}, {"text": "<p>trailing part</p>"}]},
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 14, "candidatesTokenCount": 120, "totalTokenCount": 134},
  "modelVersion": "gemini-2.5-flash-001"
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc, maxRetries int) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		ProviderConfig: providers.ProviderConfig{
			BaseURL:    server.URL,
			Timeout:    5 * time.Second,
			MaxRetries: maxRetries,
			RetryDelay: time.Millisecond,
			Headers:    map[string]string{"X-Goog-User-Project": "proj1"},
		},
		ProjectID:   "proj1",
		Region:      "us-west1",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
	}
	adapter, err := NewAdapter(context.Background(), cfg)
	require.NoError(t, err)
	return adapter
}

func TestNewAdapter_Defaults(t *testing.T) {
	adapter, err := NewAdapter(context.Background(), Config{
		ProjectID:   "proj1",
		Region:      "europe-west4",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
	})
	require.NoError(t, err)

	assert.Equal(t, "vertex", adapter.Name())
	assert.Equal(t,
		"https://europe-west4-aiplatform.googleapis.com/v1/projects/proj1/locations/europe-west4/publishers/google/models/gemini-2.5-flash:generateContent",
		adapter.Endpoint("gemini-2.5-flash"))
	assert.Equal(t, 60*time.Second, adapter.httpClient.Timeout)
	assert.True(t, adapter.IsAvailable(context.Background()))
}

func TestNewAdapter_RequiresRegion(t *testing.T) {
	_, err := NewAdapter(context.Background(), Config{ProjectID: "p"})
	assert.Error(t, err)
}

func TestAdapter_GenerateContent_Success(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/proj1/locations/us-west1/publishers/google/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "proj1", r.Header.Get("X-Goog-User-Project"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req generateContentRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "Give me 10 fun facts about dog.", req.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(successBody))
	}, 0)

	resp, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{
		Model:  "gemini-2.5-flash",
		Prompt: "Give me 10 fun facts about dog.",
	})
	require.NoError(t, err)

	// Later parts are dropped.
	assert.Equal(t, "<ul><li>Dogs have wet noses.</li></ul>", resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.Equal(t, "vertex", resp.Provider)
	assert.Equal(t, providers.Usage{PromptTokens: 14, CompletionTokens: 120, TotalTokens: 134}, resp.Usage)
	assert.False(t, resp.Created.IsZero())
}

func TestAdapter_GenerateContent_NoCandidates(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"},"usageMetadata":{"promptTokenCount":3}}`))
	}, 0)

	resp, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)

	assert.Empty(t, resp.Text)
	assert.Equal(t, "BLOCKED:SAFETY", resp.FinishReason)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
}

func TestAdapter_GenerateContent_RetriesServerErrors(t *testing.T) {
	var calls int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		// Every attempt must carry the full body.
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"text":"p"`)

		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"try again","status":"UNAVAILABLE"}}`))
			return
		}
		_, _ = w.Write([]byte(successBody))
	}, 2)

	resp, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "STOP", resp.FinishReason)
}

func TestAdapter_GenerateContent_ServerErrorAfterRetries(t *testing.T) {
	var calls int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`))
	}, 1)

	_, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "INTERNAL", provErr.Code)
	assert.Equal(t, http.StatusInternalServerError, provErr.StatusCode)
	assert.True(t, provErr.Retryable)
}

func TestAdapter_GenerateContent_QuotaNotRetried(t *testing.T) {
	var calls int32
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}, 3)

	_, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.True(t, providers.IsRateLimited(err))
	assert.Equal(t, "Quota exceeded", err.Error())
}

func TestAdapter_GenerateContent_NonJSONError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}, 0)

	_, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "UNKNOWN_ERROR", provErr.Code)
	assert.Equal(t, http.StatusForbidden, provErr.StatusCode)
	assert.False(t, provErr.Retryable)
}

func TestAdapter_GenerateContent_MalformedBody(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [`))
	}, 0)

	_, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Model: "m", Prompt: "p"})

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "UNMARSHAL_ERROR", provErr.Code)
}

func TestAdapter_GenerateContent_MissingModel(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected")
	}, 0)

	_, err := adapter.GenerateContent(context.Background(), &providers.GenerateRequest{Prompt: "p"})

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "INVALID_MODEL", provErr.Code)
}

func TestAdapter_GenerateContent_ContextCanceled(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(successBody))
	}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.GenerateContent(ctx, &providers.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
