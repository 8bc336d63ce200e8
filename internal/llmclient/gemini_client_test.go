// internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

func geminiSuccessBody(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     10,
			"candidatesTokenCount": 20,
			"totalTokenCount":      30,
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func newTestGeminiClient(t *testing.T, endpoint string) *GeminiClient {
	t.Helper()
	client, err := NewGeminiClient(config.LLMModelConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-pro",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
		MaxTokens:  1024,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewGeminiClient_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := NewGeminiClient(config.LLMModelConfig{Model: "gemini-2.5-pro"}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestGeminiClient_Generate(t *testing.T) {
	t.Run("successful generation", func(t *testing.T) {
		var gotPayload geminiRequestPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(geminiSuccessBody("the fix")))
		}))
		defer server.Close()

		client := newTestGeminiClient(t, server.URL)
		out, err := client.Generate(context.Background(), schemas.GenerationRequest{
			System: "You fix code.",
			Prompt: "fix it",
			Options: schemas.GenerationOptions{
				Temperature: 0.2,
				ForceJSON:   true,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "the fix", out)

		require.Len(t, gotPayload.Contents, 1)
		assert.Equal(t, "fix it", gotPayload.Contents[0].Parts[0].Text)
		require.NotNil(t, gotPayload.SystemInstruction)
		assert.Equal(t, "You fix code.", gotPayload.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "application/json", gotPayload.GenerationConfig.ResponseMimeType)
		// MaxTokens falls back to the connection-level setting.
		assert.Equal(t, 1024, gotPayload.GenerationConfig.MaxOutputTokens)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(geminiSuccessBody("second try")))
		}))
		defer server.Close()

		client := newTestGeminiClient(t, server.URL)
		out, err := client.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "second try", out)
		assert.GreaterOrEqual(t, calls.Load(), int32(2))
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer server.Close()

		client := newTestGeminiClient(t, server.URL)
		_, err := client.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("safety block is permanent", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`))
		}))
		defer server.Close()

		client := newTestGeminiClient(t, server.URL)
		_, err := client.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "SAFETY")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestGeminiClient(t, server.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Generate(ctx, schemas.GenerationRequest{Prompt: "p"})
		assert.Error(t, err)
	})
}
