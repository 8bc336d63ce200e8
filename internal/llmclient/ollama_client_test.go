// internal/llmclient/ollama_client_test.go
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

func newTestOllamaClient(t *testing.T, endpoint string) *OllamaClient {
	t.Helper()
	return NewOllamaClient(config.LLMModelConfig{
		Provider:   config.ProviderOllama,
		Model:      "llama3.1:8b",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
	}, nil, zaptest.NewLogger(t))
}

func TestOllamaClient_Generate(t *testing.T) {
	t.Run("successful generation", func(t *testing.T) {
		var gotReq ollamaRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			json.NewEncoder(w).Encode(ollamaResponse{
				Model:   gotReq.Model,
				Message: ollamaMessage{Role: "assistant", Content: "patched"},
				Done:    true,
			})
		}))
		defer server.Close()

		client := newTestOllamaClient(t, server.URL)
		out, err := client.Generate(context.Background(), schemas.GenerationRequest{
			System: "You fix code.",
			Prompt: "fix it",
			Options: schemas.GenerationOptions{
				Model:     "qwen2.5-coder",
				ForceJSON: true,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "patched", out)

		assert.Equal(t, "qwen2.5-coder", gotReq.Model)
		assert.Equal(t, "json", gotReq.Format)
		require.Len(t, gotReq.Messages, 2)
		assert.Equal(t, "system", gotReq.Messages[0].Role)
		assert.Equal(t, "user", gotReq.Messages[1].Role)
	})

	t.Run("defaults the model", func(t *testing.T) {
		var gotReq ollamaRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMessage{Content: "ok"}, Done: true})
		}))
		defer server.Close()

		client := newTestOllamaClient(t, server.URL)
		_, err := client.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "llama3.1:8b", gotReq.Model)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		client := newTestOllamaClient(t, server.URL)
		_, err := client.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestNewClientFactory(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	routerCfg := config.LLMRouterConfig{
		DefaultModel:   "gemini-2.5-pro",
		RequestsPerMin: 30,
		Models: map[string]config.LLMModelConfig{
			"gemini": {
				Provider: config.ProviderGemini,
				APIKey:   "key",
			},
			"local-coder": {
				Provider: config.ProviderOllama,
				Model:    "qwen2.5-coder",
			},
		},
		Profiles: map[string]config.ModelProfile{
			"gemini-2.5-pro": {Provider: "gemini", BaseCapability: 0.85},
			"local-coder":    {Provider: "ollama", BaseCapability: 0.55},
		},
		FallbackProfile: config.ModelProfile{Provider: "ollama", BaseCapability: 0.5},
	}

	t.Run("resolves gemini via provider entry", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(routerCfg, "gemini-2.5-pro", logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("resolves per-model entry", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(routerCfg, "local-coder", logger)
		require.NoError(t, err)
		assert.IsType(t, &OllamaClient{}, client)
	})

	t.Run("unknown model falls back to ollama", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(routerCfg, "mystery-model", logger)
		require.NoError(t, err)
		assert.IsType(t, &OllamaClient{}, client)
	})

	t.Run("empty model uses the default", func(t *testing.T) {
		t.Parallel()
		client, err := NewClient(routerCfg, "", logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})
}
