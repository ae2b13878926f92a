// internal/llmclient/factory_test.go
package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("single model", func(t *testing.T) {
		client, err := NewClient(context.Background(), getValidLLMConfig(), logger)
		require.NoError(t, err)
		limited, ok := client.(*RateLimitedClient)
		require.True(t, ok)
		assert.IsType(t, &GoogleClient{}, limited.next)
	})

	t.Run("fast model gets a router", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.FastModel = "test-model-lite"
		client, err := NewClient(context.Background(), cfg, logger)
		require.NoError(t, err)
		router, ok := client.(*RateLimitedClient).next.(*LLMRouter)
		require.True(t, ok)
		assert.Len(t, router.clients, 2)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Provider = "openai"
		_, err := NewClient(context.Background(), cfg, logger)
		assert.ErrorContains(t, err, "unsupported LLM provider")
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		_, err := NewClient(context.Background(), cfg, logger)
		assert.Error(t, err)
	})
}
