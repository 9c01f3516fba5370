package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-intel/internal/config"
)

func TestLimiterPoolSharesVendorEndpoint(t *testing.T) {
	gemini := "https://generativelanguage.googleapis.com/v1beta/openai"
	providers := config.ProvidersConfig{
		Classifier:    config.ProviderConfig{BaseURL: "https://api.groq.com/openai/v1", MinInterval: 2 * time.Second},
		Pattern:       config.ProviderConfig{BaseURL: gemini, MinInterval: 4 * time.Second},
		Meta:          config.ProviderConfig{BaseURL: gemini + "/", MinInterval: 6 * time.Second},
		Search:        config.ProviderConfig{BaseURL: gemini, MinInterval: 4 * time.Second},
		Corroboration: config.ProviderConfig{BaseURL: "https://api.perplexity.ai"},
		Quote:         config.ProviderConfig{MinInterval: 8 * time.Second},
	}
	pool := newLimiterPool(providers)
	assert.Len(t, pool, 3)

	pattern := pool.get("pattern", providers.Pattern)
	require.NotNil(t, pattern)
	assert.Same(t, pattern, pool.get("meta", providers.Meta))
	assert.Same(t, pattern, pool.get("search", providers.Search))
	assert.NotSame(t, pattern, pool.get("classifier", providers.Classifier))
	assert.NotNil(t, pool.get("quote", providers.Quote))
	assert.Nil(t, pool.get("corroboration", providers.Corroboration))

	// a call through one role spends the slot for the others
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pattern.Wait(ctx))
	assert.Error(t, pool.get("meta", providers.Meta).Wait(ctx))
	assert.NoError(t, pool.get("classifier", providers.Classifier).Wait(ctx))
}
