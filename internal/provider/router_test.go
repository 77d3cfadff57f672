package provider_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/provider"
	"github.com/copyforgehq/copyforge/internal/provider/mock"
	"github.com/copyforgehq/copyforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// Helpers
// ========================================

func articleChain(entries ...provider.ChainEntry) map[models.TaskType][]provider.ChainEntry {
	return map[models.TaskType][]provider.ChainEntry{models.TaskTypeArticles: entries}
}

func factoryFor(clients map[string]provider.Client) provider.ClientFactory {
	return func(entry provider.ChainEntry) (provider.Client, error) {
		c, ok := clients[entry.Provider]
		if !ok {
			return nil, errors.New("no such provider: " + entry.Provider)
		}
		return c, nil
	}
}

func newTestRouter(t *testing.T, chains map[models.TaskType][]provider.ChainEntry, factory provider.ClientFactory) *provider.Router {
	t.Helper()
	r, err := provider.NewRouter(chains, factory, slog.Default())
	require.NoError(t, err)
	return r
}

// ========================================
// Route
// ========================================

func TestRoute_PrimarySucceeds(t *testing.T) {
	primary := mock.NewClient("openai", "gpt-4o")
	r := newTestRouter(t,
		articleChain(
			provider.ChainEntry{Provider: "openai", Model: "gpt-4o"},
			provider.ChainEntry{Provider: "anthropic", Model: "claude"},
		),
		factoryFor(map[string]provider.Client{"openai": primary}),
	)

	res, err := r.Route(context.Background(), models.TaskTypeArticles, "write about Go", provider.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "openai", res.Provider)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, []string{"openai"}, res.ProvidersAttempted)
	assert.Equal(t, "mock completion", res.Content)
	assert.Equal(t, 30, res.TotalTokens)
}

func TestRoute_FallbackOnPrimaryFailure(t *testing.T) {
	primary := mock.NewFailingClient("openai", provider.ErrUnauthorized)
	fallback := mock.NewClient("anthropic", "claude")

	r := newTestRouter(t,
		articleChain(
			provider.ChainEntry{Provider: "openai", Model: "gpt-4o"},
			provider.ChainEntry{Provider: "anthropic", Model: "claude"},
		),
		factoryFor(map[string]provider.Client{"openai": primary, "anthropic": fallback}),
	)

	res, err := r.Route(context.Background(), models.TaskTypeArticles, "write about Go", provider.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", res.Provider)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, []string{"openai", "anthropic"}, res.ProvidersAttempted)
	assert.Equal(t, 1, primary.Calls)
	assert.Equal(t, 1, fallback.Calls)
}

func TestRoute_AllProvidersFail(t *testing.T) {
	lastErr := provider.ErrServerError
	clients := map[string]provider.Client{
		"openai":    mock.NewFailingClient("openai", provider.ErrRateLimited),
		"anthropic": mock.NewFailingClient("anthropic", provider.ErrUnauthorized),
		"gemini":    mock.NewFailingClient("gemini", lastErr),
	}
	r := newTestRouter(t,
		articleChain(
			provider.ChainEntry{Provider: "openai", Model: "gpt-4o"},
			provider.ChainEntry{Provider: "anthropic", Model: "claude"},
			provider.ChainEntry{Provider: "gemini", Model: "flash"},
		),
		factoryFor(clients),
	)

	_, err := r.Route(context.Background(), models.TaskTypeArticles, "prompt", provider.GenerateOptions{})
	require.Error(t, err)

	var routeErr *provider.RouteError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, provider.AllProvidersFailed, routeErr.Code)
	assert.Equal(t, []string{"openai", "anthropic", "gemini"}, routeErr.ProvidersAttempted)
	assert.ErrorIs(t, err, lastErr)
}

func TestRoute_UnknownCategory(t *testing.T) {
	r := newTestRouter(t,
		articleChain(provider.ChainEntry{Provider: "openai", Model: "gpt-4o"}),
		factoryFor(map[string]provider.Client{"openai": mock.NewClient("openai", "gpt-4o")}),
	)

	_, err := r.Route(context.Background(), models.TaskTypeProducts, "prompt", provider.GenerateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNoRoute)
}

func TestRoute_ClientsAreCached(t *testing.T) {
	factoryCalls := 0
	client := mock.NewClient("openai", "gpt-4o")
	factory := func(_ provider.ChainEntry) (provider.Client, error) {
		factoryCalls++
		return client, nil
	}
	r := newTestRouter(t, articleChain(provider.ChainEntry{Provider: "openai", Model: "gpt-4o"}), factory)

	for i := 0; i < 3; i++ {
		_, err := r.Route(context.Background(), models.TaskTypeArticles, "prompt", provider.GenerateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 3, client.Calls)
}

func TestRoute_FactoryErrorAdvancesChain(t *testing.T) {
	fallback := mock.NewClient("anthropic", "claude")
	factory := func(entry provider.ChainEntry) (provider.Client, error) {
		if entry.Provider == "openai" {
			return nil, errors.New("missing key")
		}
		return fallback, nil
	}
	r := newTestRouter(t,
		articleChain(
			provider.ChainEntry{Provider: "openai", Model: "gpt-4o"},
			provider.ChainEntry{Provider: "anthropic", Model: "claude"},
		),
		factory,
	)

	res, err := r.Route(context.Background(), models.TaskTypeArticles, "prompt", provider.GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, []string{"openai", "anthropic"}, res.ProvidersAttempted)
}

func TestNewRouter_RequiresChainsAndFactory(t *testing.T) {
	_, err := provider.NewRouter(nil, factoryFor(nil), slog.Default())
	assert.Error(t, err)

	_, err = provider.NewRouter(articleChain(provider.ChainEntry{Provider: "openai"}), nil, slog.Default())
	assert.Error(t, err)
}

// ========================================
// Chains
// ========================================

func chainProviders(entries []provider.ChainEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Provider
	}
	return names
}

func TestChains_AllProvidersConfigured(t *testing.T) {
	cfg := config.ProvidersConfig{
		OpenAI:    config.OpenAIConfig{APIKey: "k1", Model: "gpt-4o"},
		Anthropic: config.AnthropicConfig{APIKey: "k2", Model: "claude"},
		Gemini:    config.GeminiConfig{APIKey: "k3", Model: "flash"},
	}
	chains := provider.Chains(cfg)

	assert.Equal(t, []string{"openai", "anthropic", "gemini"}, chainProviders(chains[models.TaskTypeArticles]))
	assert.Equal(t, []string{"openai", "gemini", "anthropic"}, chainProviders(chains[models.TaskTypeProducts]))
	assert.Equal(t, []string{"anthropic", "openai", "gemini"}, chainProviders(chains[models.TaskTypeDesignSections]))
}

func TestChains_SkipsUnkeyedProviders(t *testing.T) {
	cfg := config.ProvidersConfig{
		Anthropic: config.AnthropicConfig{APIKey: "k2", Model: "claude"},
	}
	chains := provider.Chains(cfg)

	for _, category := range []models.TaskType{models.TaskTypeArticles, models.TaskTypeProducts, models.TaskTypeDesignSections} {
		require.Len(t, chains[category], 1, "category %s", category)
		assert.Equal(t, "anthropic", chains[category][0].Provider)
	}
}

func TestChains_NoProvidersYieldsNoChains(t *testing.T) {
	chains := provider.Chains(config.ProvidersConfig{})
	assert.Empty(t, chains)
}
