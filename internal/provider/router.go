package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// ErrNoRoute means no fallback chain exists for the task type, i.e. no vendor
// with a configured API key can serve it.
var ErrNoRoute = errors.New("no provider chain for task type")

// AllProvidersFailed is the RouteError code set when a chain is exhausted.
const AllProvidersFailed = "ALL_PROVIDERS_FAILED"

// ChainEntry is one provider/model hop in a fallback chain.
type ChainEntry struct {
	Provider string
	Model    string
}

// ClientFactory builds a vendor client for a chain entry. It is called at
// most once per entry; the Router caches the client for the process lifetime.
type ClientFactory func(entry ChainEntry) (Client, error)

// RouterResult is a successfully routed generation. ProvidersAttempted lists
// every provider tried, in chain order, including the one that succeeded.
type RouterResult struct {
	Content            string
	Provider           string
	Model              string
	TokensIn           int
	TokensOut          int
	TotalTokens        int
	CostUSD            float64
	UsedFallback       bool
	ProvidersAttempted []string
}

// RouteError reports chain exhaustion: every provider in the chain failed.
// Err holds the last provider's error.
type RouteError struct {
	Code               string
	ProvidersAttempted []string
	Err                error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: attempted [%s]: %v", e.Code, strings.Join(e.ProvidersAttempted, ", "), e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

// Router walks an ordered per-category fallback chain. Chains are fixed at
// construction; vendor clients are built lazily and cached.
type Router struct {
	chains  map[models.TaskType][]ChainEntry
	factory ClientFactory
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]Client
}

// NewRouter creates a Router over the given chains.
func NewRouter(chains map[models.TaskType][]ChainEntry, factory ClientFactory, logger *slog.Logger) (*Router, error) {
	if len(chains) == 0 {
		return nil, errors.New("at least one provider chain is required")
	}
	if factory == nil {
		return nil, errors.New("client factory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		chains:  chains,
		factory: factory,
		logger:  logger.With("component", "provider_router"),
		clients: make(map[string]Client),
	}, nil
}

// Route tries each provider in the category's chain in order and returns the
// first success. A provider failure of any kind (fatal error, or retryable
// errors that exhausted the per-provider retry budget) advances the chain.
func (r *Router) Route(ctx context.Context, category models.TaskType, prompt string, opts GenerateOptions) (*RouterResult, error) {
	chain, ok := r.chains[category]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, category)
	}

	attempted := make([]string, 0, len(chain))
	var lastErr error
	for i, entry := range chain {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempted = append(attempted, entry.Provider)

		client, err := r.clientFor(entry)
		if err != nil {
			lastErr = err
			r.logger.Error("building provider client failed",
				"provider", entry.Provider, "model", entry.Model, "error", err)
			continue
		}

		resp, err := client.Generate(ctx, prompt, opts)
		if err != nil {
			lastErr = err
			r.logger.Warn("provider failed, advancing chain",
				"provider", entry.Provider, "model", entry.Model, "error", err)
			continue
		}

		return &RouterResult{
			Content:            resp.Content,
			Provider:           entry.Provider,
			Model:              resp.Model,
			TokensIn:           resp.TokensIn,
			TokensOut:          resp.TokensOut,
			TotalTokens:        resp.TotalTokens,
			CostUSD:            resp.CostUSD,
			UsedFallback:       i > 0,
			ProvidersAttempted: attempted,
		}, nil
	}

	return nil, &RouteError{Code: AllProvidersFailed, ProvidersAttempted: attempted, Err: lastErr}
}

func (r *Router) clientFor(entry ChainEntry) (Client, error) {
	key := entry.Provider + "/" + entry.Model
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.factory(entry)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", key, err)
	}
	r.clients[key] = c
	return c, nil
}
