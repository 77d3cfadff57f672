// Package provider routes generation requests to upstream AI vendors with
// per-provider retry and ordered fallback between vendors.
package provider

import "context"

// Client is the interface every vendor integration implements. Pipeline code
// never calls vendor APIs directly, always through a Client.
type Client interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Response, error)
	// Name returns the vendor identifier (e.g., "openai").
	Name() string
	// Model returns the model this client is bound to.
	Model() string
}

// Defaults applied by vendor clients when the caller leaves options zero.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Response is a normalized vendor completion with usage accounting attached.
// TotalTokens is always TokensIn + TokensOut.
type Response struct {
	Content     string
	Model       string
	TokensIn    int
	TokensOut   int
	TotalTokens int
	CostUSD     float64
}

// EstimateTokens approximates usage at four characters per token, for vendor
// replies that omit a usage block.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
