package mock

import (
	"context"

	"github.com/copyforgehq/copyforge/internal/provider"
)

// Client satisfies provider.Client for testing.
type Client struct {
	Name_        string
	Model_       string
	GenerateFunc func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Response, error)

	// Calls counts Generate invocations.
	Calls int
}

func (m *Client) Name() string  { return m.Name_ }
func (m *Client) Model() string { return m.Model_ }

func (m *Client) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Response, error) {
	m.Calls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, opts)
	}
	return &provider.Response{
		Content:     "mock completion",
		Model:       m.Model_,
		TokensIn:    10,
		TokensOut:   20,
		TotalTokens: 30,
		CostUSD:     0.001,
	}, nil
}

// NewClient returns a mock that succeeds with a canned completion.
func NewClient(name, model string) *Client {
	return &Client{Name_: name, Model_: model}
}

// NewFailingClient returns a mock that always returns the given error.
func NewFailingClient(name string, err error) *Client {
	return &Client{
		Name_:  name,
		Model_: name + "-model",
		GenerateFunc: func(_ context.Context, _ string, _ provider.GenerateOptions) (*provider.Response, error) {
			return nil, err
		},
	}
}

// NewBlockingClient returns a mock that blocks until context is cancelled.
func NewBlockingClient(name string) *Client {
	return &Client{
		Name_:  name,
		Model_: name + "-model",
		GenerateFunc: func(ctx context.Context, _ string, _ provider.GenerateOptions) (*provider.Response, error) {
			<-ctx.Done()
			return nil, provider.ClassifyTransport(ctx.Err())
		},
	}
}

// Compile-time check that Client implements provider.Client.
var _ provider.Client = (*Client)(nil)
