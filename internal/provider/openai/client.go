package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/provider"
)

// Client implements provider.Client against the OpenAI chat completions API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	retry   provider.RetryPolicy
}

// NewClient creates an OpenAI client bound to one model.
func NewClient(cfg config.OpenAIConfig, retry provider.RetryPolicy, timeout time.Duration) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
	}
}

func (c *Client) Name() string  { return "openai" }
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Response, error) {
	return c.retry.Do(ctx, "openai", func(ctx context.Context) (*provider.Response, error) {
		return c.generateOnce(ctx, prompt, opts)
	})
}

func (c *Client) generateOnce(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = provider.DefaultTemperature
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, provider.ClassifyStatus(resp.StatusCode, errResp.Error.Message)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", provider.ErrInvalidResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", provider.ErrInvalidResponse)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, fmt.Errorf("%w: finish_reason content_filter", provider.ErrContentBlocked)
	}
	if choice.Message.Content == "" {
		return nil, fmt.Errorf("%w: empty completion", provider.ErrInvalidResponse)
	}

	tokensIn := chatResp.Usage.PromptTokens
	tokensOut := chatResp.Usage.CompletionTokens
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = provider.EstimateTokens(prompt)
		tokensOut = provider.EstimateTokens(choice.Message.Content)
	}

	model := chatResp.Model
	if model == "" {
		model = c.model
	}

	return &provider.Response{
		Content:     choice.Message.Content,
		Model:       model,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		TotalTokens: tokensIn + tokensOut,
		CostUSD:     provider.Cost(c.model, tokensIn, tokensOut),
	}, nil
}

// --- chat completions API types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Compile-time check that Client implements provider.Client.
var _ provider.Client = (*Client)(nil)
