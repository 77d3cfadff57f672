package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/provider"
)

const apiVersion = "2023-06-01"

// Client implements provider.Client against the Anthropic messages API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	retry   provider.RetryPolicy
}

// NewClient creates an Anthropic client bound to one model.
func NewClient(cfg config.AnthropicConfig, retry provider.RetryPolicy, timeout time.Duration) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
	}
}

func (c *Client) Name() string  { return "anthropic" }
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.Response, error) {
	return c.retry.Do(ctx, "anthropic", func(ctx context.Context) (*provider.Response, error) {
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

	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []messageParam{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/messages", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp messagesErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, provider.ClassifyStatus(resp.StatusCode, errResp.Error.Message)
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", provider.ErrInvalidResponse, err)
	}
	if msgResp.StopReason == "refusal" {
		return nil, fmt.Errorf("%w: stop_reason refusal", provider.ErrContentBlocked)
	}

	var sb strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()
	if content == "" {
		return nil, fmt.Errorf("%w: no text content returned", provider.ErrInvalidResponse)
	}

	tokensIn := msgResp.Usage.InputTokens
	tokensOut := msgResp.Usage.OutputTokens
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = provider.EstimateTokens(prompt)
		tokensOut = provider.EstimateTokens(content)
	}

	model := msgResp.Model
	if model == "" {
		model = c.model
	}

	return &provider.Response{
		Content:     content,
		Model:       model,
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		TotalTokens: tokensIn + tokensOut,
		CostUSD:     provider.Cost(c.model, tokensIn, tokensOut),
	}, nil
}

// --- messages API types ---

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
	Messages    []messageParam `json:"messages"`
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      messagesUsage  `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type messagesErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Compile-time check that Client implements provider.Client.
var _ provider.Client = (*Client)(nil)
