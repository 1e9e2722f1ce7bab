// Package openai answers general chat through an OpenAI-compatible
// chat-completions endpoint.
package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ChainPilot/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 30 * time.Second
	chatTemperature  = 0.2
)

// Config holds the client settings. BaseURL may point at any compatible
// server; the official endpoint is used when empty.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxRetries is handed to the SDK; zero disables retries.
	MaxRetries int
}

// Client wraps the official SDK behind llm.Client.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cmp.Or(cfg.Timeout, defaultTimeout)),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(cmp.Or(strings.TrimSpace(cfg.Model), defaultModelName)),
	}, nil
}

// Generate sends the system prompt and one user turn and returns the first
// choice. Every failure is reported as CHAT_UNAVAILABLE.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llm.SystemPrompt),
			openai.UserMessage(llm.BuildPrompt(req)),
		},
		Temperature: openai.Float(chatTemperature),
	})
	if err != nil {
		return nil, llm.Unavailable(describe(err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, llm.Unavailable(errors.New("openai response has no choices"))
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return nil, llm.Unavailable(errors.New("openai response has no text"))
	}
	return &llm.Response{Reply: reply}, nil
}

// describe keeps the status code and the server's own message for API errors.
func describe(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Errorf("openai status %d: %s: %w", apiErr.StatusCode, apiErr.Message, err)
	}
	return err
}

var _ llm.Client = (*Client)(nil)
