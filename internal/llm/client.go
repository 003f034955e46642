// Package llm adapts an OpenAI-compatible chat endpoint to the one-prompt,
// one-answer shape the repair loop needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrNoChoices is returned when the endpoint answers without a choice.
var ErrNoChoices = errors.New("llm: response has no choices")

type Config struct {
	APIKey  string
	BaseURL string // empty means the OpenAI default
	Model   string
	// SystemPrompt is sent ahead of every prompt when set.
	SystemPrompt string
	// RequestsPerMinute caps outgoing calls; 0 disables the limiter.
	RequestsPerMinute int
	// Timeout bounds one HTTP round-trip; 0 means no client timeout.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Client struct {
	client  *openai.Client
	model   string
	system  string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New builds a client. It does not contact the endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("llm: requests per minute must be >= 0, got %d", cfg.RequestsPerMinute)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		logger: cfg.Logger,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Chat sends prompt as a single user message and returns the first
// choice. Its signature matches governance.ChatFunc.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limiter: %w", err)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Dur("elapsed", time.Since(start)).
		Msg("chat_complete")
	return resp.Choices[0].Message.Content, nil
}
