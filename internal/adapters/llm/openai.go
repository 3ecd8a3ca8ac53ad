// Package llm adapts an OpenAI-compatible chat endpoint to the engine's
// completion port, via the eino model component.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/pkg/ports"
)

// Config selects the chat endpoint and credentials.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Client implements ports.LLMClient. A chat model is constructed per call
// because graph nodes pin their own model name and generation settings.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an LLM client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, req ports.LLMRequest) (string, error) {
	name := req.Model
	if name == "" {
		name = c.cfg.DefaultModel
	}

	temperature := float32(req.Temperature)
	maxTokens := req.MaxTokens

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      c.cfg.APIKey,
		BaseURL:     c.cfg.BaseURL,
		Model:       name,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat model: %w", err)
	}

	messages := make([]*schema.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, schema.UserMessage(req.Query))

	c.logger.Debug("llm completion", "model", name, "max_tokens", maxTokens)

	out, err := cm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return out.Content, nil
}
