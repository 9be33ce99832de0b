package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/webclient"
)

var (
	ErrMissingAPIKey = errors.New("llm: API key not configured")
	ErrEmptyResponse = errors.New("llm: no choices in response")
)

// Config configures an OpenAI-compatible chat completions client
type Config struct {
	Enabled     bool                  `mapstructure:"enabled"`
	Endpoint    string                `mapstructure:"endpoint"`
	APIKey      string                `mapstructure:"api_key"`
	Model       string                `mapstructure:"model"`
	Temperature float64               `mapstructure:"temperature"`
	MaxTokens   int                   `mapstructure:"max_tokens"`
	Timeout     time.Duration         `mapstructure:"timeout"`
	Retry       webclient.RetryPolicy `mapstructure:"retry"`
}

// Message is a single chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer returns the assistant reply to a conversation
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Client talks to a chat completions endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewClient creates a new chat client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg.Endpoint = valueOrDefault(cfg.Endpoint, "https://api.openai.com/v1/chat/completions")
	cfg.Model = valueOrDefault(cfg.Model, "gpt-4o")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		config:     cfg,
		httpClient: webclient.NewDefault(cfg.Timeout),
		logger:     logger,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// Complete sends the conversation and returns the first choice, asking for a JSON object reply
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:          c.config.Model,
		Messages:       messages,
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("llm: failed to encode request: %w", err)
	}

	start := time.Now()
	_, respBody, err := webclient.Do(ctx, c.httpClient, c.config.Retry, webclient.Request{
		Method: http.MethodPost,
		URL:    c.config.Endpoint,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + c.config.APIKey,
		},
		Body: body,
	})
	if err != nil {
		return "", fmt.Errorf("llm API error: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("llm: failed to decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("Chat completion received",
		zap.String("model", c.config.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func valueOrDefault(val, def string) string {
	if val != "" {
		return val
	}
	return def
}
