// Package openai implements llm.Backend on the OpenAI chat completions API, or any
// server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/expense-intake/internal/llm"
)

// Client calls chat completions in JSON mode behind a request rate limiter.
type Client struct {
	cfg     Config
	api     *goopenai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ llm.Backend = (*Client)(nil)

// NewClient builds a Client. The API key is required.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		cfg:     cfg,
		api:     goopenai.NewClientWithConfig(apiCfg),
		limiter: limiter,
		logger:  logger,
	}, nil
}

// ExtractText sends a text-only prompt.
func (c *Client) ExtractText(ctx context.Context, p llm.Prompt) ([]map[string]any, error) {
	msgs := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: p.System},
		{Role: goopenai.ChatMessageRoleUser, Content: p.User},
	}
	return c.complete(ctx, "text", msgs)
}

// ExtractMultimodal sends the prompt with images attached as data URLs.
func (c *Client) ExtractMultimodal(ctx context.Context, p llm.Prompt, images []llm.Image) ([]map[string]any, error) {
	parts := []goopenai.ChatMessagePart{{Type: goopenai.ChatMessagePartTypeText, Text: p.User}}
	for _, img := range images {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL:    img.DataURL(),
				Detail: goopenai.ImageURLDetailHigh,
			},
		})
	}
	msgs := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: p.System},
		{Role: goopenai.ChatMessageRoleUser, MultiContent: parts},
	}
	return c.complete(ctx, "multimodal", msgs)
}

func (c *Client) complete(ctx context.Context, mode string, msgs []goopenai.ChatCompletionMessage) ([]map[string]any, error) {
	rid := uuid.New().String()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.InfoContext(ctx, "llm.extract.start",
		"req_id", rid, "mode", mode, "model", c.cfg.Model, "temp", c.cfg.Temperature)

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages:    msgs,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "llm.extract.http_error",
			"req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.ErrorContext(ctx, "llm.extract.no_choices", "req_id", rid)
		return nil, llm.ErrEmptyResponse
	}

	records, err := llm.ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.ErrorContext(ctx, "llm.extract.parse_error",
			"req_id", rid, "error", err, "content_bytes", len(resp.Choices[0].Message.Content))
		return nil, err
	}

	c.logger.InfoContext(ctx, "llm.extract.ok",
		"req_id", rid,
		"records", len(records),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return records, nil
}
