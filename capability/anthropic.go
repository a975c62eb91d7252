package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// anthropicCapability speaks the native Anthropic messages API.
type anthropicCapability struct {
	id        string
	model     string
	timeoutMs int
	client    anthropic.Client
}

func newAnthropic(id string, s Settings) (Capability, error) {
	opts := []option.RequestOption{}
	if key := apiKeyFor(id, s); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}

	model := s.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	return &anthropicCapability{
		id:        id,
		model:     model,
		timeoutMs: s.TimeoutMs,
		client:    anthropic.NewClient(opts...),
	}, nil
}

func (c *anthropicCapability) ID() string { return c.id }

func (c *anthropicCapability) Execute(ctx context.Context, prompt string, cfg ExecConfig) (*ExecResult, error) {
	cfg = normalize(cfg, c.model, c.timeoutMs)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(cfg.Temperature))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s message: %w", c.id, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &ExecResult{
		Text:       text,
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Model:      string(resp.Model),
		Partial:    resp.StopReason == "max_tokens",
	}, nil
}
