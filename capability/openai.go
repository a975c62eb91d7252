package capability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Default endpoints and model aliases for the OpenAI-compatible
// providers. An id missing here uses the SDK default endpoint, so any
// compatible gateway can be wired by settings alone.
var openAIBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"zai":         "https://open.bigmodel.cn/api/paas/v4",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

var openAIDefaultModels = map[string]string{
	"openai":      "gpt-4o-mini",
	"deepseek":    "deepseek-chat",
	"siliconflow": "Qwen/Qwen2.5-7B-Instruct",
	"zai":         "glm-4.7",
	"openrouter":  "openrouter/auto",
	"ollama":      "qwen3:14b",
}

// openAICapability serves every provider that speaks the OpenAI chat
// completion protocol. One instance per provider id.
type openAICapability struct {
	id        string
	model     string
	timeoutMs int
	client    *openai.Client
}

func newOpenAICompatible(id string, s Settings) (Capability, error) {
	clientConfig := openai.DefaultConfig(apiKeyFor(id, s))
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURLs[id]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	model := s.Model
	if model == "" {
		model = openAIDefaultModels[id]
	}
	if model == "" {
		return nil, fmt.Errorf("no default model for provider %q", id)
	}

	return &openAICapability{
		id:        id,
		model:     model,
		timeoutMs: s.TimeoutMs,
		client:    openai.NewClientWithConfig(clientConfig),
	}, nil
}

func (c *openAICapability) ID() string { return c.id }

func (c *openAICapability) Execute(ctx context.Context, prompt string, cfg ExecConfig) (*ExecResult, error) {
	cfg = normalize(cfg, c.model, c.timeoutMs)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	slog.Debug("capability: request",
		"provider", c.id,
		"model", cfg.Model,
		"max_tokens", cfg.MaxTokens)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.id, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.id)
	}

	choice := resp.Choices[0]
	slog.Debug("capability: response",
		"provider", c.id,
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())

	return &ExecResult{
		Text:       choice.Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      resp.Model,
		Partial:    choice.FinishReason == openai.FinishReasonLength,
	}, nil
}

// newHTTPClient builds the shared transport for OpenAI-compatible
// providers. Per-request deadlines come from the call context; the
// client timeout is only a backstop.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
