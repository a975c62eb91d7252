package capability

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const googleDefaultModel = "gemini-2.0-flash"

// googleCapability speaks the Gemini API through the official genai SDK.
type googleCapability struct {
	id        string
	model     string
	timeoutMs int
	client    *genai.Client
}

func newGoogle(id string, s Settings) (Capability, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKeyFor(id, s),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := s.Model
	if model == "" {
		model = googleDefaultModel
	}

	return &googleCapability{id: id, model: model, timeoutMs: s.TimeoutMs, client: client}, nil
}

func (c *googleCapability) ID() string { return c.id }

func (c *googleCapability) Execute(ctx context.Context, prompt string, cfg ExecConfig) (*ExecResult, error) {
	cfg = normalize(cfg, c.model, c.timeoutMs)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	genCfg := &genai.GenerateContentConfig{}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		genCfg.Temperature = &temp
	}

	resp, err := c.client.Models.GenerateContent(ctx, cfg.Model, genai.Text(prompt), genCfg)
	if err != nil {
		return nil, fmt.Errorf("%s generate content: %w", c.id, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s returned no candidates", c.id)
	}

	cand := resp.Candidates[0]
	var text string
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			text += part.Text
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &ExecResult{
		Text:       text,
		TokensUsed: tokens,
		Model:      cfg.Model,
		Partial:    string(cand.FinishReason) == "MAX_TOKENS",
	}, nil
}
