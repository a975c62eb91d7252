package routing

import (
	"sort"

	"github.com/hrygo/modelmux/intent"
)

// ProviderInfo is the static per-provider metadata the routing layer
// consumes: whether the provider participates, where it sits in priority
// order, and the estimates the scoring functions use. Loaded from
// providers.yaml or taken from DefaultProviders.
type ProviderInfo struct {
	ID          string  `yaml:"id" json:"id"`
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Priority    int     `yaml:"priority" json:"priority"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
	// CostPer1K is the estimated currency cost per 1K usage units.
	CostPer1K float64 `yaml:"cost_per_1k" json:"cost_per_1k"`
	// LatencyMs is the estimated time to first usable answer.
	LatencyMs int `yaml:"latency_ms" json:"latency_ms"`
	// Quality feeds the rescue selector, 0..1.
	Quality float64 `yaml:"quality" json:"quality"`
}

// StrategyEntryConfig is one strategy table row as loaded from
// strategies.yaml.
type StrategyEntryConfig struct {
	Category    string     `yaml:"category"`
	Models      []ModelRef `yaml:"models"`
	Temperature float32    `yaml:"temperature"`
	Rationale   string     `yaml:"rationale"`
}

// Weights is the per-category triple for the rescue selector's
// quality/cost/latency score.
type Weights struct {
	Quality float64 `yaml:"quality"`
	Cost    float64 `yaml:"cost"`
	Latency float64 `yaml:"latency"`
}

// WeightsConfig binds a weight triple to a category in strategies.yaml.
type WeightsConfig struct {
	Category string  `yaml:"category"`
	Weights  Weights `yaml:",inline"`
}

// sortByPriority returns a copy of providers ordered by ascending
// Priority. The sort is stable so equal priorities keep config order.
func sortByPriority(providers []ProviderInfo) []ProviderInfo {
	out := make([]ProviderInfo, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// DefaultProviders is the built-in provider table used when no
// providers.yaml is supplied. Cost and latency figures are coarse
// planning estimates, not billing data.
func DefaultProviders() []ProviderInfo {
	return []ProviderInfo{
		{ID: "openai", Enabled: true, Priority: 1, Model: "gpt-4o-mini", Temperature: 0.7, CostPer1K: 0.005, LatencyMs: 900, Quality: 0.88},
		{ID: "anthropic", Enabled: true, Priority: 2, Model: "claude-sonnet-4-20250514", Temperature: 0.7, CostPer1K: 0.009, LatencyMs: 1100, Quality: 0.92},
		{ID: "google", Enabled: true, Priority: 3, Model: "gemini-2.0-flash", Temperature: 0.7, CostPer1K: 0.0035, LatencyMs: 700, Quality: 0.85},
		{ID: "deepseek", Enabled: true, Priority: 4, Model: "deepseek-chat", Temperature: 0.7, CostPer1K: 0.0008, LatencyMs: 1400, Quality: 0.82},
		{ID: "siliconflow", Enabled: false, Priority: 5, Model: "Qwen/Qwen2.5-7B-Instruct", Temperature: 0.7, CostPer1K: 0.0006, LatencyMs: 1600, Quality: 0.72},
		{ID: "openrouter", Enabled: false, Priority: 6, Model: "openrouter/auto", Temperature: 0.7, CostPer1K: 0.004, LatencyMs: 1300, Quality: 0.8},
		{ID: "ollama", Enabled: false, Priority: 7, Model: "qwen3:14b", Temperature: 0.7, CostPer1K: 0, LatencyMs: 2500, Quality: 0.65},
	}
}

// DefaultStrategyEntries is the built-in strategy table.
func DefaultStrategyEntries() []StrategyEntryConfig {
	return []StrategyEntryConfig{
		{
			Category: string(intent.CategoryCode),
			Models: []ModelRef{
				{Provider: "deepseek", Model: "deepseek-chat"},
				{Provider: "openai", Model: "gpt-4o"},
				{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
			},
			Temperature: 0.2,
			Rationale:   "code wants precise output from strong coding models",
		},
		{
			Category: string(intent.CategoryReasoning),
			Models: []ModelRef{
				{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
				{Provider: "openai", Model: "gpt-4o"},
				{Provider: "deepseek", Model: "deepseek-reasoner"},
			},
			Temperature: 0.4,
			Rationale:   "multi-step analysis favors the strongest reasoning models",
		},
		{
			Category: string(intent.CategoryCreative),
			Models: []ModelRef{
				{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
				{Provider: "openai", Model: "gpt-4o"},
			},
			Temperature: 0.9,
			Rationale:   "creative writing benefits from high sampling temperature",
		},
		{
			Category: string(intent.CategorySummary),
			Models: []ModelRef{
				{Provider: "deepseek", Model: "deepseek-chat"},
				{Provider: "google", Model: "gemini-2.0-flash"},
				{Provider: "openai", Model: "gpt-4o-mini"},
			},
			Temperature: 0.3,
			Rationale:   "summarization is cheap-model territory",
		},
		{
			Category: string(intent.CategorySearch),
			Models: []ModelRef{
				{Provider: "google", Model: "gemini-2.0-flash"},
				{Provider: "openai", Model: "gpt-4o-mini"},
			},
			Temperature: 0.3,
			Rationale:   "factual lookups want fast, grounded answers",
		},
		{
			Category: string(intent.CategoryChat),
			Models: []ModelRef{
				{Provider: "openai", Model: "gpt-4o-mini"},
				{Provider: "deepseek", Model: "deepseek-chat"},
			},
			Temperature: 0.7,
			Rationale:   "casual conversation runs on the cheap tier",
		},
		{
			Category: string(intent.CategoryFast),
			Models: []ModelRef{
				{Provider: "google", Model: "gemini-2.0-flash"},
				{Provider: "openai", Model: "gpt-4o-mini"},
			},
			Temperature: 0.5,
			Rationale:   "latency-sensitive lane for short confident requests",
		},
		{
			Category: string(intent.CategoryOther),
			Models: []ModelRef{
				{Provider: "openai", Model: "gpt-4o-mini"},
				{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
				{Provider: "deepseek", Model: "deepseek-chat"},
			},
			Temperature: 0.7,
			Rationale:   "balanced default for uncategorized work",
		},
	}
}

// DefaultWeights is the built-in weight table for the rescue selector.
// The triples are scaled so the three terms land in comparable ranges
// for typical metadata (quality 0..1, cost ~0.001..0.01 per 1K, latency
// in hundreds of ms).
func DefaultWeights() []WeightsConfig {
	return []WeightsConfig{
		{Category: string(intent.CategoryCode), Weights: Weights{Quality: 5, Cost: 0.001, Latency: 200}},
		{Category: string(intent.CategoryReasoning), Weights: Weights{Quality: 5, Cost: 0.001, Latency: 200}},
		{Category: string(intent.CategoryCreative), Weights: Weights{Quality: 4, Cost: 0.002, Latency: 200}},
		{Category: string(intent.CategorySummary), Weights: Weights{Quality: 2, Cost: 0.004, Latency: 600}},
		{Category: string(intent.CategoryFast), Weights: Weights{Quality: 2, Cost: 0.004, Latency: 800}},
		{Category: string(intent.CategoryOther), Weights: Weights{Quality: 3, Cost: 0.002, Latency: 400}},
	}
}
