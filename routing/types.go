// Package routing decides which provider answers a sub-task and in what
// fallback order. It combines static provider metadata with a per-category
// strategy table, ranks the result with a hard-gated scoring function, and
// hands an ordered candidate list to the failover layer.
package routing

import (
	"github.com/hrygo/modelmux/intent"
)

// Tier marks how a candidate earned its place in the list. Strategic,
// failsafe and rescue candidates rank strictly ahead of generic ones;
// cost and latency only break ties within a tier.
type Tier string

const (
	// TierGeneric is the base tier for candidates built from provider
	// config alone.
	TierGeneric Tier = "generic"
	// TierStrategic marks candidates elevated by the strategy table.
	TierStrategic Tier = "strategic"
	// TierFailsafe marks the hard-coded last-resort providers applied
	// when no configured provider matched the strategy.
	TierFailsafe Tier = "failsafe"
	// TierRescue marks candidates produced by the quality/cost selector
	// after the router's own list was exhausted.
	TierRescue Tier = "rescue"
)

// Strategic reports whether the tier escapes the generic scoring penalty.
func (t Tier) Strategic() bool {
	return t == TierStrategic || t == TierFailsafe || t == TierRescue
}

// ModelRef names one (provider, model alias) pair.
type ModelRef struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// Strategy is a strategy table lookup result: the preferred pair, the
// ordered fallbacks, the adjusted sampling temperature shared by all of
// them, and a human-readable rationale.
type Strategy struct {
	Primary     ModelRef
	Fallbacks   []ModelRef
	Temperature float32
	Reason      string
}

// Refs returns the primary followed by the fallbacks.
func (s Strategy) Refs() []ModelRef {
	refs := make([]ModelRef, 0, len(s.Fallbacks)+1)
	refs = append(refs, s.Primary)
	return append(refs, s.Fallbacks...)
}

// Task is one decomposed unit of work as seen by the router.
type Task struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Priority  int      `json:"priority,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Candidate describes one way to answer a task. Score ranks candidates:
// the router sorts ascending (lower is better), the rescue selector
// descending (higher is better).
type Candidate struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	CostPer1K   float64 `json:"cost_per_1k,omitempty"`
	LatencyMs   int     `json:"latency_ms,omitempty"`
	Tier        Tier    `json:"tier"`
	Reason      string  `json:"reason"`
	Score       float64 `json:"score"`
}

// Decision is the router's output for one task. Candidates are sorted
// best-first and Selected always points at Candidates[0] when the list
// is non-empty.
type Decision struct {
	TaskID     string          `json:"task_id"`
	Category   intent.Category `json:"category,omitempty"`
	Candidates []Candidate     `json:"candidates"`
	Selected   *Candidate      `json:"selected,omitempty"`
	Parallel   bool            `json:"parallel"`
}
