package routing

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/hrygo/modelmux/intent"
)

// Scoring constants. The penalty is the hard gate: it exceeds any
// realistic practical term, so generic candidates can never outrank a
// strategic one regardless of cost or latency.
const (
	nonStrategicPenalty = 5000.0
	latencyScoreDivisor = 100.0
	// tokensPerWord converts a task's word count into the token estimate
	// the cost term uses.
	tokensPerWord = 1.3
)

// Failsafe reasons, applied when no configured provider matches the
// selected strategy.
const (
	reasonFailsafePrimary   = "failsafe primary"
	reasonFailsafeSecondary = "failsafe secondary"
)

// Config tunes one Router instance.
type Config struct {
	// MaxCandidates caps the generic base tier.
	MaxCandidates int
	// Multicore gates parallel fan-out across sub-tasks. Even when set,
	// fan-out is only granted for high and deep complexity.
	Multicore bool
	// FailsafePrimary and FailsafeSecondary are re-tagged as strategic
	// when the strategy overlay matched nothing, so a decision is never
	// purely cost-ranked.
	FailsafePrimary   string
	FailsafeSecondary string
}

// DefaultConfig returns the standard router configuration.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:     DefaultMaxCandidates,
		Multicore:         false,
		FailsafePrimary:   "openai",
		FailsafeSecondary: "anthropic",
	}
}

// Router turns a task plus intent profile into an ordered candidate
// list. RouteTask is best-effort by contract: it never fails and never
// panics on bad input; when a stage cannot contribute (unknown category,
// empty provider table) routing continues with whatever candidates
// exist. Degradations are logged, not raised.
type Router struct {
	builder *CandidateBuilder
	table   *StrategyTable
	cfg     Config
}

// NewRouter wires a router from provider metadata, a strategy table and
// the capability registry view. Nil table falls back to the built-in
// defaults.
func NewRouter(providers []ProviderInfo, table *StrategyTable, registry RegistryView, cfg Config) *Router {
	if table == nil {
		table = NewStrategyTable(nil, nil)
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Router{
		builder: NewCandidateBuilder(providers, registry),
		table:   table,
		cfg:     cfg,
	}
}

// Table exposes the strategy table so the rescue selector can share the
// per-category weights.
func (r *Router) Table() *StrategyTable { return r.table }

// RouteTask produces the routing decision for one task.
//
// The pipeline: build the generic tier, overlay the strategy for the
// profile's category, apply the failsafe tags if nothing went strategic,
// score, sort ascending, pick the head. A nil profile skips the overlay
// and disables fan-out.
func (r *Router) RouteTask(task Task, profile *intent.Profile) Decision {
	candidates := r.builder.BuildCandidates(r.cfg.MaxCandidates)

	var category intent.Category
	if profile != nil && profile.Category != "" {
		category = profile.Category
		strategy := r.table.SelectStrategy(profile.Category, profile.Confidence, profile.Complexity)
		r.applyStrategy(candidates, strategy)
	}

	candidates = r.applyFailsafe(candidates)

	estTokens := estimateTokens(task.Text)
	for i := range candidates {
		candidates[i].Score = scoreCandidate(candidates[i], estTokens)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})

	decision := Decision{
		TaskID:     task.ID,
		Category:   category,
		Candidates: candidates,
		Parallel:   r.allowParallel(profile),
	}
	if len(candidates) > 0 {
		decision.Selected = &candidates[0]
	} else {
		slog.Warn("router: no candidates for task", "task_id", task.ID)
	}

	slog.Debug("router: decision",
		"task_id", task.ID,
		"category", category,
		"candidates", len(candidates),
		"parallel", decision.Parallel)
	return decision
}

// applyStrategy elevates base candidates matching the strategy's pairs.
// The primary carries the full reason; fallbacks inherit the primary's
// temperature with their own model alias.
func (r *Router) applyStrategy(candidates []Candidate, strategy Strategy) {
	for i := range candidates {
		ref, isPrimary, ok := matchRef(strategy, candidates[i].Provider)
		if !ok {
			continue
		}
		candidates[i].Model = ref.Model
		candidates[i].Temperature = strategy.Temperature
		candidates[i].Tier = TierStrategic
		if isPrimary {
			candidates[i].Reason = strategy.Reason
		} else {
			candidates[i].Reason = "strategy fallback"
		}
	}
}

// applyFailsafe guarantees at least one strategic-tier candidate. When
// the overlay matched nothing, the configured failsafe providers are
// re-tagged in place, or appended if they were enabled but cut from the
// base list.
func (r *Router) applyFailsafe(candidates []Candidate) []Candidate {
	for _, c := range candidates {
		if c.Tier.Strategic() {
			return candidates
		}
	}

	failsafes := []struct{ id, reason string }{
		{r.cfg.FailsafePrimary, reasonFailsafePrimary},
		{r.cfg.FailsafeSecondary, reasonFailsafeSecondary},
	}
	for _, fs := range failsafes {
		if fs.id == "" {
			continue
		}
		if retagged := retag(candidates, fs.id, fs.reason); retagged {
			continue
		}
		p, ok := r.builder.provider(fs.id)
		if !ok || !p.Enabled {
			continue
		}
		if r.builder.registry != nil && !r.builder.registry.Has(fs.id) {
			continue
		}
		candidates = append(candidates, Candidate{
			Provider:    p.ID,
			Model:       p.Model,
			Temperature: p.Temperature,
			CostPer1K:   p.CostPer1K,
			LatencyMs:   p.LatencyMs,
			Tier:        TierFailsafe,
			Reason:      fs.reason,
		})
	}
	return candidates
}

// allowParallel grants fan-out only when the multicore flag is on and
// complexity is high or deep. Anything missing means false.
func (r *Router) allowParallel(profile *intent.Profile) bool {
	if !r.cfg.Multicore || profile == nil {
		return false
	}
	return profile.Complexity == intent.ComplexityHigh ||
		profile.Complexity == intent.ComplexityDeep
}

// scoreCandidate computes the ranking score: the practical term for
// everyone, plus the hard-gate penalty for the generic tier.
func scoreCandidate(c Candidate, estTokens float64) float64 {
	score := c.CostPer1K*estTokens + float64(c.LatencyMs)/latencyScoreDivisor
	if !c.Tier.Strategic() {
		score += nonStrategicPenalty
	}
	return score
}

// estimateTokens derives the cost-term token estimate from the task's
// word count.
func estimateTokens(text string) float64 {
	return float64(len(strings.Fields(text))) * tokensPerWord
}

// retag marks the candidate for id as failsafe in place. Returns false
// when id is not in the list.
func retag(candidates []Candidate, id, reason string) bool {
	for i := range candidates {
		if candidates[i].Provider == id {
			candidates[i].Tier = TierFailsafe
			candidates[i].Reason = reason
			return true
		}
	}
	return false
}

func matchRef(s Strategy, provider string) (ModelRef, bool, bool) {
	if s.Primary.Provider == provider {
		return s.Primary, true, true
	}
	for _, ref := range s.Fallbacks {
		if ref.Provider == provider {
			return ref, false, true
		}
	}
	return ModelRef{}, false, false
}
