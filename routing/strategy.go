package routing

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/hrygo/modelmux/intent"
)

// Temperature adjustment and gating constants. Kept named so the scoring
// behavior stays tunable and testable in isolation.
const (
	// confidenceHigh is both the high-confidence temperature threshold
	// and the fast-lane admission bar.
	confidenceHigh = 0.90
	confidenceLow  = 0.40

	tempDeltaComplexity float32 = 0.10
	tempDeltaConfidence float32 = 0.05
)

type strategyEntry struct {
	refs      []ModelRef
	baseTemp  float32
	rationale string
}

// StrategyTable maps a category to its ordered (provider, model) pairs,
// base temperature and rationale, and owns the per-category weight
// triples for the rescue selector. Entries are immutable after
// construction, so lookups need no locking.
type StrategyTable struct {
	entries map[intent.Category]strategyEntry
	weights map[intent.Category]Weights
}

// NewStrategyTable builds a table from config rows. Nil slices fall back
// to the built-in defaults; rows without models are dropped. An "other"
// entry is guaranteed: if the config omits one, the built-in default is
// merged in so lookups always have a landing spot.
func NewStrategyTable(entries []StrategyEntryConfig, weights []WeightsConfig) *StrategyTable {
	if entries == nil {
		entries = DefaultStrategyEntries()
	}
	if weights == nil {
		weights = DefaultWeights()
	}

	t := &StrategyTable{
		entries: make(map[intent.Category]strategyEntry, len(entries)),
		weights: make(map[intent.Category]Weights, len(weights)),
	}
	for _, e := range entries {
		if len(e.Models) == 0 {
			slog.Warn("routing: strategy entry has no models, dropped", "category", e.Category)
			continue
		}
		t.entries[intent.Category(e.Category)] = strategyEntry{
			refs:      e.Models,
			baseTemp:  e.Temperature,
			rationale: e.Rationale,
		}
	}
	if _, ok := t.entries[intent.CategoryOther]; !ok {
		for _, e := range DefaultStrategyEntries() {
			if e.Category == string(intent.CategoryOther) {
				t.entries[intent.CategoryOther] = strategyEntry{
					refs:      e.Models,
					baseTemp:  e.Temperature,
					rationale: e.Rationale,
				}
			}
		}
	}
	for _, w := range weights {
		t.weights[intent.Category(w.Category)] = w.Weights
	}
	return t
}

// SelectStrategy resolves the ordered provider/model pairs for a
// category and computes the shared sampling temperature. It never fails:
// unknown categories use the "other" entry.
//
// The fast lane is gated here: CategoryFast is honored only when
// confidence is at or above confidenceHigh and complexity is the lowest
// tier. Anything else is downgraded to "other" before lookup, so callers
// and the router can treat fast as an ordinary category.
//
// Pass intent.ConfidenceUnknown when no confidence is available; the
// confidence adjustments are skipped.
func (t *StrategyTable) SelectStrategy(category intent.Category, confidence float64, complexity intent.Complexity) Strategy {
	requested := category
	if category == intent.CategoryFast && !fastEligible(confidence, complexity) {
		category = intent.CategoryOther
	}

	entry, ok := t.entries[category]
	if !ok {
		entry = t.entries[intent.CategoryOther]
	}

	temp := adjustTemperature(entry.baseTemp, confidence, complexity)
	reason := buildReason(category, requested, confidence, complexity, entry.rationale)

	return Strategy{
		Primary:     entry.refs[0],
		Fallbacks:   entry.refs[1:],
		Temperature: temp,
		Reason:      reason,
	}
}

// WeightsFor returns the rescue weight triple for a category, falling
// back to the "other" triple.
func (t *StrategyTable) WeightsFor(category intent.Category) Weights {
	if w, ok := t.weights[category]; ok {
		return w
	}
	return t.weights[intent.CategoryOther]
}

func fastEligible(confidence float64, complexity intent.Complexity) bool {
	return confidence >= confidenceHigh && complexity == intent.ComplexityLow
}

// adjustTemperature applies the complexity and confidence deltas to the
// base temperature, clamps to [0,1] and rounds to two decimals.
func adjustTemperature(base float32, confidence float64, complexity intent.Complexity) float32 {
	temp := base

	switch complexity {
	case intent.ComplexityHigh, intent.ComplexityDeep:
		temp -= tempDeltaComplexity
	case intent.ComplexityLow:
		temp += tempDeltaComplexity
	}

	if confidence >= 0 {
		if confidence >= confidenceHigh {
			temp -= tempDeltaConfidence
		} else if confidence < confidenceLow {
			temp += tempDeltaConfidence
		}
	}

	if temp < 0 {
		temp = 0
	}
	if temp > 1 {
		temp = 1
	}
	return float32(math.Round(float64(temp)*100) / 100)
}

// buildReason concatenates the lookup context into the human-readable
// rationale carried by the primary candidate.
func buildReason(category, requested intent.Category, confidence float64, complexity intent.Complexity, rationale string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "category %s", category)
	if requested != category {
		fmt.Fprintf(&b, " (downgraded from %s)", requested)
	}
	fmt.Fprintf(&b, ", complexity %s", complexity)
	if confidence >= 0 {
		fmt.Fprintf(&b, ", confidence %.2f", confidence)
	}
	if rationale != "" {
		b.WriteString(": ")
		b.WriteString(rationale)
	}
	return b.String()
}
