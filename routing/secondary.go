package routing

import (
	"log/slog"
	"sort"

	"github.com/hrygo/modelmux/intent"
)

// ReasonRescue tags candidates produced by the quality/cost selector.
const ReasonRescue = "rescue rerank"

// Neutral metadata defaults for the rescue score when a provider row
// omits an estimate. Zero cost and zero latency would blow up the
// inverse terms, so they clamp here too.
const (
	neutralQuality   = 0.5
	neutralCostPer1K = 0.002
	neutralLatencyMs = 1200
)

// SecondarySelector is the last-resort candidate source, consulted only
// after the router's entire candidate list failed at execution time. It
// ranks every enabled, known, non-excluded provider by a weighted
// quality/cost/latency score.
type SecondarySelector struct {
	providers []ProviderInfo
	table     *StrategyTable
	registry  RegistryView
}

// NewSecondarySelector wires a selector over the same provider metadata
// and strategy table the router uses.
func NewSecondarySelector(providers []ProviderInfo, table *StrategyTable, registry RegistryView) *SecondarySelector {
	if providers == nil {
		providers = DefaultProviders()
	}
	if table == nil {
		table = NewStrategyTable(nil, nil)
	}
	return &SecondarySelector{
		providers: sortByPriority(providers),
		table:     table,
		registry:  registry,
	}
}

// SelectByQualityCostLatency scores and ranks the surviving providers.
// Unlike the router's list, candidates here sort descending: a higher
// score is a better provider. Every candidate carries TierRescue so the
// caller can tell this tier from the router's own failsafe tier.
func (s *SecondarySelector) SelectByQualityCostLatency(task Task, profile *intent.Profile, excluded []string) []Candidate {
	category := intent.CategoryOther
	if profile != nil && profile.Category != "" {
		category = profile.Category
	}
	w := s.table.WeightsFor(category)

	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	out := make([]Candidate, 0, len(s.providers))
	for _, p := range s.providers {
		if !p.Enabled || skip[p.ID] {
			continue
		}
		if s.registry != nil && !s.registry.Has(p.ID) {
			continue
		}
		out = append(out, Candidate{
			Provider:    p.ID,
			Model:       p.Model,
			Temperature: p.Temperature,
			CostPer1K:   p.CostPer1K,
			LatencyMs:   p.LatencyMs,
			Tier:        TierRescue,
			Reason:      ReasonRescue,
			Score:       rescueScore(p, w),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	slog.Debug("routing: rescue selection",
		"task_id", task.ID,
		"category", category,
		"excluded", len(excluded),
		"candidates", len(out))
	return out
}

// rescueScore is quality*Wq + (1/cost)*Wc + (1/latency)*Wl with neutral
// substitutes for missing metadata.
func rescueScore(p ProviderInfo, w Weights) float64 {
	quality := p.Quality
	if quality <= 0 {
		quality = neutralQuality
	}
	cost := p.CostPer1K
	if cost <= 0 {
		cost = neutralCostPer1K
	}
	latency := float64(p.LatencyMs)
	if latency <= 0 {
		latency = neutralLatencyMs
	}
	return quality*w.Quality + (1/cost)*w.Cost + (1/latency)*w.Latency
}
