package routing

import "log/slog"

// ReasonFromConfig tags candidates built purely from provider config.
const ReasonFromConfig = "from-config"

// DefaultMaxCandidates caps the base candidate list when the caller
// passes no explicit limit.
const DefaultMaxCandidates = 5

// RegistryView is the slice of the capability registry the routing layer
// needs: enough to keep unexecutable provider ids out of decisions.
type RegistryView interface {
	Has(id string) bool
	IDs() []string
}

// CandidateBuilder produces the generic base tier from enabled providers
// in priority order.
type CandidateBuilder struct {
	providers []ProviderInfo
	registry  RegistryView
}

// NewCandidateBuilder copies and priority-sorts providers. Nil providers
// fall back to DefaultProviders.
func NewCandidateBuilder(providers []ProviderInfo, registry RegistryView) *CandidateBuilder {
	if providers == nil {
		providers = DefaultProviders()
	}
	return &CandidateBuilder{
		providers: sortByPriority(providers),
		registry:  registry,
	}
}

// BuildCandidates walks enabled providers in priority order and emits up
// to maxCandidates generic candidates. Disabled providers and providers
// the registry cannot execute are skipped silently; they must never
// reach a decision.
func (b *CandidateBuilder) BuildCandidates(maxCandidates int) []Candidate {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	out := make([]Candidate, 0, maxCandidates)
	for _, p := range b.providers {
		if len(out) >= maxCandidates {
			break
		}
		if !p.Enabled {
			continue
		}
		if b.registry != nil && !b.registry.Has(p.ID) {
			slog.Debug("routing: provider unknown to registry, skipped", "provider", p.ID)
			continue
		}
		out = append(out, Candidate{
			Provider:    p.ID,
			Model:       p.Model,
			Temperature: p.Temperature,
			CostPer1K:   p.CostPer1K,
			LatencyMs:   p.LatencyMs,
			Tier:        TierGeneric,
			Reason:      ReasonFromConfig,
		})
	}
	return out
}

// provider returns the metadata row for id, if configured.
func (b *CandidateBuilder) provider(id string) (ProviderInfo, bool) {
	for _, p := range b.providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderInfo{}, false
}
