package configloader

import (
	"time"

	"github.com/hrygo/modelmux/failover"
	"github.com/hrygo/modelmux/routing"
)

// DefaultDispatchPath is where the dispatch file lives under the
// loader's base directory.
const DefaultDispatchPath = "config/dispatch.yaml"

// DispatchConfig mirrors dispatch.yaml: the provider table, the
// strategy table, and failover tuning in one document. Empty sections
// fall back to the built-in defaults at conversion time.
type DispatchConfig struct {
	Routing  RoutingSection  `yaml:"routing"`
	Failover FailoverSection `yaml:"failover"`
}

// RoutingSection configures the router and its tables.
type RoutingSection struct {
	MaxCandidates     int                           `yaml:"max_candidates"`
	Multicore         bool                          `yaml:"multicore"`
	FailsafePrimary   string                        `yaml:"failsafe_primary"`
	FailsafeSecondary string                        `yaml:"failsafe_secondary"`
	Providers         []routing.ProviderInfo        `yaml:"providers"`
	Strategies        []routing.StrategyEntryConfig `yaml:"strategies"`
	Weights           []routing.WeightsConfig       `yaml:"weights"`
}

// FailoverSection configures the executor.
type FailoverSection struct {
	Backoff               string `yaml:"backoff"`
	BackoffBaseMs         int    `yaml:"backoff_base_ms"`
	MaxBackoffMs          int    `yaml:"max_backoff_ms"`
	PartialThresholdChars int    `yaml:"partial_threshold_chars"`
	AllowPartial          bool   `yaml:"allow_partial"`
	Depth                 string `yaml:"depth"`
}

// LoadDispatch parses and caches the dispatch file at path. An empty
// path reads DefaultDispatchPath.
func LoadDispatch(l *Loader, path string) (*DispatchConfig, error) {
	if path == "" {
		path = DefaultDispatchPath
	}
	return Cached[DispatchConfig](l, path)
}

// RouterConfig converts the section into the router's config, filling
// unset fields from the stock defaults.
func (s *RoutingSection) RouterConfig() routing.Config {
	cfg := routing.DefaultConfig()
	if s.MaxCandidates > 0 {
		cfg.MaxCandidates = s.MaxCandidates
	}
	cfg.Multicore = s.Multicore
	if s.FailsafePrimary != "" {
		cfg.FailsafePrimary = s.FailsafePrimary
	}
	if s.FailsafeSecondary != "" {
		cfg.FailsafeSecondary = s.FailsafeSecondary
	}
	return cfg
}

// Options converts the section into executor options. Zero fields keep
// the executor defaults.
func (s *FailoverSection) Options() failover.Options {
	opts := failover.DefaultOptions()
	if s.Backoff != "" {
		opts.Backoff = failover.Strategy(s.Backoff)
	}
	if s.BackoffBaseMs > 0 {
		opts.BackoffBase = time.Duration(s.BackoffBaseMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		opts.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.PartialThresholdChars > 0 {
		opts.PartialThreshold = s.PartialThresholdChars
	}
	opts.AllowPartial = s.AllowPartial
	if s.Depth != "" {
		opts.Depth = failover.Depth(s.Depth)
	}
	return opts
}
