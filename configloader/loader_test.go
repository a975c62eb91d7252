package configloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelmux/failover"
)

const dispatchYAML = `
routing:
  max_candidates: 3
  multicore: true
  failsafe_primary: google
  failsafe_secondary: deepseek
  providers:
    - id: openai
      enabled: true
      priority: 1
      model: gpt-4o-mini
      cost_per_1k: 0.005
      latency_ms: 900
    - id: anthropic
      enabled: false
      priority: 2
      model: claude-sonnet-4-20250514
  strategies:
    - category: code
      temperature: 0.2
      rationale: precise output
      models:
        - provider: deepseek
          model: deepseek-chat
  weights:
    - category: code
      quality: 5
      cost: 0.001
      latency: 200
failover:
  backoff: linear
  backoff_base_ms: 100
  max_backoff_ms: 2000
  partial_threshold_chars: 40
  allow_partial: true
  depth: deep
`

func writeConfig(t *testing.T, dir, subPath, content string) {
	t.Helper()
	full := filepath.Join(dir, subPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config/dispatch.yaml", dispatchYAML)
	loader := NewLoader(dir)

	var cfg DispatchConfig
	require.NoError(t, loader.Load("config/dispatch.yaml", &cfg))

	assert.Equal(t, 3, cfg.Routing.MaxCandidates)
	assert.True(t, cfg.Routing.Multicore)
	require.Len(t, cfg.Routing.Providers, 2)
	assert.Equal(t, "openai", cfg.Routing.Providers[0].ID)
	assert.True(t, cfg.Routing.Providers[0].Enabled)
	assert.InDelta(t, 0.005, cfg.Routing.Providers[0].CostPer1K, 1e-9)
	require.Len(t, cfg.Routing.Strategies, 1)
	assert.Equal(t, "deepseek", cfg.Routing.Strategies[0].Models[0].Provider)
	require.Len(t, cfg.Routing.Weights, 1)
	assert.InDelta(t, 5.0, cfg.Routing.Weights[0].Weights.Quality, 1e-9)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir())

	var cfg DispatchConfig
	err := loader.Load("config/nope.yaml", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config/nope.yaml")
}

func TestLoader_LoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "bad.yaml", "routing: [not a mapping")
	loader := NewLoader(dir)

	var cfg DispatchConfig
	err := loader.Load("bad.yaml", &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestCached(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config/dispatch.yaml", dispatchYAML)
	loader := NewLoader(dir)

	first, err := Cached[DispatchConfig](loader, "config/dispatch.yaml")
	require.NoError(t, err)

	// Removing the file proves the second read comes from cache.
	require.NoError(t, os.Remove(filepath.Join(dir, "config/dispatch.yaml")))

	second, err := Cached[DispatchConfig](loader, "config/dispatch.yaml")
	require.NoError(t, err)
	assert.Same(t, first, second)

	loader.ClearCache()
	_, err = Cached[DispatchConfig](loader, "config/dispatch.yaml")
	assert.Error(t, err)
}

func TestLoadDispatch_Conversions(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, DefaultDispatchPath, dispatchYAML)
	loader := NewLoader(dir)

	cfg, err := LoadDispatch(loader, "")
	require.NoError(t, err)

	rc := cfg.Routing.RouterConfig()
	assert.Equal(t, 3, rc.MaxCandidates)
	assert.True(t, rc.Multicore)
	assert.Equal(t, "google", rc.FailsafePrimary)
	assert.Equal(t, "deepseek", rc.FailsafeSecondary)

	opts := cfg.Failover.Options()
	assert.Equal(t, failover.BackoffLinear, opts.Backoff)
	assert.Equal(t, 100*time.Millisecond, opts.BackoffBase)
	assert.Equal(t, 2*time.Second, opts.MaxBackoff)
	assert.Equal(t, 40, opts.PartialThreshold)
	assert.True(t, opts.AllowPartial)
	assert.Equal(t, failover.DepthDeep, opts.Depth)
}

func TestSections_ZeroValuesKeepDefaults(t *testing.T) {
	var routingSection RoutingSection
	rc := routingSection.RouterConfig()
	assert.Equal(t, 5, rc.MaxCandidates)
	assert.Equal(t, "openai", rc.FailsafePrimary)
	assert.Equal(t, "anthropic", rc.FailsafeSecondary)
	assert.False(t, rc.Multicore)

	var failoverSection FailoverSection
	opts := failoverSection.Options()
	assert.Equal(t, failover.BackoffExponential, opts.Backoff)
	assert.Equal(t, failover.DefaultBackoffBase, opts.BackoffBase)
	assert.Equal(t, failover.DefaultMaxBackoff, opts.MaxBackoff)
	assert.Equal(t, failover.DefaultPartialThreshold, opts.PartialThreshold)
	assert.False(t, opts.AllowPartial)
	assert.Equal(t, failover.Depth(""), opts.Depth)
}
