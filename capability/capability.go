// Package capability wraps each model backend behind a uniform executable
// unit. A Capability knows how to turn a prompt into text for exactly one
// provider; everything above it (routing, failover, accounting) only sees
// this contract.
//
// Construction is cheap and performs no network I/O. Credentials and
// endpoints are resolved from explicit Settings with an environment
// fallback; the first request pays for the actual connection.
package capability

import "context"

// Defaults applied when ExecConfig fields are zero.
const (
	DefaultTimeoutMs = 15000
	DefaultMaxTokens = 1024
)

// ExecConfig carries the per-call knobs a capability recognizes.
// Model falls back to the capability's default alias, MaxTokens and
// TimeoutMs to the package defaults. Temperature is used as given.
type ExecConfig struct {
	Model       string
	MaxTokens   int
	Temperature float32
	TimeoutMs   int
	// Retries is carried for the failover layer; capabilities themselves
	// perform exactly one attempt per Execute call.
	Retries int
}

// ExecResult is one successful backend response.
type ExecResult struct {
	Text       string
	TokensUsed int
	Model      string
	// Partial is set when the provider itself flagged truncation,
	// e.g. a "length" finish reason.
	Partial bool
}

// Capability is an executable unit identified by a stable provider id.
// Execute performs exactly one attempt and honors cfg.TimeoutMs; it holds
// no mutable state between calls, so one instance may serve concurrent
// requests.
type Capability interface {
	ID() string
	Execute(ctx context.Context, prompt string, cfg ExecConfig) (*ExecResult, error)
}

// normalize fills the zero-value ExecConfig fields from capability
// defaults. defaultTimeoutMs is the per-provider timeout from settings;
// zero falls through to the package default.
func normalize(cfg ExecConfig, defaultModel string, defaultTimeoutMs int) ExecConfig {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaultTimeoutMs
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = DefaultTimeoutMs
	}
	return cfg
}
