// Package failover executes a prompt against an ordered list of
// capabilities with bounded retries, backoff between attempts, and
// partial-result merging on exhaustion. Provider failures are captured
// in the outcome, never propagated; the only error this package returns
// is caller misuse (an empty capability list).
package failover

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hrygo/modelmux/capability"
)

// MergeSeparator joins partial fragments into one visible composite.
const MergeSeparator = "\n\n---\n\n"

// DefaultPartialThreshold is the character count below which a result
// is judged partial.
const DefaultPartialThreshold = 20

// DefaultRetries applies when neither an execution depth nor a
// per-call retry count is configured.
const DefaultRetries = 1

// ErrNoCapabilities is returned when Execute is called with an empty
// capability list. This is the executor's only error path.
var ErrNoCapabilities = errors.New("failover: no capabilities supplied")

var errNilResult = errors.New("capability returned no result")

// Depth is the execution-depth tier. When set it overrides the flat
// per-call retry count with a fixed per-capability budget.
type Depth string

const (
	DepthFast   Depth = "fast"
	DepthNormal Depth = "normal"
	DepthDeep   Depth = "deep"
)

// Retries maps the tier to its per-capability retry budget. The second
// return is false for unset or unknown tiers.
func (d Depth) Retries() (int, bool) {
	switch d {
	case DepthFast:
		return 0, true
	case DepthNormal:
		return 1, true
	case DepthDeep:
		return 3, true
	}
	return 0, false
}

// Options tunes a failover run.
type Options struct {
	// Backoff selects the delay curve between retries of one capability.
	Backoff Strategy
	// BackoffBase and MaxBackoff bound the curve.
	BackoffBase time.Duration
	MaxBackoff  time.Duration
	// PartialThreshold is the character count below which a result
	// counts as partial.
	PartialThreshold int
	// AllowPartial accepts a merged partial as final when the last
	// attempt of the last capability still comes back short.
	AllowPartial bool
	// Depth, when set, fixes the per-capability retry budget and
	// overrides the retry count in the execution config.
	Depth Depth
}

// DefaultOptions returns exponential backoff with the stock bounds.
func DefaultOptions() Options {
	return Options{
		Backoff:          BackoffExponential,
		BackoffBase:      DefaultBackoffBase,
		MaxBackoff:       DefaultMaxBackoff,
		PartialThreshold: DefaultPartialThreshold,
	}
}

// AttemptError records one failed capability invocation.
type AttemptError struct {
	Capability string
	// Attempt is 1-based within the capability.
	Attempt int
	Kind    ErrorKind
	Err     error
}

// Error formats the record as "capability/attempt: err".
func (a AttemptError) Error() string {
	return a.Capability + "/" + strconv.Itoa(a.Attempt) + " (" + a.Kind.String() + "): " + a.Err.Error()
}

// Unwrap exposes the underlying provider error.
func (a AttemptError) Unwrap() error { return a.Err }

// Outcome is the terminal state of one failover run. Result is nil only
// when every capability failed and no partials were collected.
type Outcome struct {
	Result        *capability.ExecResult
	ProviderID    string
	UsedProviders []string
	Partial       bool
	Errors        []AttemptError
}

// Failed reports total exhaustion: no full result and no partials.
func (o *Outcome) Failed() bool { return o.Result == nil }

// Executor runs the ordered-failover loop. Safe for concurrent use;
// all per-run state lives on the stack.
type Executor struct {
	opts Options
}

// NewExecutor normalizes opts and returns an executor. Zero-valued
// fields take their defaults.
func NewExecutor(opts Options) *Executor {
	if opts.Backoff == "" {
		opts.Backoff = BackoffExponential
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.PartialThreshold <= 0 {
		opts.PartialThreshold = DefaultPartialThreshold
	}
	return &Executor{opts: opts}
}

// partialFragment pairs a short result with the capability that
// produced it, in collection order.
type partialFragment struct {
	capabilityID string
	result       *capability.ExecResult
}

// Execute tries each capability strictly in order, exhausting the retry
// budget of one before advancing to the next. A full result returns
// immediately. On exhaustion any collected partials are merged into a
// composite tagged partial; with none the outcome carries a nil Result
// and the full error list. Context cancellation stops the loop early
// and falls through to the same exhaustion handling.
func (e *Executor) Execute(ctx context.Context, caps []capability.Capability, prompt string, cfg capability.ExecConfig) (*Outcome, error) {
	if len(caps) == 0 {
		return nil, ErrNoCapabilities
	}

	out := &Outcome{UsedProviders: make([]string, 0, len(caps))}
	attempts := e.attemptsFor(cfg)
	var partials []partialFragment
	seenPartial := make(map[string]bool, len(caps))

run:
	for i, c := range caps {
		if ctx.Err() != nil {
			break
		}
		id := c.ID()
		out.UsedProviders = append(out.UsedProviders, id)
		last := i == len(caps)-1

		for attempt := 0; attempt < attempts; attempt++ {
			res, err := c.Execute(ctx, prompt, cfg)
			if err == nil && res != nil {
				if !e.isPartial(res) {
					out.Result = res
					out.ProviderID = id
					slog.Debug("failover: full result",
						"capability", id,
						"attempt", attempt+1,
						"tokens", res.TokensUsed)
					return out, nil
				}
				// First partial per capability is kept; repeats of the
				// same capability add nothing to a merge.
				if !seenPartial[id] {
					seenPartial[id] = true
					partials = append(partials, partialFragment{capabilityID: id, result: res})
				}
				if last && attempt == attempts-1 && e.opts.AllowPartial {
					e.acceptPartials(out, partials)
					return out, nil
				}
				continue
			}

			if err == nil {
				err = errNilResult
			}
			kind := Classify(err)
			out.Errors = append(out.Errors, AttemptError{
				Capability: id,
				Attempt:    attempt + 1,
				Kind:       kind,
				Err:        err,
			})
			slog.Debug("failover: attempt failed",
				"capability", id,
				"attempt", attempt+1,
				"kind", kind.String(),
				"error", err)

			if attempt < attempts-1 {
				delay := Delay(e.opts.Backoff, attempt, e.opts.BackoffBase, e.opts.MaxBackoff)
				if serr := sleepWithContext(ctx, delay); serr != nil {
					break run
				}
			}
		}
	}

	if len(partials) > 0 {
		e.acceptPartials(out, partials)
		return out, nil
	}

	slog.Warn("failover: exhausted with no result",
		"capabilities", len(out.UsedProviders),
		"errors", len(out.Errors))
	return out, nil
}

// attemptsFor resolves the per-capability attempt budget: depth tier
// first, then the call's retry count, then the package default.
func (e *Executor) attemptsFor(cfg capability.ExecConfig) int {
	if retries, ok := e.opts.Depth.Retries(); ok {
		return retries + 1
	}
	if cfg.Retries > 0 {
		return cfg.Retries + 1
	}
	return DefaultRetries + 1
}

// isPartial reports whether a result is too short to stand alone or
// was flagged as cut off by its producer.
func (e *Executor) isPartial(res *capability.ExecResult) bool {
	if res.Partial {
		return true
	}
	return utf8.RuneCountInString(res.Text) < e.opts.PartialThreshold
}

// acceptPartials fills out with the merged composite. ProviderID names
// the first fragment's source.
func (e *Executor) acceptPartials(out *Outcome, partials []partialFragment) {
	merged := mergeFragments(partials)
	out.Result = merged
	out.ProviderID = partials[0].capabilityID
	out.Partial = true
	slog.Info("failover: merged partial results",
		"fragments", len(partials),
		"provider", out.ProviderID,
		"tokens", merged.TokensUsed)
}

// mergeFragments concatenates fragment texts with MergeSeparator and
// sums their token counts. The model alias of the first fragment wins.
func mergeFragments(partials []partialFragment) *capability.ExecResult {
	texts := make([]string, 0, len(partials))
	tokens := 0
	for _, p := range partials {
		texts = append(texts, p.result.Text)
		tokens += p.result.TokensUsed
	}
	return &capability.ExecResult{
		Text:       strings.Join(texts, MergeSeparator),
		TokensUsed: tokens,
		Model:      partials[0].result.Model,
		Partial:    true,
	}
}
