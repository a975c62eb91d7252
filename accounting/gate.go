package accounting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/modelmux/store"
)

// Gate admission errors. Handlers map these to 429.
var (
	ErrRateLimited    = errors.New("accounting: request rate limit exceeded")
	ErrBudgetExceeded = errors.New("accounting: daily budget exceeded")
)

// GateConfig bounds what a single user may spend. Zero values disable the
// corresponding limit.
type GateConfig struct {
	// RateRPM is the sustained request rate per user, in requests per minute.
	RateRPM int
	// Burst is the short-term allowance on top of the sustained rate.
	// Defaults to RateRPM when zero.
	Burst int
	// DailyBudgetUSD caps a user's spend per UTC day.
	DailyBudgetUSD float64
}

// Gate admits or rejects dispatch requests per user before any provider is
// called. Rate limiting uses a token bucket per user; budget checks combine
// in-process observations with the store's persisted daily cost, seeded on
// first sight of a user each day.
type Gate struct {
	cfg       GateConfig
	aggregate *Aggregate
	usage     store.UsageStore // nil disables seeding

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	seeded   map[string]string // user id -> day already seeded
}

// NewGate creates a gate backed by aggregate. usage may be nil; budget
// checks then see only what this process observed.
func NewGate(cfg GateConfig, aggregate *Aggregate, usage store.UsageStore) *Gate {
	if aggregate == nil {
		aggregate = NewAggregate()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RateRPM
	}
	return &Gate{
		cfg:       cfg,
		aggregate: aggregate,
		usage:     usage,
		limiters:  make(map[string]*rate.Limiter),
		seeded:    make(map[string]string),
	}
}

// Aggregate returns the aggregate this gate feeds from.
func (g *Gate) Aggregate() *Aggregate {
	return g.aggregate
}

// Admit checks the user's rate and budget limits. It returns
// ErrRateLimited or ErrBudgetExceeded when a limit is hit, nil otherwise.
// The rate token is consumed even when the budget check fails afterwards.
func (g *Gate) Admit(ctx context.Context, userID string) error {
	if g.cfg.RateRPM > 0 {
		if !g.limiter(userID).Allow() {
			slog.Debug("gate: rate limited", "user", userID, "rpm", g.cfg.RateRPM)
			return ErrRateLimited
		}
	}

	if g.cfg.DailyBudgetUSD > 0 {
		now := time.Now()
		g.seedDay(ctx, userID, now)
		if spent := g.aggregate.DaySpend(userID, now); spent >= g.cfg.DailyBudgetUSD {
			slog.Warn("gate: daily budget exceeded",
				"user", userID,
				"spent_usd", spent,
				"budget_usd", g.cfg.DailyBudgetUSD)
			return ErrBudgetExceeded
		}
	}

	return nil
}

// limiter returns the user's token bucket, creating it on first use.
func (g *Gate) limiter(userID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.cfg.RateRPM)/60, g.cfg.Burst)
		g.limiters[userID] = l
	}
	return l
}

// seedDay primes today's spend from the store once per user per day.
func (g *Gate) seedDay(ctx context.Context, userID string, now time.Time) {
	if g.usage == nil {
		return
	}
	today := dayKey(now)

	g.mu.Lock()
	alreadySeeded := g.seeded[userID] == today
	if !alreadySeeded {
		g.seeded[userID] = today
	}
	g.mu.Unlock()

	if alreadySeeded {
		return
	}

	cost, err := g.usage.DailyCost(ctx, userID, now)
	if err != nil {
		// A store outage must not block dispatch.
		slog.Warn("gate: daily cost lookup failed", "user", userID, "error", err)
		return
	}
	g.aggregate.SeedDay(userID, now, cost)
}
