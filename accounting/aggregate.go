package accounting

import (
	"sync"
	"time"
)

// dayKey formats a timestamp as the UTC day bucket used for budget tracking.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type daySpend struct {
	day  string
	cost float64
}

// Aggregate keeps approximate per-user totals for the process lifetime plus
// the current-day spend the budget gate checks. Totals are approximate in
// the sense that concurrent observers interleave without transactions; no
// reader depends on exact cross-field consistency.
type Aggregate struct {
	mu    sync.RWMutex
	users map[string]*Totals
	daily map[string]*daySpend
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		users: make(map[string]*Totals),
		daily: make(map[string]*daySpend),
	}
}

// Observe folds one record into the user's totals and today's spend.
func (a *Aggregate) Observe(record Record) {
	today := dayKey(time.Now())

	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.users[record.UserID]
	if !ok {
		t = &Totals{}
		a.users[record.UserID] = t
	}
	t.Records++
	t.Tokens += int64(record.Tokens)
	t.CostUSD += record.CostUSD
	if record.Partial {
		t.Partials++
	}

	d, ok := a.daily[record.UserID]
	if !ok || d.day != today {
		// Day rollover drops the stale bucket; only the current day matters.
		d = &daySpend{day: today}
		a.daily[record.UserID] = d
	}
	d.cost += record.CostUSD
}

// SeedDay primes a user's spend for the given day, typically from the store
// at first sight of the user. Seeding a different day than the bucket's
// current one replaces it.
func (a *Aggregate) SeedDay(userID string, day time.Time, cost float64) {
	key := dayKey(day)

	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.daily[userID]
	if !ok || d.day != key {
		a.daily[userID] = &daySpend{day: key, cost: cost}
		return
	}
	// Keep whichever is larger; records observed before seeding are already
	// included in the store's number.
	if cost > d.cost {
		d.cost = cost
	}
}

// DaySpend returns the tracked spend for userID on the given day. Days other
// than the tracked bucket report zero.
func (a *Aggregate) DaySpend(userID string, day time.Time) float64 {
	key := dayKey(day)

	a.mu.RLock()
	defer a.mu.RUnlock()

	d, ok := a.daily[userID]
	if !ok || d.day != key {
		return 0
	}
	return d.cost
}

// User returns a copy of the user's process-lifetime totals.
func (a *Aggregate) User(userID string) Totals {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if t, ok := a.users[userID]; ok {
		return *t
	}
	return Totals{}
}

// Users returns the number of users observed so far.
func (a *Aggregate) Users() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users)
}
