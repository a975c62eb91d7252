package store

import (
	"context"
	"time"
)

// UsageRecord is one provider attempt that produced billable output. Every
// sub-task that reaches a backend writes exactly one record, partial or not,
// so daily cost queries see the full spend.
type UsageRecord struct {
	ID        int64
	RequestID string
	TaskID    string
	UserID    string
	Provider  string
	Model     string
	Category  string
	Tokens    int
	CostUSD   float64
	Partial   bool
	LatencyMs int64
	CreatedAt time.Time
}

// FindUsage filters ListUsage. Nil fields are ignored.
type FindUsage struct {
	RequestID *string
	UserID    *string
	Provider  *string
	Since     *time.Time

	Limit  *int
	Offset *int
}

// DailyUsage aggregates one user's dispatches for a single UTC day.
type DailyUsage struct {
	Date     string // YYYY-MM-DD
	Requests int64
	Tokens   int64
	CostUSD  float64
}

// UsageStore defines the interface for dispatch accounting persistence.
type UsageStore interface {
	// SaveUsage inserts a usage record and fills its ID and CreatedAt.
	SaveUsage(ctx context.Context, record *UsageRecord) error

	// ListUsage retrieves records matching find, newest first.
	ListUsage(ctx context.Context, find *FindUsage) ([]*UsageRecord, error)

	// DailyCost retrieves a user's total spend for the UTC day containing day.
	DailyCost(ctx context.Context, userID string, day time.Time) (float64, error)

	// DailyBreakdown retrieves per-day aggregates for the last N days.
	DailyBreakdown(ctx context.Context, userID string, days int) ([]*DailyUsage, error)
}
