// Package store provides database access to dispatch accounting records.
// The Store facade delegates to a Driver so sqlite (local, single-user) and
// postgres (shared deployments) stay swappable behind one interface.
package store

import (
	"context"
	"time"

	"github.com/hrygo/modelmux/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Store services
	UsageStore UsageStore // dispatch accounting persistence
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	store := &Store{
		driver:     driver,
		profile:    profile,
		UsageStore: driver.UsageStore(),
	}

	return store
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Migrate creates the schema when it does not exist yet. Statements are
// idempotent, so running it on every start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) SaveUsage(ctx context.Context, record *UsageRecord) error {
	return s.UsageStore.SaveUsage(ctx, record)
}

func (s *Store) ListUsage(ctx context.Context, find *FindUsage) ([]*UsageRecord, error) {
	return s.UsageStore.ListUsage(ctx, find)
}

func (s *Store) DailyCost(ctx context.Context, userID string, day time.Time) (float64, error) {
	return s.UsageStore.DailyCost(ctx, userID, day)
}

func (s *Store) DailyBreakdown(ctx context.Context, userID string, days int) ([]*DailyUsage, error) {
	return s.UsageStore.DailyBreakdown(ctx, userID, days)
}
