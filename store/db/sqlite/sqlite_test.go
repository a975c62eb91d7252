package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelmux/internal/profile"
	"github.com/hrygo/modelmux/store"
)

func newTestDriver(t *testing.T) store.Driver {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "modelmux_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func TestIsInitialized(t *testing.T) {
	ctx := context.Background()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "modelmux_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	defer driver.Close()

	ok, err := driver.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, driver.Migrate(ctx))

	ok, err = driver.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveUsageFillsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	usageStore := driver.UsageStore()

	record := &store.UsageRecord{
		RequestID: "req-1",
		TaskID:    "task-1",
		UserID:    "alice",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Category:  "code",
		Tokens:    128,
		CostUSD:   0.00064,
		LatencyMs: 412,
	}
	require.NoError(t, usageStore.SaveUsage(ctx, record))

	assert.NotZero(t, record.ID)
	assert.False(t, record.CreatedAt.IsZero())

	record2 := &store.UsageRecord{RequestID: "req-2", UserID: "alice", Provider: "anthropic"}
	require.NoError(t, usageStore.SaveUsage(ctx, record2))
	assert.Greater(t, record2.ID, record.ID)
}

func TestListUsageFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	usageStore := driver.UsageStore()

	now := time.Now().UTC().Truncate(time.Second)
	seed := []*store.UsageRecord{
		{RequestID: "req-a", UserID: "alice", Provider: "openai", Tokens: 10, CreatedAt: now.Add(-2 * time.Hour)},
		{RequestID: "req-a", UserID: "alice", Provider: "anthropic", Tokens: 20, CreatedAt: now.Add(-1 * time.Hour)},
		{RequestID: "req-b", UserID: "bob", Provider: "openai", Tokens: 30, CreatedAt: now},
	}
	for _, record := range seed {
		require.NoError(t, usageStore.SaveUsage(ctx, record))
	}

	t.Run("all newest first", func(t *testing.T) {
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "req-b", records[0].RequestID)
		assert.Equal(t, "anthropic", records[1].Provider)
		assert.Equal(t, 10, records[2].Tokens)
	})

	t.Run("by request", func(t *testing.T) {
		requestID := "req-a"
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{RequestID: &requestID})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("by user and provider", func(t *testing.T) {
		userID, provider := "alice", "openai"
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{UserID: &userID, Provider: &provider})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 10, records[0].Tokens)
	})

	t.Run("since cutoff", func(t *testing.T) {
		since := now.Add(-90 * time.Minute)
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{Since: &since})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		limit, offset := 2, 1
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{Limit: &limit, Offset: &offset})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "anthropic", records[0].Provider)
	})

	t.Run("round trips timestamps", func(t *testing.T) {
		requestID := "req-b"
		records, err := usageStore.ListUsage(ctx, &store.FindUsage{RequestID: &requestID})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].CreatedAt.Equal(now))
	})
}

func TestDailyCost(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	usageStore := driver.UsageStore()

	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	seed := []*store.UsageRecord{
		{RequestID: "r1", UserID: "alice", Provider: "openai", CostUSD: 0.10, CreatedAt: day.Add(-2 * time.Hour)},
		{RequestID: "r2", UserID: "alice", Provider: "openai", CostUSD: 0.25, CreatedAt: day.Add(3 * time.Hour)},
		{RequestID: "r3", UserID: "alice", Provider: "openai", CostUSD: 99.0, CreatedAt: day.Add(24 * time.Hour)},
		{RequestID: "r4", UserID: "bob", Provider: "openai", CostUSD: 1.0, CreatedAt: day},
	}
	for _, record := range seed {
		require.NoError(t, usageStore.SaveUsage(ctx, record))
	}

	total, err := usageStore.DailyCost(ctx, "alice", day)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, total, 1e-9)

	total, err = usageStore.DailyCost(ctx, "carol", day)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDailyBreakdown(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t)
	usageStore := driver.UsageStore()

	now := time.Now().UTC()
	seed := []*store.UsageRecord{
		{RequestID: "r1", UserID: "alice", Provider: "openai", Tokens: 100, CostUSD: 0.1, CreatedAt: now},
		{RequestID: "r2", UserID: "alice", Provider: "openai", Tokens: 50, CostUSD: 0.2, CreatedAt: now},
		{RequestID: "r3", UserID: "alice", Provider: "openai", Tokens: 30, CostUSD: 0.3, CreatedAt: now.AddDate(0, 0, -1)},
	}
	for _, record := range seed {
		require.NoError(t, usageStore.SaveUsage(ctx, record))
	}

	breakdown, err := usageStore.DailyBreakdown(ctx, "alice", 7)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)

	assert.Equal(t, now.Format("2006-01-02"), breakdown[0].Date)
	assert.Equal(t, int64(2), breakdown[0].Requests)
	assert.Equal(t, int64(150), breakdown[0].Tokens)
	assert.InDelta(t, 0.3, breakdown[0].CostUSD, 1e-9)

	assert.Equal(t, now.AddDate(0, 0, -1).Format("2006-01-02"), breakdown[1].Date)
	assert.Equal(t, int64(1), breakdown[1].Requests)
}
