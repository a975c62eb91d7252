package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/modelmux/store"
)

// SaveUsage inserts a usage record. Timestamps are stored as unix seconds;
// a zero CreatedAt is filled with the current time.
func (d *DB) SaveUsage(ctx context.Context, record *store.UsageRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	stmt := `
		INSERT INTO usage_record (
			request_id, task_id, user_id, provider, model, category,
			tokens, cost_usd, partial, latency_ms, created_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := d.db.QueryRowContext(ctx, stmt,
		record.RequestID,
		record.TaskID,
		record.UserID,
		record.Provider,
		record.Model,
		record.Category,
		record.Tokens,
		record.CostUSD,
		record.Partial,
		record.LatencyMs,
		record.CreatedAt.Unix(),
	).Scan(&record.ID)
	if err != nil {
		return errors.Wrap(err, "failed to save usage record")
	}
	return nil
}

func (d *DB) ListUsage(ctx context.Context, find *store.FindUsage) ([]*store.UsageRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RequestID != nil {
		where, args = append(where, "request_id = ?"), append(args, *find.RequestID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Provider != nil {
		where, args = append(where, "provider = ?"), append(args, *find.Provider)
	}
	if find.Since != nil {
		where, args = append(where, "created_ts >= ?"), append(args, find.Since.Unix())
	}

	query := `SELECT id, request_id, task_id, user_id, provider, model, category,
			tokens, cost_usd, partial, latency_ms, created_ts
		FROM usage_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list usage records")
	}
	defer rows.Close()

	var records []*store.UsageRecord
	for rows.Next() {
		var record store.UsageRecord
		var createdTs int64
		if err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.TaskID,
			&record.UserID,
			&record.Provider,
			&record.Model,
			&record.Category,
			&record.Tokens,
			&record.CostUSD,
			&record.Partial,
			&record.LatencyMs,
			&createdTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage record")
		}
		record.CreatedAt = time.Unix(createdTs, 0).UTC()
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating usage records")
	}
	return records, nil
}

// DailyCost sums a user's spend for the UTC day containing day.
func (d *DB) DailyCost(ctx context.Context, userID string, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	stmt := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_record
		WHERE user_id = ? AND created_ts >= ? AND created_ts < ?
	`
	var total float64
	err := d.db.QueryRowContext(ctx, stmt, userID, dayStart.Unix(), dayEnd.Unix()).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get daily cost")
	}
	return total, nil
}

// DailyBreakdown aggregates the last N days per UTC day, newest first.
func (d *DB) DailyBreakdown(ctx context.Context, userID string, days int) ([]*store.DailyUsage, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))

	stmt := `
		SELECT
			date(created_ts, 'unixepoch') AS day,
			COUNT(*) AS requests,
			COALESCE(SUM(tokens), 0) AS tokens,
			COALESCE(SUM(cost_usd), 0) AS cost
		FROM usage_record
		WHERE user_id = ? AND created_ts >= ?
		GROUP BY day
		ORDER BY day DESC
	`
	rows, err := d.db.QueryContext(ctx, stmt, userID, since.Unix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily breakdown")
	}
	defer rows.Close()

	var breakdown []*store.DailyUsage
	for rows.Next() {
		var usage store.DailyUsage
		if err := rows.Scan(&usage.Date, &usage.Requests, &usage.Tokens, &usage.CostUSD); err != nil {
			return nil, errors.Wrap(err, "failed to scan daily usage")
		}
		breakdown = append(breakdown, &usage)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating daily breakdown")
	}
	return breakdown, nil
}
