package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/modelmux/store"
)

// SaveUsage inserts a usage record and fills its ID and CreatedAt from the
// database defaults.
func (d *DB) SaveUsage(ctx context.Context, record *store.UsageRecord) error {
	query := `
		INSERT INTO usage_record (
			request_id, task_id, user_id, provider, model, category,
			tokens, cost_usd, partial, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := d.db.QueryRowContext(ctx, query,
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
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

func (d *DB) ListUsage(ctx context.Context, find *store.FindUsage) ([]*store.UsageRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RequestID != nil {
		args = append(args, *find.RequestID)
		where = append(where, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if find.UserID != nil {
		args = append(args, *find.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if find.Provider != nil {
		args = append(args, *find.Provider)
		where = append(where, fmt.Sprintf("provider = $%d", len(args)))
	}
	if find.Since != nil {
		args = append(args, *find.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT id, request_id, task_id, user_id, provider, model, category,
			tokens, cost_usd, partial, latency_ms, created_at
		FROM usage_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id DESC`

	if find.Limit != nil {
		args = append(args, *find.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if find.Offset != nil {
			args = append(args, *find.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*store.UsageRecord
	for rows.Next() {
		var record store.UsageRecord
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
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

// DailyCost sums a user's spend for the UTC day containing day.
func (d *DB) DailyCost(ctx context.Context, userID string, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT COALESCE(SUM(cost_usd), 0) AS total_cost
		FROM usage_record
		WHERE user_id = $1
		  AND created_at >= $2
		  AND created_at < $3
	`
	var total float64
	err := d.db.QueryRowContext(ctx, query, userID, dayStart, dayEnd).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get daily cost: %w", err)
	}
	return total, nil
}

// DailyBreakdown aggregates the last N days per UTC day, newest first.
func (d *DB) DailyBreakdown(ctx context.Context, userID string, days int) ([]*store.DailyUsage, error) {
	if days <= 0 {
		days = 7
	}

	query := `
		SELECT
			TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*) AS requests,
			COALESCE(SUM(tokens), 0) AS tokens,
			COALESCE(SUM(cost_usd), 0) AS cost
		FROM usage_record
		WHERE user_id = $1
		  AND created_at >= NOW() - INTERVAL '1 day' * $2
		GROUP BY day
		ORDER BY day DESC
	`
	rows, err := d.db.QueryContext(ctx, query, userID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily breakdown: %w", err)
	}
	defer rows.Close()

	var breakdown []*store.DailyUsage
	for rows.Next() {
		var usage store.DailyUsage
		if err := rows.Scan(&usage.Date, &usage.Requests, &usage.Tokens, &usage.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		breakdown = append(breakdown, &usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily breakdown: %w", err)
	}
	return breakdown, nil
}
