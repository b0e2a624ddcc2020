package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chart-rsi/internal/model"
)

// Get loads one analysis by id.
func (j *Journal) Get(ctx context.Context, id string) (*model.Analysis, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, created_at, file_name, price_min, price_max, chart_height,
		       period, method, point_count, latest, zone, rsi
		FROM analyses WHERE id = ?
	`, id)

	var (
		a       model.Analysis
		created int64
		zone    string
		rsi     string
	)
	err := row.Scan(&a.ID, &created, &a.FileName, &a.PriceMin, &a.PriceMax, &a.ChartHeight,
		&a.Period, &a.Method, &a.PointCount, &a.Latest, &zone, &rsi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get analysis %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(rsi), &a.RSI); err != nil {
		return nil, fmt.Errorf("sqlite decode rsi %s: %w", id, err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.Zone = model.Zone(zone)
	return &a, nil
}

// List returns up to limit summaries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]model.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_at, file_name, point_count, samples, latest, zone
		FROM analyses
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]model.Summary, 0, limit)
	for rows.Next() {
		var (
			s       model.Summary
			created int64
			zone    string
		)
		if err := rows.Scan(&s.ID, &created, &s.FileName, &s.PointCount, &s.Samples, &s.Latest, &zone); err != nil {
			return nil, fmt.Errorf("sqlite scan analyses: %w", err)
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		s.Zone = model.Zone(zone)
		out = append(out, s)
	}
	return out, rows.Err()
}
