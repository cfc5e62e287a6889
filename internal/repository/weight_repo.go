package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cat_feeder/internal/models"
)

type WeightSQLite struct {
	db *sql.DB
}

func NewWeightSQLite(db *sql.DB) *WeightSQLite { return &WeightSQLite{db: db} }

const (
	insertSampleSQL        = `INSERT INTO weight_samples (recorded_at, mass_g, stable) VALUES (?, ?, ?)`
	deleteSamplesBeforeSQL = `DELETE FROM weight_samples WHERE recorded_at < ?`
)

func (r *WeightSQLite) AppendSample(ctx context.Context, s models.WeightSample) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, insertSampleSQL, ts(s.RecordedAt), s.Mass, s.Stable); err != nil {
		return fmt.Errorf("append weight sample: %w", err)
	}
	return nil
}

// ListSamples returns samples in [from, to], newest last. limit <= 0 means all.
func (r *WeightSQLite) ListSamples(ctx context.Context, from, to time.Time, limit int) ([]models.WeightSample, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, ts(from))
	}
	if !to.IsZero() {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, ts(to))
	}
	q := `SELECT id, recorded_at, mass_g, stable FROM weight_samples`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY recorded_at ASC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list weight samples: %w", err)
	}
	defer rows.Close()

	out := make([]models.WeightSample, 0, 64)
	for rows.Next() {
		var s models.WeightSample
		if err := rows.Scan(&s.ID, &s.RecordedAt, &s.Mass, &s.Stable); err != nil {
			return nil, fmt.Errorf("scan weight sample: %w", err)
		}
		s.RecordedAt = s.RecordedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WeightSQLite) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteSamplesBeforeSQL, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete weight samples: %w", err)
	}
	return res.RowsAffected()
}
