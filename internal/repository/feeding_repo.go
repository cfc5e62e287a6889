package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cat_feeder/internal/models"

	"github.com/google/uuid"
)

type FeedingSQLite struct {
	db *sql.DB
}

func NewFeedingSQLite(db *sql.DB) *FeedingSQLite { return &FeedingSQLite{db: db} }

const (
	feedingColumns = `id, ts, requested_g, dispensed_g, measured, trigger_source, outcome, reason, rule_id, dwell_ms`

	insertFeedingSQL = `INSERT INTO feeding_events (` + feedingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	importFeedingSQL = `INSERT OR IGNORE INTO feeding_events (` + feedingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	lastFeedingSQL   = `SELECT ` + feedingColumns + ` FROM feeding_events WHERE outcome = 'success' ORDER BY ts DESC LIMIT 1`
	feedingStatsSQL  = `
		SELECT trigger_source, outcome, COUNT(*), COALESCE(SUM(dispensed_g), 0)
		FROM feeding_events
		WHERE ts >= ? AND ts < ?
		GROUP BY trigger_source, outcome
	`
)

func feedingArgs(e models.FeedingEvent) []any {
	var ruleID any
	if e.RuleID != 0 {
		ruleID = e.RuleID
	}
	return []any{
		e.ID,
		ts(e.Timestamp),
		e.RequestedMass,
		e.DispensedEstimate,
		e.Measured,
		string(e.TriggerSource),
		string(e.Outcome),
		e.Reason,
		ruleID,
		e.DwellMillis,
	}
}

func normalizeFeeding(e *models.FeedingEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendFeeding inserts a new event; ID and Timestamp are filled when empty.
func (r *FeedingSQLite) AppendFeeding(ctx context.Context, e models.FeedingEvent) error {
	normalizeFeeding(&e)
	if _, err := r.db.ExecContext(ctx, insertFeedingSQL, feedingArgs(e)...); err != nil {
		return fmt.Errorf("append feeding event %s: %w", e.ID, err)
	}
	return nil
}

// ImportFeeding inserts e unless an event with the same ID exists. It
// reports whether a row was written.
func (r *FeedingSQLite) ImportFeeding(ctx context.Context, e models.FeedingEvent) (bool, error) {
	normalizeFeeding(&e)
	res, err := r.db.ExecContext(ctx, importFeedingSQL, feedingArgs(e)...)
	if err != nil {
		return false, fmt.Errorf("import feeding event %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for feeding event %s: %w", e.ID, err)
	}
	return n > 0, nil
}

// ListFeedings returns events matching f ordered by time ascending.
func (r *FeedingSQLite) ListFeedings(ctx context.Context, f FeedingFilter) ([]models.FeedingEvent, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, ts(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, ts(f.To))
	}
	if f.Source != "" {
		conds = append(conds, "trigger_source = ?")
		args = append(args, string(f.Source))
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(f.Outcome))
	}

	q := `SELECT ` + feedingColumns + ` FROM feeding_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ts ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list feeding events: %w", err)
	}
	defer rows.Close()

	out := make([]models.FeedingEvent, 0, 32)
	for rows.Next() {
		e, err := scanFeeding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastFeeding returns the most recent successful feeding, or nil.
func (r *FeedingSQLite) LastFeeding(ctx context.Context) (*models.FeedingEvent, error) {
	rows, err := r.db.QueryContext(ctx, lastFeedingSQL)
	if err != nil {
		return nil, fmt.Errorf("last feeding: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanFeeding(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FeedingStats aggregates events in [from, to).
func (r *FeedingSQLite) FeedingStats(ctx context.Context, from, to time.Time) (models.FeedingStats, error) {
	st := models.FeedingStats{
		From:          from.UTC(),
		To:            to.UTC(),
		GramsBySource: map[models.TriggerSource]float64{},
	}
	rows, err := r.db.QueryContext(ctx, feedingStatsSQL, ts(from), ts(to))
	if err != nil {
		return st, fmt.Errorf("feeding stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source, outcome string
			count           int
			grams           float64
		)
		if err := rows.Scan(&source, &outcome, &count, &grams); err != nil {
			return st, fmt.Errorf("scan feeding stats: %w", err)
		}
		st.Attempts += count
		st.TotalGrams += grams
		st.GramsBySource[models.TriggerSource(source)] += grams
		switch models.Outcome(outcome) {
		case models.OutcomeSuccess:
			st.Successes += count
		case models.OutcomeAborted:
			st.Aborted += count
		case models.OutcomeError:
			st.Errors += count
		}
	}
	return st, rows.Err()
}

func scanFeeding(rows *sql.Rows) (models.FeedingEvent, error) {
	var (
		e       models.FeedingEvent
		source  string
		outcome string
		ruleID  sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &e.Timestamp, &e.RequestedMass, &e.DispensedEstimate, &e.Measured,
		&source, &outcome, &e.Reason, &ruleID, &e.DwellMillis); err != nil {
		return models.FeedingEvent{}, fmt.Errorf("scan feeding event: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()
	e.TriggerSource = models.TriggerSource(source)
	e.Outcome = models.Outcome(outcome)
	if ruleID.Valid {
		e.RuleID = ruleID.Int64
	}
	return e, nil
}
