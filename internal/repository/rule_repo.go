package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cat_feeder/internal/models"
)

type RuleSQLite struct {
	db *sql.DB
}

func NewRuleSQLite(db *sql.DB) *RuleSQLite { return &RuleSQLite{db: db} }

const (
	selectRulesSQL      = `SELECT id, time_of_day, portion_g, enabled, label, created_at FROM feeding_rules ORDER BY id ASC`
	selectRuleSQL       = `SELECT id, time_of_day, portion_g, enabled, label, created_at FROM feeding_rules WHERE id = ?`
	insertRuleSQL       = `INSERT INTO feeding_rules (time_of_day, portion_g, enabled, label, created_at) VALUES (?, ?, ?, ?, ?)`
	insertRuleWithIDSQL = `INSERT INTO feeding_rules (id, time_of_day, portion_g, enabled, label, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	updateRuleSQL       = `UPDATE feeding_rules SET time_of_day = ?, portion_g = ?, enabled = ?, label = ? WHERE id = ?`
	deleteRuleSQL       = `DELETE FROM feeding_rules WHERE id = ?`
	deleteRulesSQL      = `DELETE FROM feeding_rules`
)

// ListRules returns rules in insertion (ID) order.
func (r *RuleSQLite) ListRules(ctx context.Context) ([]models.FeedingRule, error) {
	rows, err := r.db.QueryContext(ctx, selectRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	out := make([]models.FeedingRule, 0, 8)
	for rows.Next() {
		var fr models.FeedingRule
		if err := rows.Scan(&fr.ID, &fr.TimeOfDay, &fr.PortionMass, &fr.Enabled, &fr.Label, &fr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		fr.CreatedAt = fr.CreatedAt.UTC()
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RuleSQLite) GetRule(ctx context.Context, id int64) (models.FeedingRule, error) {
	var fr models.FeedingRule
	err := r.db.QueryRowContext(ctx, selectRuleSQL, id).
		Scan(&fr.ID, &fr.TimeOfDay, &fr.PortionMass, &fr.Enabled, &fr.Label, &fr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FeedingRule{}, fmt.Errorf("rule %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.FeedingRule{}, fmt.Errorf("get rule %d: %w", id, err)
	}
	fr.CreatedAt = fr.CreatedAt.UTC()
	return fr, nil
}

// CreateRule inserts fr and returns it with ID and CreatedAt set.
func (r *RuleSQLite) CreateRule(ctx context.Context, fr models.FeedingRule) (models.FeedingRule, error) {
	if fr.CreatedAt.IsZero() {
		fr.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, insertRuleSQL, fr.TimeOfDay, fr.PortionMass, fr.Enabled, fr.Label, ts(fr.CreatedAt))
	if err != nil {
		return models.FeedingRule{}, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.FeedingRule{}, fmt.Errorf("get last insert id for rule: %w", err)
	}
	fr.ID = id
	fr.CreatedAt = fr.CreatedAt.UTC()
	return fr, nil
}

func (r *RuleSQLite) UpdateRule(ctx context.Context, fr models.FeedingRule) error {
	res, err := r.db.ExecContext(ctx, updateRuleSQL, fr.TimeOfDay, fr.PortionMass, fr.Enabled, fr.Label, fr.ID)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", fr.ID, err)
	}
	return expectOneRow(res, fr.ID)
}

func (r *RuleSQLite) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, deleteRuleSQL, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// ReplaceRules swaps the whole rule set in one transaction, keeping IDs.
func (r *RuleSQLite) ReplaceRules(ctx context.Context, rules []models.FeedingRule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteRulesSQL); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for _, fr := range rules {
		created := fr.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := tx.ExecContext(ctx, insertRuleWithIDSQL, fr.ID, fr.TimeOfDay, fr.PortionMass, fr.Enabled, fr.Label, ts(created)); err != nil {
			return fmt.Errorf("insert rule %d: %w", fr.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for rule %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, models.ErrNotFound)
	}
	return nil
}
