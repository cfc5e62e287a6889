package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cat_feeder/internal/models"
)

type ProfileSQLite struct {
	db *sql.DB
}

func NewProfileSQLite(db *sql.DB) *ProfileSQLite {
	return &ProfileSQLite{db: db}
}

const (
	profileRowID = 1

	upsertCalibrationSQL = `
		INSERT INTO calibration_profile (id, tare_offset, scale_factor, calibrated_at, refs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tare_offset=excluded.tare_offset,
			scale_factor=excluded.scale_factor,
			calibrated_at=excluded.calibrated_at,
			refs=excluded.refs,
			updated_at=excluded.updated_at
	`

	selectCalibrationSQL = `
		SELECT tare_offset, scale_factor, calibrated_at, refs
		FROM calibration_profile WHERE id=?
	`

	upsertActuatorSQL = `
		INSERT INTO actuator_profile (id, closed_angle, open_angle, dispense_rate, last_calibrated, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed_angle=excluded.closed_angle,
			open_angle=excluded.open_angle,
			dispense_rate=excluded.dispense_rate,
			last_calibrated=excluded.last_calibrated,
			updated_at=excluded.updated_at
	`

	selectActuatorSQL = `
		SELECT closed_angle, open_angle, dispense_rate, last_calibrated
		FROM actuator_profile WHERE id=?
	`
)

// marshalRefs converts reference points to a JSON string.
func marshalRefs(refs []models.ReferencePoint) (string, error) {
	if refs == nil {
		refs = []models.ReferencePoint{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalRefs(s string) ([]models.ReferencePoint, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var refs []models.ReferencePoint
	if err := json.Unmarshal([]byte(s), &refs); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs, nil
}

func nullableTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ts(t)
}

// SaveCalibration replaces the calibration row.
func (r *ProfileSQLite) SaveCalibration(ctx context.Context, p models.CalibrationProfile) error {
	if p.ScaleFactor == 0 {
		return fmt.Errorf("save calibration: %w: zero scale factor", models.ErrInvalidCalibration)
	}
	refs, err := marshalRefs(p.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertCalibrationSQL,
		profileRowID,
		p.TareOffset,
		p.ScaleFactor,
		nullableTS(p.CalibratedAt),
		refs,
		ts(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// LoadCalibration returns models.ErrNotFound when no row was saved yet.
func (r *ProfileSQLite) LoadCalibration(ctx context.Context) (models.CalibrationProfile, error) {
	var (
		p    models.CalibrationProfile
		at   sql.NullTime
		refs string
	)
	err := r.db.QueryRowContext(ctx, selectCalibrationSQL, profileRowID).Scan(&p.TareOffset, &p.ScaleFactor, &at, &refs)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CalibrationProfile{}, models.ErrNotFound
	}
	if err != nil {
		return models.CalibrationProfile{}, fmt.Errorf("load calibration: %w", err)
	}
	if at.Valid {
		p.CalibratedAt = at.Time.UTC()
	}
	if p.References, err = unmarshalRefs(refs); err != nil {
		return models.CalibrationProfile{}, fmt.Errorf("parse references: %w", err)
	}
	return p, nil
}

// SaveActuator replaces the actuator row.
func (r *ProfileSQLite) SaveActuator(ctx context.Context, p models.ActuatorProfile) error {
	_, err := r.db.ExecContext(ctx, upsertActuatorSQL,
		profileRowID,
		p.ClosedAngle,
		p.OpenAngle,
		p.DispenseRate,
		nullableTS(p.LastCalibrated),
		ts(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save actuator profile: %w", err)
	}
	return nil
}

// LoadActuator returns models.ErrNotFound when no row was saved yet.
func (r *ProfileSQLite) LoadActuator(ctx context.Context) (models.ActuatorProfile, error) {
	var (
		p  models.ActuatorProfile
		at sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectActuatorSQL, profileRowID).Scan(&p.ClosedAngle, &p.OpenAngle, &p.DispenseRate, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActuatorProfile{}, models.ErrNotFound
	}
	if err != nil {
		return models.ActuatorProfile{}, fmt.Errorf("load actuator profile: %w", err)
	}
	if at.Valid {
		p.LastCalibrated = at.Time.UTC()
	}
	return p, nil
}
