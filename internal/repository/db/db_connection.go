package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates the SQLite file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

var pragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 5000;",
}

const schemaCalibrationProfile = `
CREATE TABLE IF NOT EXISTS calibration_profile (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    tare_offset REAL NOT NULL,
    scale_factor REAL NOT NULL CHECK (scale_factor <> 0),
    calibrated_at TIMESTAMP,
    refs TEXT NOT NULL DEFAULT '[]',
    updated_at TIMESTAMP NOT NULL
);
`

const schemaActuatorProfile = `
CREATE TABLE IF NOT EXISTS actuator_profile (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    closed_angle INTEGER NOT NULL,
    open_angle INTEGER NOT NULL,
    dispense_rate REAL NOT NULL CHECK (dispense_rate > 0),
    last_calibrated TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaFeedingRules = `
CREATE TABLE IF NOT EXISTS feeding_rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    time_of_day TEXT NOT NULL,
    portion_g REAL NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    label TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
`

const schemaFeedingEvents = `
CREATE TABLE IF NOT EXISTS feeding_events (
    id TEXT PRIMARY KEY,
    ts TIMESTAMP NOT NULL,
    requested_g REAL NOT NULL,
    dispensed_g REAL NOT NULL DEFAULT 0,
    measured BOOLEAN NOT NULL DEFAULT 0,
    trigger_source TEXT NOT NULL,
    outcome TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    rule_id INTEGER,
    dwell_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_feeding_events_ts ON feeding_events (ts);
`

// feeding_events is append-only.
const schemaFeedingEventsImmutable = `
CREATE TRIGGER IF NOT EXISTS feeding_events_no_update
BEFORE UPDATE ON feeding_events
BEGIN
    SELECT RAISE(ABORT, 'feeding events are append-only');
END;
`

const schemaSystemEvents = `
CREATE TABLE IF NOT EXISTS system_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    meta TEXT
);
CREATE INDEX IF NOT EXISTS idx_system_events_occurred_at ON system_events (occurred_at);
`

const schemaWeightSamples = `
CREATE TABLE IF NOT EXISTS weight_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at TIMESTAMP NOT NULL,
    mass_g REAL NOT NULL,
    stable BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weight_samples_recorded_at ON weight_samples (recorded_at);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaCalibrationProfile,
		schemaActuatorProfile,
		schemaFeedingRules,
		schemaFeedingEvents,
		schemaFeedingEventsImmutable,
		schemaSystemEvents,
		schemaWeightSamples,
		schemaUsers,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
