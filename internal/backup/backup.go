// Package backup exports and restores the feeder's persistent state as YAML.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"

	"gopkg.in/yaml.v3"
)

const FormatVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported backup version")
	ErrInvalidDocument    = errors.New("invalid backup document")
)

// Document is the on-disk backup layout.
type Document struct {
	Version     int                        `yaml:"version"`
	ExportedAt  time.Time                  `yaml:"exported_at"`
	Calibration *models.CalibrationProfile `yaml:"calibration,omitempty"`
	Actuator    *models.ActuatorProfile    `yaml:"actuator,omitempty"`
	Rules       []models.FeedingRule       `yaml:"rules"`
	Feedings    []models.FeedingEvent      `yaml:"feedings"`
}

// Report counts what a restore changed.
type Report struct {
	Calibration      bool `json:"calibration"`
	Actuator         bool `json:"actuator"`
	Rules            int  `json:"rules"`
	FeedingsImported int  `json:"feedings_imported"`
	FeedingsSkipped  int  `json:"feedings_skipped"`
}

type CalibrationSink interface {
	Replace(ctx context.Context, p models.CalibrationProfile) error
}

type ActuatorSink interface {
	Replace(ctx context.Context, p models.ActuatorProfile) error
}

type Manager struct {
	profiles     repository.ProfileRepo
	rules        repository.RuleRepo
	feedings     repository.FeedingRepo
	validateRule func(models.FeedingRule) error
	log          *logger.Logger
}

// New builds a Manager. validateRule may be nil.
func New(profiles repository.ProfileRepo, rules repository.RuleRepo, feedings repository.FeedingRepo,
	validateRule func(models.FeedingRule) error, log *logger.Logger) *Manager {
	return &Manager{
		profiles:     profiles,
		rules:        rules,
		feedings:     feedings,
		validateRule: validateRule,
		log:          logger.OrNop(log),
	}
}

// Export collects profiles, rules and feeding events at or after since.
// A zero since exports the whole feeding history.
func (m *Manager) Export(ctx context.Context, since time.Time) (*Document, error) {
	doc := &Document{Version: FormatVersion, ExportedAt: time.Now().UTC()}

	cal, err := m.profiles.LoadCalibration(ctx)
	switch {
	case err == nil:
		doc.Calibration = &cal
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("export calibration: %w", err)
	}

	act, err := m.profiles.LoadActuator(ctx)
	switch {
	case err == nil:
		doc.Actuator = &act
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("export actuator profile: %w", err)
	}

	if doc.Rules, err = m.rules.ListRules(ctx); err != nil {
		return nil, fmt.Errorf("export rules: %w", err)
	}
	if doc.Feedings, err = m.feedings.ListFeedings(ctx, repository.FeedingFilter{From: since}); err != nil {
		return nil, fmt.Errorf("export feedings: %w", err)
	}

	m.log.Infow("backup_exported", "rules", len(doc.Rules), "feedings", len(doc.Feedings))
	return doc, nil
}

// Validate checks a document before anything is written.
func (m *Manager) Validate(doc *Document) error {
	if doc.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Calibration != nil && doc.Calibration.ScaleFactor <= 0 {
		return fmt.Errorf("%w: scale factor %.4f in backup", models.ErrInvalidCalibration, doc.Calibration.ScaleFactor)
	}
	seen := make(map[int64]bool, len(doc.Rules))
	for _, r := range doc.Rules {
		if r.ID <= 0 || seen[r.ID] {
			return fmt.Errorf("%w: rule id %d missing or duplicated", models.ErrInvalidRule, r.ID)
		}
		seen[r.ID] = true
		if m.validateRule != nil {
			if err := m.validateRule(r); err != nil {
				return fmt.Errorf("rule %d: %w", r.ID, err)
			}
		}
	}
	for i, e := range doc.Feedings {
		if e.ID == "" {
			return fmt.Errorf("%w: feeding %d has no id", ErrInvalidDocument, i)
		}
	}
	return nil
}

// Restore replaces profiles and rules and appends feeding events whose IDs
// are not stored yet. Profiles go through the live owners so in-memory state
// follows the database.
func (m *Manager) Restore(ctx context.Context, doc *Document, cal CalibrationSink, act ActuatorSink) (Report, error) {
	var rep Report
	if err := m.Validate(doc); err != nil {
		return rep, err
	}

	if doc.Calibration != nil {
		if err := cal.Replace(ctx, *doc.Calibration); err != nil {
			return rep, fmt.Errorf("restore calibration: %w", err)
		}
		rep.Calibration = true
	}
	if doc.Actuator != nil {
		if err := act.Replace(ctx, *doc.Actuator); err != nil {
			return rep, fmt.Errorf("restore actuator profile: %w", err)
		}
		rep.Actuator = true
	}
	if err := m.rules.ReplaceRules(ctx, doc.Rules); err != nil {
		return rep, fmt.Errorf("restore rules: %w", err)
	}
	rep.Rules = len(doc.Rules)

	for _, e := range doc.Feedings {
		ok, err := m.feedings.ImportFeeding(ctx, e)
		if err != nil {
			return rep, fmt.Errorf("restore feedings: %w", err)
		}
		if ok {
			rep.FeedingsImported++
		} else {
			rep.FeedingsSkipped++
		}
	}

	m.log.Infow("backup_restored",
		"rules", rep.Rules,
		"feedings_imported", rep.FeedingsImported,
		"feedings_skipped", rep.FeedingsSkipped,
	)
	return rep, nil
}

// Encode writes doc as YAML.
func Encode(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return enc.Close()
}

// Decode reads a YAML backup.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}
