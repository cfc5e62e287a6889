package backup

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memProfiles struct {
	cal *models.CalibrationProfile
	act *models.ActuatorProfile
}

func (m *memProfiles) LoadCalibration(context.Context) (models.CalibrationProfile, error) {
	if m.cal == nil {
		return models.CalibrationProfile{}, models.ErrNotFound
	}
	return *m.cal, nil
}

func (m *memProfiles) SaveCalibration(_ context.Context, p models.CalibrationProfile) error {
	m.cal = &p
	return nil
}

func (m *memProfiles) LoadActuator(context.Context) (models.ActuatorProfile, error) {
	if m.act == nil {
		return models.ActuatorProfile{}, models.ErrNotFound
	}
	return *m.act, nil
}

func (m *memProfiles) SaveActuator(_ context.Context, p models.ActuatorProfile) error {
	m.act = &p
	return nil
}

// Replace lets the fake double as the live profile owners.
type calSink struct{ p *memProfiles }

func (s calSink) Replace(ctx context.Context, p models.CalibrationProfile) error {
	return s.p.SaveCalibration(ctx, p)
}

type actSink struct{ p *memProfiles }

func (s actSink) Replace(ctx context.Context, p models.ActuatorProfile) error {
	return s.p.SaveActuator(ctx, p)
}

type memRules struct{ rules []models.FeedingRule }

func (m *memRules) ListRules(context.Context) ([]models.FeedingRule, error) { return m.rules, nil }
func (m *memRules) GetRule(context.Context, int64) (models.FeedingRule, error) {
	return models.FeedingRule{}, models.ErrNotFound
}
func (m *memRules) CreateRule(_ context.Context, r models.FeedingRule) (models.FeedingRule, error) {
	return r, nil
}
func (m *memRules) UpdateRule(context.Context, models.FeedingRule) error { return nil }
func (m *memRules) DeleteRule(context.Context, int64) error             { return nil }
func (m *memRules) ReplaceRules(_ context.Context, rules []models.FeedingRule) error {
	m.rules = append([]models.FeedingRule(nil), rules...)
	return nil
}

type memFeedings struct {
	events []models.FeedingEvent
}

func (m *memFeedings) AppendFeeding(_ context.Context, e models.FeedingEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memFeedings) ImportFeeding(_ context.Context, e models.FeedingEvent) (bool, error) {
	for _, x := range m.events {
		if x.ID == e.ID {
			return false, nil
		}
	}
	m.events = append(m.events, e)
	return true, nil
}

func (m *memFeedings) ListFeedings(_ context.Context, f repository.FeedingFilter) ([]models.FeedingEvent, error) {
	var out []models.FeedingEvent
	for _, e := range m.events {
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memFeedings) LastFeeding(context.Context) (*models.FeedingEvent, error) { return nil, nil }
func (m *memFeedings) FeedingStats(context.Context, time.Time, time.Time) (models.FeedingStats, error) {
	return models.FeedingStats{}, nil
}

var day = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func seeded() (*memProfiles, *memRules, *memFeedings) {
	p := &memProfiles{
		cal: &models.CalibrationProfile{TareOffset: 1000, ScaleFactor: 100, CalibratedAt: day,
			References: []models.ReferencePoint{{KnownMass: 500, ObservedRaw: 51000}}},
		act: &models.ActuatorProfile{ClosedAngle: 0, OpenAngle: 90, DispenseRate: 10},
	}
	r := &memRules{rules: []models.FeedingRule{
		{ID: 1, TimeOfDay: "08:00", PortionMass: 40, Enabled: true, CreatedAt: day},
		{ID: 3, TimeOfDay: "18:00", PortionMass: 45, Enabled: false, Label: "dinner", CreatedAt: day},
	}}
	f := &memFeedings{events: []models.FeedingEvent{
		{ID: "old", Timestamp: day.AddDate(0, 0, -10), RequestedMass: 40, DispensedEstimate: 40,
			TriggerSource: models.TriggerScheduled, Outcome: models.OutcomeSuccess, RuleID: 1},
		{ID: "new", Timestamp: day.Add(8 * time.Hour), RequestedMass: 40, DispensedEstimate: 38.5, Measured: true,
			TriggerSource: models.TriggerScheduled, Outcome: models.OutcomeSuccess, RuleID: 1, DwellMillis: 4000},
	}}
	return p, r, f
}

func TestExportEncodeDecodeRestore(t *testing.T) {
	ctx := context.Background()
	p, r, f := seeded()
	src := New(p, r, f, nil, nil)

	doc, err := src.Export(ctx, day.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, doc.Feedings, 1)
	assert.Equal(t, "new", doc.Feedings[0].ID)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	assert.Contains(t, buf.String(), "scale_factor: 100")
	assert.Contains(t, buf.String(), "08:00")

	back, err := Decode(&buf)
	require.NoError(t, err)

	dp, dr, df := &memProfiles{}, &memRules{}, &memFeedings{}
	dst := New(dp, dr, df, nil, nil)
	rep, err := dst.Restore(ctx, back, calSink{dp}, actSink{dp})
	require.NoError(t, err)
	assert.Equal(t, Report{Calibration: true, Actuator: true, Rules: 2, FeedingsImported: 1}, rep)

	require.NotNil(t, dp.cal)
	assert.Equal(t, 100.0, dp.cal.ScaleFactor)
	assert.True(t, dp.cal.CalibratedAt.Equal(day))
	assert.Equal(t, p.cal.References, dp.cal.References)
	assert.Equal(t, "dinner", dr.rules[1].Label)
	assert.Equal(t, 38.5, df.events[0].DispensedEstimate)

	rep, err = dst.Restore(ctx, back, calSink{dp}, actSink{dp})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.FeedingsImported)
	assert.Equal(t, 1, rep.FeedingsSkipped)
	assert.Len(t, df.events, 1)
}

func TestExport_MissingProfilesAreOmitted(t *testing.T) {
	m := New(&memProfiles{}, &memRules{}, &memFeedings{}, nil, nil)
	doc, err := m.Export(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Nil(t, doc.Calibration)
	assert.Nil(t, doc.Actuator)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	assert.NotContains(t, buf.String(), "calibration:")
}

func TestRestore_ValidationStopsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	invalidRule := errors.New("bad rule")

	cases := []struct {
		name string
		yaml string
		want error
	}{
		{"version", "version: 2\n", ErrUnsupportedVersion},
		{"zero factor", "version: 1\ncalibration:\n  tare_offset: 10\n  scale_factor: 0\n", models.ErrInvalidCalibration},
		{"duplicate rule", "version: 1\nrules:\n  - id: 1\n    time_of_day: \"08:00\"\n    portion_g: 10\n  - id: 1\n    time_of_day: \"09:00\"\n    portion_g: 10\n", models.ErrInvalidRule},
		{"rule validator", "version: 1\nrules:\n  - id: 4\n    time_of_day: \"25:00\"\n    portion_g: 10\n", invalidRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Decode(strings.NewReader(tc.yaml))
			require.NoError(t, err)

			p, r, f := &memProfiles{}, &memRules{}, &memFeedings{}
			m := New(p, r, f, func(fr models.FeedingRule) error {
				if fr.TimeOfDay == "25:00" {
					return invalidRule
				}
				return nil
			}, nil)
			_, err = m.Restore(ctx, doc, calSink{p}, actSink{p})
			require.ErrorIs(t, err, tc.want)
			assert.Nil(t, p.cal)
			assert.Empty(t, r.rules)
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(strings.NewReader("version: [1"))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
