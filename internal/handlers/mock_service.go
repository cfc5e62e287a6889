package handlers

import (
	"context"
	"net/http"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/backup"
	"cat_feeder/internal/calibration"
	"cat_feeder/internal/models"
	"cat_feeder/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockFeeder struct {
	event   models.FeedingEvent
	err     error
	safety  models.SafetyState
	pending int

	lastGrams   float64
	lastSource  models.TriggerSource
	lastEngaged *bool
	lastEstopBy string
}

func (m *mockFeeder) Feed(ctx context.Context, req service.FeedRequest) (models.FeedingEvent, error) {
	m.lastGrams = req.Mass
	m.lastSource = req.Source
	return m.event, m.err
}
func (m *mockFeeder) ManualFeed(ctx context.Context, grams float64) (models.FeedingEvent, error) {
	return m.Feed(ctx, service.FeedRequest{Mass: grams, Source: models.TriggerManual})
}
func (m *mockFeeder) TestFeed(ctx context.Context, grams float64) (models.FeedingEvent, error) {
	return m.Feed(ctx, service.FeedRequest{Mass: grams, Source: models.TriggerTest})
}
func (m *mockFeeder) SetEmergencyStop(ctx context.Context, engaged bool, source string) models.SafetyState {
	m.lastEngaged = &engaged
	m.lastEstopBy = source
	m.safety.EmergencyStopEngaged = engaged
	return m.safety
}
func (m *mockFeeder) SafetyState() models.SafetyState { return m.safety }
func (m *mockFeeder) PendingWrites() int              { return m.pending }

type mockScale struct {
	reading models.WeightReading
	profile models.CalibrationProfile
	verify  calibration.VerifyResult
	session calibration.SessionStatus
	err     error

	lastSamples   int
	lastKnownMass float64
	lastID        string
}

func (m *mockScale) CurrentWeight(context.Context) (models.WeightReading, error) {
	return m.reading, m.err
}
func (m *mockScale) CalibrationProfile() models.CalibrationProfile { return m.profile }
func (m *mockScale) Tare(_ context.Context, samples int) (models.CalibrationProfile, error) {
	m.lastSamples = samples
	return m.profile, m.err
}
func (m *mockScale) Calibrate(_ context.Context, knownMass float64) (models.CalibrationProfile, error) {
	m.lastKnownMass = knownMass
	return m.profile, m.err
}
func (m *mockScale) VerifyCalibration(_ context.Context, knownMass, _ float64) (calibration.VerifyResult, error) {
	m.lastKnownMass = knownMass
	return m.verify, m.err
}
func (m *mockScale) BeginScaleSession(int) (calibration.SessionStatus, error) {
	return m.session, m.err
}
func (m *mockScale) ScaleSessionTare(_ context.Context, id string) (calibration.SessionStatus, error) {
	m.lastID = id
	return m.session, m.err
}
func (m *mockScale) ScaleSessionRecord(_ context.Context, id string, knownMass float64) (calibration.SessionStatus, error) {
	m.lastID = id
	m.lastKnownMass = knownMass
	return m.session, m.err
}
func (m *mockScale) CommitScaleSession(_ context.Context, id string) (models.CalibrationProfile, error) {
	m.lastID = id
	return m.profile, m.err
}
func (m *mockScale) AbortScaleSession(id string) error {
	m.lastID = id
	return m.err
}
func (m *mockScale) ScaleSessionStatus(id string) (calibration.SessionStatus, error) {
	m.lastID = id
	return m.session, m.err
}

type mockGate struct {
	profile models.ActuatorProfile
	state   models.GateState
	angles  []int
	session actuator.SessionStatus
	run     actuator.Run
	err     error

	lastPos      actuator.Position
	lastDelta    int
	lastDuration time.Duration
}

func (m *mockGate) ActuatorProfile() models.ActuatorProfile { return m.profile }
func (m *mockGate) GateState() models.GateState             { return m.state }
func (m *mockGate) TestServo(context.Context) ([]int, error) {
	return m.angles, m.err
}
func (m *mockGate) CalibrateRate(_ context.Context, _ float64, d time.Duration) (models.ActuatorProfile, error) {
	m.lastDuration = d
	return m.profile, m.err
}
func (m *mockGate) BeginGateSession() (actuator.SessionStatus, error) { return m.session, m.err }
func (m *mockGate) GateSessionJog(_ context.Context, _ string, pos actuator.Position, delta int) (actuator.SessionStatus, error) {
	m.lastPos = pos
	m.lastDelta = delta
	return m.session, m.err
}
func (m *mockGate) GateSessionRun(_ context.Context, _ string, d time.Duration) (actuator.Run, error) {
	m.lastDuration = d
	return m.run, m.err
}
func (m *mockGate) GateSessionRecord(string, float64) (actuator.SessionStatus, error) {
	return m.session, m.err
}
func (m *mockGate) CommitGateSession(context.Context, string) (models.ActuatorProfile, error) {
	return m.profile, m.err
}
func (m *mockGate) AbortGateSession(context.Context, string) error { return m.err }
func (m *mockGate) GateSessionStatus(string) (actuator.SessionStatus, error) {
	return m.session, m.err
}

type mockSchedule struct {
	rules []models.FeedingRule
	next  *models.ScheduledFeeding
	err   error

	lastRule    models.FeedingRule
	lastDeleted int64
}

func (m *mockSchedule) ListRules(context.Context) ([]models.FeedingRule, error) {
	return m.rules, m.err
}
func (m *mockSchedule) CreateRule(_ context.Context, r models.FeedingRule) (models.FeedingRule, error) {
	m.lastRule = r
	if m.err != nil {
		return models.FeedingRule{}, m.err
	}
	r.ID = int64(len(m.rules) + 1)
	m.rules = append(m.rules, r)
	return r, nil
}
func (m *mockSchedule) UpdateRule(_ context.Context, r models.FeedingRule) (models.FeedingRule, error) {
	m.lastRule = r
	return r, m.err
}
func (m *mockSchedule) DeleteRule(_ context.Context, id int64) error {
	m.lastDeleted = id
	return m.err
}
func (m *mockSchedule) NextFeeding(context.Context) (*models.ScheduledFeeding, error) {
	return m.next, m.err
}
func (m *mockSchedule) SeedRules(context.Context, []models.FeedingRule) (int, error) { return 0, nil }

type mockMonitoring struct {
	status models.Status
	err    error
}

func (m *mockMonitoring) GetStatus(ctx context.Context) (models.Status, error) {
	return m.status, m.err
}

type mockEventLog struct {
	resp     []models.SystemEvent
	feedings []models.FeedingEvent
	stats    models.FeedingStats
	weights  []models.WeightSample
	err      error

	lastFrom  time.Time
	lastTo    time.Time
	lastType  string
	lastQuery service.FeedingQuery
	lastLimit int
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.SystemEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}
func (m *mockEventLog) ListFeedings(_ context.Context, q service.FeedingQuery) ([]models.FeedingEvent, error) {
	m.lastQuery = q
	return m.feedings, m.err
}
func (m *mockEventLog) FeedingStats(_ context.Context, from, to time.Time) (models.FeedingStats, error) {
	m.lastFrom, m.lastTo = from, to
	return m.stats, m.err
}
func (m *mockEventLog) ListWeights(_ context.Context, from, to time.Time, limit int) ([]models.WeightSample, error) {
	m.lastFrom, m.lastTo, m.lastLimit = from, to, limit
	return m.weights, m.err
}

type mockBackup struct {
	doc    *backup.Document
	report backup.Report
	err    error

	lastDays     int
	lastRestored *backup.Document
}

func (m *mockBackup) ExportBackup(_ context.Context, days int) (*backup.Document, error) {
	m.lastDays = days
	return m.doc, m.err
}
func (m *mockBackup) RestoreBackup(_ context.Context, doc *backup.Document) (backup.Report, error) {
	m.lastRestored = doc
	return m.report, m.err
}

type mockHealth struct {
	status  models.HealthStatus
	metrics []models.Metrics
	alerts  []models.Alert
	cleanup service.CleanupReport
	err     error

	lastSince time.Time
	lastN     int
}

func (m *mockHealth) HealthStatus() models.HealthStatus { return m.status }
func (m *mockHealth) CheckHealth(context.Context) models.HealthStatus {
	return m.status
}
func (m *mockHealth) MetricsHistory(since time.Time) []models.Metrics {
	m.lastSince = since
	return m.metrics
}
func (m *mockHealth) RecentAlerts(n int) []models.Alert {
	m.lastN = n
	return m.alerts
}
func (m *mockHealth) Cleanup(context.Context) (service.CleanupReport, error) {
	return m.cleanup, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
