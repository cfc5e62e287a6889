package service

import (
	"context"
	"sync"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/backup"
	"cat_feeder/internal/calibration"
	"cat_feeder/internal/clock"
	"cat_feeder/internal/estop"
	"cat_feeder/internal/health"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
	"cat_feeder/internal/policy"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/resource"
	"cat_feeder/internal/scheduler"
	"cat_feeder/internal/workqueue"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Feeder runs feedings and owns the emergency stop.
type Feeder interface {
	Feed(ctx context.Context, req FeedRequest) (models.FeedingEvent, error)
	ManualFeed(ctx context.Context, grams float64) (models.FeedingEvent, error)
	TestFeed(ctx context.Context, grams float64) (models.FeedingEvent, error)
	SetEmergencyStop(ctx context.Context, engaged bool, source string) models.SafetyState
	SafetyState() models.SafetyState
	PendingWrites() int
}

// Scale exposes weighing and scale calibration.
type Scale interface {
	CurrentWeight(ctx context.Context) (models.WeightReading, error)
	CalibrationProfile() models.CalibrationProfile
	Tare(ctx context.Context, samples int) (models.CalibrationProfile, error)
	Calibrate(ctx context.Context, knownMass float64) (models.CalibrationProfile, error)
	VerifyCalibration(ctx context.Context, knownMass, tolerancePct float64) (calibration.VerifyResult, error)
	BeginScaleSession(references int) (calibration.SessionStatus, error)
	ScaleSessionTare(ctx context.Context, id string) (calibration.SessionStatus, error)
	ScaleSessionRecord(ctx context.Context, id string, knownMass float64) (calibration.SessionStatus, error)
	CommitScaleSession(ctx context.Context, id string) (models.CalibrationProfile, error)
	AbortScaleSession(id string) error
	ScaleSessionStatus(id string) (calibration.SessionStatus, error)
}

// Gate exposes servo diagnostics and gate calibration.
type Gate interface {
	ActuatorProfile() models.ActuatorProfile
	GateState() models.GateState
	TestServo(ctx context.Context) ([]int, error)
	CalibrateRate(ctx context.Context, mass float64, d time.Duration) (models.ActuatorProfile, error)
	BeginGateSession() (actuator.SessionStatus, error)
	GateSessionJog(ctx context.Context, id string, pos actuator.Position, delta int) (actuator.SessionStatus, error)
	GateSessionRun(ctx context.Context, id string, d time.Duration) (actuator.Run, error)
	GateSessionRecord(id string, mass float64) (actuator.SessionStatus, error)
	CommitGateSession(ctx context.Context, id string) (models.ActuatorProfile, error)
	AbortGateSession(ctx context.Context, id string) error
	GateSessionStatus(id string) (actuator.SessionStatus, error)
}

// Schedule manages feeding rules.
type Schedule interface {
	ListRules(ctx context.Context) ([]models.FeedingRule, error)
	CreateRule(ctx context.Context, r models.FeedingRule) (models.FeedingRule, error)
	UpdateRule(ctx context.Context, r models.FeedingRule) (models.FeedingRule, error)
	DeleteRule(ctx context.Context, id int64) error
	NextFeeding(ctx context.Context) (*models.ScheduledFeeding, error)
	SeedRules(ctx context.Context, seed []models.FeedingRule) (int, error)
}

// Monitoring exposes the read-only status snapshot.
type Monitoring interface {
	GetStatus(ctx context.Context) (models.Status, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.SystemEvent, error)
	ListFeedings(ctx context.Context, q FeedingQuery) ([]models.FeedingEvent, error)
	FeedingStats(ctx context.Context, from, to time.Time) (models.FeedingStats, error)
	ListWeights(ctx context.Context, from, to time.Time, limit int) ([]models.WeightSample, error)
}

type Backup interface {
	ExportBackup(ctx context.Context, days int) (*backup.Document, error)
	RestoreBackup(ctx context.Context, doc *backup.Document) (backup.Report, error)
}

type Health interface {
	HealthStatus() models.HealthStatus
	CheckHealth(ctx context.Context) models.HealthStatus
	MetricsHistory(since time.Time) []models.Metrics
	RecentAlerts(n int) []models.Alert
	Cleanup(ctx context.Context) (CleanupReport, error)
}

// Service aggregates all sub-services.
type Service struct {
	Feeder
	Scale
	Gate
	Schedule
	Monitoring
	EventLog
	Backup
	Health
	Authorization

	Events *Recorder

	feeder   *FeedingService
	scale    *ScaleService
	gate     *GateService
	sched    *scheduler.Scheduler
	weights  *WeightMonitor
	health   *HealthService
	monitor  *health.Monitor
	queue    *workqueue.Queue
	controls *actuator.Controller
	idle     time.Duration
	clock    clock.Clock
	log      *logger.Logger
}

// Deps are the long-lived components the services are built on. cmd/main.go
// owns their construction and shutdown.
type Deps struct {
	Repos     *repository.Repository
	Scale     WeightSource
	ScaleLock *resource.Lock
	Engine    *calibration.Engine
	Gate      *actuator.Controller
	Estop     *estop.Latch
	Policy    *policy.Policy
	Tracker   *policy.Tracker
	Queue     *workqueue.Queue
	Monitor   *health.Monitor
	Publisher notify.Publisher
	Backup    *backup.Manager
	Clock     clock.Clock
	Log       *logger.Logger
}

// Options are the tunables the services take from configuration.
type Options struct {
	Location           *time.Location
	MaxDeferral        time.Duration
	WeightMonitor      WeightMonitorConfig
	RetentionDays      int
	SigningKey         string
	TokenTTL           time.Duration
	SessionIdleTimeout time.Duration // zero uses 15 minutes
}

const defaultSessionIdle = 15 * time.Minute

// NewService wires the repository layer and the device components into
// concrete services.
func NewService(d Deps, opt Options) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	log := logger.OrNop(d.Log)
	repos := d.Repos

	events := NewRecorder(repos.EventRepo, d.Publisher, clk, log)
	feeder := NewFeedingService(d.Queue, d.Policy, d.Tracker, d.Gate, d.Estop, repos.Feedings, events, clk, log)

	sched := scheduler.New(repos.Rules, func(ctx context.Context, rule models.FeedingRule, due time.Time) error {
		_, err := feeder.Feed(ctx, FeedRequest{Mass: rule.PortionMass, Source: models.TriggerScheduled, RuleID: rule.ID})
		return err
	}, scheduler.Config{Location: opt.Location, MaxDeferral: opt.MaxDeferral}, clk, log)
	sched.OnDrop(func(ctx context.Context, rule models.FeedingRule, due time.Time, attempts int) {
		feeder.RecordExpired(ctx, rule, due, attempts)
	})

	healthSvc := NewHealthService(d.Monitor, repos.EventRepo, repos.Weights, opt.RetentionDays, clk, log)
	var interlock func() <-chan struct{}
	if d.Estop != nil {
		interlock = d.Estop.Done
	}
	gate := NewGateService(d.Queue, d.Gate, interlock, events, log)
	feeder.OnEmergencyStop(func(ctx context.Context) {
		if err := gate.EmergencyStop(ctx); err != nil {
			log.Errorw("estop_gate_close_failed", "err", err)
		}
	})
	scale := NewScaleService(d.Scale, d.Engine, events, log)
	idle := opt.SessionIdleTimeout
	if idle <= 0 {
		idle = defaultSessionIdle
	}
	schedule := NewScheduleService(repos.Rules, sched, d.Policy.Limits().MaxPortion, clk, log)

	s := &Service{
		Feeder:        feeder,
		Scale:         scale,
		Gate:          gate,
		Schedule:      schedule,
		Monitoring:    NewMonitoringService(d.Scale, gate, feeder, repos.Feedings, schedule, d.Monitor, clk, log),
		EventLog:      NewEventLogService(repos.EventRepo, repos.Feedings, repos.Weights),
		Backup:        NewBackupService(d.Queue, d.Backup, d.Engine, d.Gate, feeder, events, clk),
		Health:        healthSvc,
		Authorization: NewAuthService(repos.Auth, AuthConfig{SigningKey: opt.SigningKey, TokenTTL: opt.TokenTTL}, clk),
		Events:        events,

		feeder:   feeder,
		scale:    scale,
		gate:     gate,
		sched:    sched,
		weights:  NewWeightMonitor(d.Scale, d.ScaleLock, repos.Weights, events, d.Monitor, opt.WeightMonitor, clk, log),
		health:   healthSvc,
		monitor:  d.Monitor,
		queue:    d.Queue,
		controls: d.Gate,
		idle:     idle,
		clock:    clk,
		log:      log,
	}

	for _, name := range []string{"sensor", "scheduler", "queue"} {
		d.Monitor.Register(name)
	}
	d.Monitor.OnAlert(func(a models.Alert) {
		events.Emit(context.Background(), models.EventHealthAlert, a.Message, map[string]any{
			"kind":  a.Kind,
			"value": a.Value,
			"limit": a.Limit,
		})
	})
	sched.OnTick(func(time.Time) { d.Monitor.Beat("scheduler") })
	d.Queue.OnIdle = func() { d.Monitor.Beat("queue") }
	return s
}

// Rebuild restores safety totals from the feeding log; call before Run.
func (s *Service) Rebuild(ctx context.Context) error {
	return s.feeder.Rebuild(ctx)
}

// Intervals are the periods of the background loops.
type Intervals struct {
	SchedulerTick time.Duration
	WeightPoll    time.Duration
	Health        time.Duration
	Retention     time.Duration
	QueuePing     time.Duration
	SessionSweep  time.Duration
}

// Run starts the background loops and blocks until ctx is canceled and
// they have all returned. The work queue is run by the caller.
func (s *Service) Run(ctx context.Context, iv Intervals) {
	s.sched.Start(s.clock.Now())

	var wg sync.WaitGroup
	loops := []func(){
		func() { s.sched.Run(ctx, iv.SchedulerTick) },
		func() { s.weights.Run(ctx, iv.WeightPoll) },
		func() { s.monitor.Run(ctx, iv.Health) },
		func() { s.health.RunMaintenance(ctx, iv.Retention) },
		func() { s.pingQueue(ctx, iv.QueuePing) },
		func() { s.sweepSessions(ctx, iv.SessionSweep) },
	}
	for _, fn := range loops {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			fn()
		}(fn)
	}
	s.log.Infow("background_started",
		"scheduler_tick", iv.SchedulerTick,
		"weight_poll", iv.WeightPoll,
		"health", iv.Health,
	)
	wg.Wait()
	s.log.Infow("background_stopped")
}

// pingQueue submits a no-op job so an idle queue still reports liveness
// and pending feeding writes get retried.
func (s *Service) pingQueue(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := s.queue.Do(pctx, "ping", func(ctx context.Context) error {
				s.feeder.FlushPending(ctx)
				return nil
			})
			cancel()
			if err != nil && ctx.Err() == nil {
				s.log.Warnw("queue_ping_failed", "err", err)
			}
		}
	}
}

// sweepSessions aborts calibration sessions idle past the timeout.
func (s *Service) sweepSessions(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.ExpireIdleSessions(ctx)
		}
	}
}

// ExpireIdleSessions runs one idle sweep over both calibration sessions.
func (s *Service) ExpireIdleSessions(ctx context.Context) int {
	now := s.clock.Now()
	n := 0
	if s.scale.ExpireIdle(ctx, now, s.idle) {
		n++
	}
	if s.gate.ExpireIdle(ctx, now, s.idle) {
		n++
	}
	return n
}

// Shutdown closes the gate and waits for in-flight event publishes.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.controls.EnsureClosed(ctx)
	if err != nil {
		s.log.Errorw("shutdown_gate_close_failed", "err", err)
	}
	s.Events.Emit(ctx, models.EventShutdown, "feeder shutting down", nil)
	s.Events.Wait()
	return err
}
