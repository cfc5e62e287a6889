package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cat_feeder/internal/models"

	"github.com/google/uuid"
)

// Position selects which gate angle a jog adjusts.
type Position string

const (
	PositionClosed Position = "closed"
	PositionOpen   Position = "open"
)

// Run is one timed opening during gate calibration.
type Run struct {
	Duration time.Duration `json:"duration"`
	Mass     float64       `json:"mass_g"`
	Measured bool          `json:"measured"` // mass known, from the scale or the operator
}

type SessionStatus struct {
	ID          string    `json:"id"`
	Active      bool      `json:"active"`
	ClosedAngle int       `json:"closed_angle"`
	OpenAngle   int       `json:"open_angle"`
	Runs        []Run     `json:"runs"`
	Rate        float64   `json:"fitted_rate_gps,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Session lets an operator jog the gate angles and time test openings to fit
// the dispense rate. It holds the gate until committed or aborted.
type Session struct {
	c         *Controller
	release   func()
	prev      models.ActuatorProfile
	interlock func() <-chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once

	mu         sync.Mutex
	id         string
	active     bool
	closed     int
	open       int
	runs       []Run
	startedAt  time.Time
	lastActive time.Time
}

// BeginSession claims the gate for calibration. interlock, when set, returns
// a channel closed while openings are forbidden (the emergency stop); the
// session refuses to open the gate and cuts a timed run short while it is
// closed.
func (c *Controller) BeginSession(interlock func() <-chan struct{}) (*Session, error) {
	if err := c.Fault(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrActuatorFault, err)
	}
	if interlock != nil && fired(interlock()) {
		return nil, fmt.Errorf("%w: gate calibration not started", models.ErrEmergencyStopActive)
	}
	id := uuid.NewString()
	release, err := c.gate.TryAcquire("gate-calibration:" + id)
	if err != nil {
		return nil, err
	}
	p := c.Profile()
	now := c.clock.Now().UTC()
	c.log.Infow("gate_calibration_started", "session_id", id)
	return &Session{
		c:          c,
		release:    release,
		prev:       p,
		interlock:  interlock,
		stop:       make(chan struct{}),
		id:         id,
		active:     true,
		closed:     p.ClosedAngle,
		open:       p.OpenAngle,
		startedAt:  now,
		lastActive: now,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Jog nudges the closed or open angle by delta degrees and moves the gate there.
func (s *Session) Jog(ctx context.Context, pos Position, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expectActive(); err != nil {
		return 0, err
	}
	var target *int
	switch pos {
	case PositionClosed:
		target = &s.closed
	case PositionOpen:
		target = &s.open
	default:
		return 0, fmt.Errorf("%w: unknown gate position %q", models.ErrInvalidCalibration, pos)
	}
	s.touch()
	if pos == PositionOpen && s.halted() {
		return *target, fmt.Errorf("%w: gate stays closed", models.ErrEmergencyStopActive)
	}
	angle := s.c.clampAngle(*target + delta)

	s.c.motion.Lock()
	defer s.c.motion.Unlock()
	if pos == PositionOpen {
		s.c.setState(models.GateOpening)
	} else {
		s.c.setState(models.GateClosing)
	}
	if err := s.c.move(ctx, angle); err != nil {
		return *target, s.c.abortOpen(ctx, s.working(), err)
	}
	*target = angle
	if pos == PositionOpen {
		s.c.setState(models.GateOpen)
	} else {
		s.c.setState(models.GateClosed)
	}
	return angle, nil
}

// Run opens the gate at the working angles for d and measures the released
// mass when a scale is attached. The scale is held for the whole run. The
// interlock, an Abort or ctx cancellation closes the gate early and
// discards the run.
func (s *Session) Run(ctx context.Context, d time.Duration) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expectActive(); err != nil {
		return Run{}, err
	}
	if d <= 0 || d > s.c.cfg.MaxCalibrationRun {
		return Run{}, fmt.Errorf("%w: run duration %s outside (0, %s]", models.ErrInvalidCalibration, d, s.c.cfg.MaxCalibrationRun)
	}
	s.touch()
	p := s.working()

	releaseScale, err := s.c.claimScale("gate-calibration:" + s.id)
	if err != nil {
		return Run{}, err
	}
	defer releaseScale()

	s.c.motion.Lock()
	defer s.c.motion.Unlock()

	if s.halted() {
		return Run{}, fmt.Errorf("%w: calibration run not started", models.ErrEmergencyStopActive)
	}
	pre, havePre := s.c.weigh(ctx)
	s.c.setState(models.GateOpening)
	if err := s.c.move(ctx, p.OpenAngle); err != nil {
		return Run{}, s.c.abortOpen(ctx, p, err)
	}
	s.c.setState(models.GateOpen)

	var holdErr error
	if s.halted() {
		holdErr = fmt.Errorf("%w: calibration run stopped", models.ErrEmergencyStopActive)
	} else {
		select {
		case <-s.interrupted():
			holdErr = fmt.Errorf("%w: calibration run stopped", models.ErrEmergencyStopActive)
		case <-s.stop:
			holdErr = fmt.Errorf("%w: calibration run stopped", models.ErrEmergencyStopActive)
		case <-ctx.Done():
			holdErr = fmt.Errorf("calibration run cancelled: %w", ctx.Err())
		case <-s.c.clock.After(d):
		}
	}
	s.c.setState(models.GateClosing)
	if err := s.c.forceClose(ctx, p); err != nil {
		return Run{}, err
	}
	s.c.setState(models.GateClosed)
	if holdErr != nil {
		s.c.log.Warnw("gate_calibration_run_stopped", "session_id", s.id, "err", holdErr)
		return Run{}, holdErr
	}

	run := Run{Duration: d}
	if havePre {
		if s.c.cfg.SettleTime > 0 {
			<-s.c.clock.After(s.c.cfg.SettleTime)
		}
		if post, ok := s.c.weigh(ctx); ok {
			run.Mass = max(post-pre, 0)
			run.Measured = true
		}
	}
	s.runs = append(s.runs, run)
	s.c.log.Infow("gate_calibration_run", "session_id", s.id, "duration", d, "mass_g", run.Mass, "measured", run.Measured)
	return run, nil
}

// RecordMass stores the operator-weighed mass for the most recent run.
func (s *Session) RecordMass(mass float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expectActive(); err != nil {
		return err
	}
	if len(s.runs) == 0 {
		return fmt.Errorf("%w: no run to attach a mass to", models.ErrSessionState)
	}
	if mass < 0 {
		return fmt.Errorf("%w: mass must not be negative", models.ErrInvalidCalibration)
	}
	s.touch()
	last := &s.runs[len(s.runs)-1]
	last.Mass = mass
	last.Measured = true
	return nil
}

// Commit fits rate = Σ m·t / Σ t² over measured runs and persists the angles
// and rate. The gate ends closed.
func (s *Session) Commit(ctx context.Context) (models.ActuatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expectActive(); err != nil {
		return models.ActuatorProfile{}, err
	}
	p := s.working()
	rate, n := fitRate(s.runs)
	if n == 0 {
		return models.ActuatorProfile{}, fmt.Errorf("%w: no measured runs", models.ErrSessionState)
	}
	p.DispenseRate = rate
	p.LastCalibrated = s.c.clock.Now().UTC()
	if err := s.c.Replace(ctx, p); err != nil {
		return models.ActuatorProfile{}, err
	}
	if err := s.c.EnsureClosed(ctx); err != nil {
		return p, err
	}
	s.finish()
	s.c.log.Infow("gate_calibration_committed", "session_id", s.id, "rate_gps", rate, "runs", n,
		"closed_angle", p.ClosedAngle, "open_angle", p.OpenAngle)
	return p, nil
}

// Abort returns the gate to the previous closed angle and keeps the old
// profile. A run in progress is stopped first.
func (s *Session) Abort(ctx context.Context) error {
	s.halt()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.finish()
	err := s.c.EnsureClosed(ctx)
	s.c.log.Infow("gate_calibration_aborted", "session_id", s.id, "err", err)
	return err
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, _ := fitRate(s.runs)
	return SessionStatus{
		ID:          s.id,
		Active:      s.active,
		ClosedAngle: s.closed,
		OpenAngle:   s.open,
		Runs:        append([]Run{}, s.runs...),
		Rate:        rate,
		StartedAt:   s.startedAt,
	}
}

func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.active
}

// halt cuts a running hold short without waiting for it.
func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// LastActivity is when the operator last drove the session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.lastActive = s.c.clock.Now().UTC()
}

func (s *Session) interrupted() <-chan struct{} {
	if s.interlock == nil {
		return nil
	}
	return s.interlock()
}

func (s *Session) halted() bool {
	return fired(s.stop) || fired(s.interrupted())
}

func (s *Session) working() models.ActuatorProfile {
	p := s.prev
	p.ClosedAngle = s.closed
	p.OpenAngle = s.open
	return p
}

func (s *Session) finish() {
	s.active = false
	s.release()
}

func (s *Session) expectActive() error {
	if !s.active {
		return fmt.Errorf("%w: gate calibration already finished", models.ErrSessionState)
	}
	return nil
}

func fitRate(runs []Run) (float64, int) {
	var smt, stt float64
	n := 0
	for _, r := range runs {
		if !r.Measured {
			continue
		}
		t := r.Duration.Seconds()
		smt += r.Mass * t
		stt += t * t
		n++
	}
	if stt == 0 {
		return 0, n
	}
	return smt / stt, n
}
