package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/workqueue"
)

// GateService exposes servo diagnostics and gate calibration.
type GateService struct {
	queue     *workqueue.Queue
	ctrl      *actuator.Controller
	interlock func() <-chan struct{}
	events    *Recorder
	log       *logger.Logger

	mu      sync.Mutex
	session *actuator.Session
}

// NewGateService builds the gate service. interlock is handed to every
// calibration session; nil disables it.
func NewGateService(q *workqueue.Queue, ctrl *actuator.Controller, interlock func() <-chan struct{}, events *Recorder, log *logger.Logger) *GateService {
	return &GateService{queue: q, ctrl: ctrl, interlock: interlock, events: events, log: logger.OrNop(log)}
}

func (s *GateService) ActuatorProfile() models.ActuatorProfile {
	return s.ctrl.Profile()
}

func (s *GateService) GateState() models.GateState {
	return s.ctrl.State()
}

// TestServo runs the angle sweep on the feeding queue so it never overlaps a
// dispense.
func (s *GateService) TestServo(ctx context.Context) ([]int, error) {
	angles, err := onQueue(ctx, s.queue, "servo-test", s.ctrl.TestServo)
	if err != nil {
		s.events.Emit(ctx, models.EventActuatorFault, "servo test failed: "+err.Error(), map[string]any{
			"angles": angles,
		})
	}
	return angles, err
}

// CalibrateRate sets the flow rate from one measured opening.
func (s *GateService) CalibrateRate(ctx context.Context, mass float64, d time.Duration) (models.ActuatorProfile, error) {
	p, err := s.ctrl.CalibrateRate(ctx, mass, d)
	if err != nil {
		return p, err
	}
	s.emitProfile(ctx, "dispense rate calibrated", p)
	return p, nil
}

func (s *GateService) BeginGateSession() (actuator.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && !s.session.Done() {
		return actuator.SessionStatus{}, fmt.Errorf("%w: gate session %s already active", models.ErrResourceBusy, s.session.ID())
	}
	sess, err := s.ctrl.BeginSession(s.interlock)
	if err != nil {
		return actuator.SessionStatus{}, err
	}
	s.session = sess
	return sess.Status(), nil
}

func (s *GateService) GateSessionJog(ctx context.Context, id string, pos actuator.Position, delta int) (actuator.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return actuator.SessionStatus{}, err
	}
	if _, err := sess.Jog(ctx, pos, delta); err != nil {
		return sess.Status(), err
	}
	return sess.Status(), nil
}

func (s *GateService) GateSessionRun(ctx context.Context, id string, d time.Duration) (actuator.Run, error) {
	sess, err := s.current(id)
	if err != nil {
		return actuator.Run{}, err
	}
	return sess.Run(ctx, d)
}

// GateSessionRecord attaches an operator-weighed mass to the last run.
func (s *GateService) GateSessionRecord(id string, mass float64) (actuator.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return actuator.SessionStatus{}, err
	}
	if err := sess.RecordMass(mass); err != nil {
		return sess.Status(), err
	}
	return sess.Status(), nil
}

func (s *GateService) CommitGateSession(ctx context.Context, id string) (models.ActuatorProfile, error) {
	sess, err := s.current(id)
	if err != nil {
		return models.ActuatorProfile{}, err
	}
	p, err := sess.Commit(ctx)
	if err != nil {
		return p, err
	}
	s.emitProfile(ctx, "gate calibration committed", p)
	return p, nil
}

func (s *GateService) AbortGateSession(ctx context.Context, id string) error {
	sess, err := s.current(id)
	if err != nil {
		return err
	}
	return sess.Abort(ctx)
}

func (s *GateService) GateSessionStatus(id string) (actuator.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return actuator.SessionStatus{}, err
	}
	return sess.Status(), nil
}

// EmergencyStop aborts the active calibration session, which stops a timed
// run in progress and closes the gate.
func (s *GateService) EmergencyStop(ctx context.Context) error {
	sess := s.active()
	if sess == nil {
		return nil
	}
	err := sess.Abort(ctx)
	s.log.Warnw("gate_calibration_stopped", "session_id", sess.ID(), "err", err)
	return err
}

// ExpireIdle aborts a calibration session nobody has driven for idle. It
// reports whether a session was expired.
func (s *GateService) ExpireIdle(ctx context.Context, now time.Time, idle time.Duration) bool {
	sess := s.active()
	if sess == nil || idle <= 0 || now.Sub(sess.LastActivity()) < idle {
		return false
	}
	err := sess.Abort(ctx)
	s.log.Warnw("gate_calibration_expired", "session_id", sess.ID(), "idle", idle, "err", err)
	s.events.Emit(ctx, models.EventCalibration, "gate calibration session expired", map[string]any{
		"session_id": sess.ID(),
		"idle":       idle.String(),
	})
	return true
}

func (s *GateService) active() *actuator.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Done() {
		return nil
	}
	return s.session
}

func (s *GateService) current(id string) (*actuator.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.ID() != id {
		return nil, fmt.Errorf("gate session %q: %w", id, models.ErrNotFound)
	}
	return s.session, nil
}

func (s *GateService) emitProfile(ctx context.Context, desc string, p models.ActuatorProfile) {
	s.events.Emit(ctx, models.EventCalibration, desc, map[string]any{
		"closed_angle": p.ClosedAngle,
		"open_angle":   p.OpenAngle,
		"rate_gps":     p.DispenseRate,
	})
}
