package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cat_feeder/internal/calibration"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
)

// WeightSource is the live scale as the service sees it.
type WeightSource interface {
	Read(ctx context.Context) (models.WeightReading, error)
	Latest() (models.WeightReading, bool)
	Reset()
}

const defaultTareSamples = 10

// ScaleService exposes tare, calibration and the guided calibration session.
type ScaleService struct {
	scale  WeightSource
	engine *calibration.Engine
	events *Recorder
	log    *logger.Logger

	mu      sync.Mutex
	session *calibration.Session
}

func NewScaleService(scale WeightSource, engine *calibration.Engine, events *Recorder, log *logger.Logger) *ScaleService {
	s := &ScaleService{scale: scale, engine: engine, events: events, log: logger.OrNop(log)}
	// Smoothing windows hold readings in the old units.
	engine.OnChange(func(models.CalibrationProfile) { scale.Reset() })
	return s
}

// CurrentWeight is an instant read; it falls back to the last cached reading
// when the sensor does not answer.
func (s *ScaleService) CurrentWeight(ctx context.Context) (models.WeightReading, error) {
	r, err := s.scale.Read(ctx)
	if err == nil {
		return r, nil
	}
	if cached, ok := s.scale.Latest(); ok {
		s.log.Warnw("weight_read_failed_using_cached", "err", err)
		return cached, nil
	}
	return models.WeightReading{}, err
}

func (s *ScaleService) CalibrationProfile() models.CalibrationProfile {
	return s.engine.Profile()
}

func (s *ScaleService) Tare(ctx context.Context, samples int) (models.CalibrationProfile, error) {
	if samples <= 0 {
		samples = defaultTareSamples
	}
	p, err := s.engine.Tare(ctx, samples)
	if err != nil {
		return p, err
	}
	s.emitCalibration(ctx, "scale tared", p)
	return p, nil
}

func (s *ScaleService) Calibrate(ctx context.Context, knownMass float64) (models.CalibrationProfile, error) {
	p, err := s.engine.Calibrate(ctx, knownMass)
	if err != nil {
		return p, err
	}
	s.emitCalibration(ctx, fmt.Sprintf("scale calibrated with %.1f g", knownMass), p)
	return p, nil
}

func (s *ScaleService) VerifyCalibration(ctx context.Context, knownMass, tolerancePct float64) (calibration.VerifyResult, error) {
	return s.engine.Verify(ctx, knownMass, tolerancePct)
}

func (s *ScaleService) BeginScaleSession(references int) (calibration.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && !s.session.Done() {
		return calibration.SessionStatus{}, fmt.Errorf("%w: calibration session %s already active", models.ErrResourceBusy, s.session.ID())
	}
	sess, err := s.engine.BeginSession(references)
	if err != nil {
		return calibration.SessionStatus{}, err
	}
	s.session = sess
	return sess.Status(), nil
}

func (s *ScaleService) ScaleSessionTare(ctx context.Context, id string) (calibration.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return calibration.SessionStatus{}, err
	}
	err = sess.Tare(ctx)
	return sess.Status(), err
}

func (s *ScaleService) ScaleSessionRecord(ctx context.Context, id string, knownMass float64) (calibration.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return calibration.SessionStatus{}, err
	}
	err = sess.Record(ctx, knownMass)
	return sess.Status(), err
}

func (s *ScaleService) CommitScaleSession(ctx context.Context, id string) (models.CalibrationProfile, error) {
	sess, err := s.current(id)
	if err != nil {
		return models.CalibrationProfile{}, err
	}
	p, err := sess.Commit(ctx)
	if err != nil {
		return p, err
	}
	s.emitCalibration(ctx, "guided calibration committed", p)
	return p, nil
}

func (s *ScaleService) AbortScaleSession(id string) error {
	sess, err := s.current(id)
	if err != nil {
		return err
	}
	sess.Abort()
	return nil
}

func (s *ScaleService) ScaleSessionStatus(id string) (calibration.SessionStatus, error) {
	sess, err := s.current(id)
	if err != nil {
		return calibration.SessionStatus{}, err
	}
	return sess.Status(), nil
}

// ExpireIdle aborts a guided session nobody has driven for idle, releasing
// the scale. It reports whether a session was expired.
func (s *ScaleService) ExpireIdle(ctx context.Context, now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil || sess.Done() || idle <= 0 || now.Sub(sess.LastActivity()) < idle {
		return false
	}
	sess.Abort()
	s.log.Warnw("calibration_session_expired", "session_id", sess.ID(), "idle", idle)
	s.events.Emit(ctx, models.EventCalibration, "calibration session expired", map[string]any{
		"session_id": sess.ID(),
		"idle":       idle.String(),
	})
	return true
}

func (s *ScaleService) current(id string) (*calibration.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.ID() != id {
		return nil, fmt.Errorf("calibration session %q: %w", id, models.ErrNotFound)
	}
	return s.session, nil
}

func (s *ScaleService) emitCalibration(ctx context.Context, desc string, p models.CalibrationProfile) {
	s.events.Emit(ctx, models.EventCalibration, desc, map[string]any{
		"tare_offset":  p.TareOffset,
		"scale_factor": p.ScaleFactor,
		"references":   len(p.References),
	})
}
