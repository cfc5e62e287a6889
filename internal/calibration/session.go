package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cat_feeder/internal/models"

	"github.com/google/uuid"
)

// SessionState is a step of the guided scale calibration.
type SessionState string

const (
	StateAwaitingTare      SessionState = "awaiting_tare"
	StateAwaitingReference SessionState = "awaiting_reference"
	StateFitting           SessionState = "fitting"
	StateCommitted         SessionState = "committed"
	StateAborted           SessionState = "aborted"
)

// SessionStatus is a snapshot for the operator.
type SessionStatus struct {
	ID          string                  `json:"id"`
	State       SessionState            `json:"state"`
	Required    int                     `json:"required_references"`
	TareOffset  float64                 `json:"tare_offset"`
	References  []models.ReferencePoint `json:"references"`
	ScaleFactor float64                 `json:"scale_factor,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
}

// Session walks the operator through tare, several reference masses and a
// least-squares fit. The live profile changes only on Commit. The session
// holds the scale until it is committed or aborted.
type Session struct {
	eng     *Engine
	release func()

	mu        sync.Mutex
	id        string
	state     SessionState
	required  int
	tare      float64
	points    []models.ReferencePoint
	factor    float64
	lastErr   string
	startedAt time.Time
	touchedAt time.Time
}

// BeginSession claims the scale for a guided calibration with the given
// number of reference masses.
func (e *Engine) BeginSession(references int) (*Session, error) {
	if references <= 0 {
		references = 1
	}
	id := uuid.NewString()
	release, err := e.acquire("calibration:" + id)
	if err != nil {
		return nil, err
	}
	e.log.Infow("calibration_session_started", "session_id", id, "references", references)
	now := e.now()
	return &Session{
		eng:       e,
		release:   release,
		id:        id,
		state:     StateAwaitingTare,
		required:  references,
		startedAt: now,
		touchedAt: now,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Tare zeroes the empty plate. A failed attempt may be repeated.
func (s *Session) Tare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateAwaitingTare); err != nil {
		return err
	}
	s.touchedAt = s.eng.now()
	mean, err := s.eng.captureStable(ctx, s.eng.cfg.TareSamples)
	if err != nil {
		return s.fail(err)
	}
	s.tare = mean
	s.state = StateAwaitingReference
	s.lastErr = ""
	return nil
}

// Record captures the plate with knownMass on it. After the last reference
// the session moves to fitting.
func (s *Session) Record(ctx context.Context, knownMass float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateAwaitingReference); err != nil {
		return err
	}
	s.touchedAt = s.eng.now()
	if knownMass <= 0 {
		return s.fail(fmt.Errorf("%w: known mass must be positive", models.ErrInvalidCalibration))
	}
	raw, err := s.eng.captureStable(ctx, s.eng.cfg.TareSamples)
	if err != nil {
		return s.fail(err)
	}
	if raw-s.tare <= 0 {
		return s.fail(fmt.Errorf("%w: reading %.0f is not above tare %.0f", models.ErrInvalidCalibration, raw, s.tare))
	}
	s.points = append(s.points, models.ReferencePoint{KnownMass: knownMass, ObservedRaw: raw})
	if len(s.points) >= s.required {
		s.state = StateFitting
		s.factor = fitThroughOrigin(s.tare, s.points)
	}
	s.lastErr = ""
	return nil
}

// Commit validates the fitted factor and atomically replaces the profile.
// A rejected fit discards the references so they can be captured again.
func (s *Session) Commit(ctx context.Context) (models.CalibrationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateFitting); err != nil {
		return models.CalibrationProfile{}, err
	}
	prev := s.eng.Profile()
	if err := s.eng.checkFactor(prev, s.factor); err != nil {
		s.points = nil
		s.factor = 0
		s.state = StateAwaitingReference
		return models.CalibrationProfile{}, s.fail(err)
	}
	p := models.CalibrationProfile{
		TareOffset:   s.tare,
		ScaleFactor:  s.factor,
		CalibratedAt: s.eng.now(),
		References:   append([]models.ReferencePoint(nil), s.points...),
	}
	if err := s.eng.commit(ctx, p); err != nil {
		return models.CalibrationProfile{}, s.fail(err)
	}
	s.state = StateCommitted
	s.release()
	s.eng.log.Infow("calibration_session_committed", "session_id", s.id, "scale_factor", s.factor, "references", len(s.points))
	return p, nil
}

// Abort ends the session leaving the previous profile intact.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	from := s.state
	s.state = StateAborted
	s.release()
	s.eng.log.Infow("calibration_session_aborted", "session_id", s.id, "from", from)
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		ID:          s.id,
		State:       s.state,
		Required:    s.required,
		TareOffset:  s.tare,
		References:  append([]models.ReferencePoint{}, s.points...),
		ScaleFactor: s.factor,
		LastError:   s.lastErr,
		StartedAt:   s.startedAt,
	}
}

// Done reports whether the session has been committed or aborted.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal()
}

// LastActivity is when the operator last drove the session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

func (s *Session) terminal() bool {
	return s.state == StateCommitted || s.state == StateAborted
}

func (s *Session) expect(want SessionState) error {
	if s.state != want {
		return fmt.Errorf("%w: session is %s, step needs %s", models.ErrSessionState, s.state, want)
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.lastErr = err.Error()
	return err
}

// fitThroughOrigin is the least-squares slope of (raw - tare) over mass.
func fitThroughOrigin(tare float64, pts []models.ReferencePoint) float64 {
	var sxy, sxx float64
	for _, p := range pts {
		sxy += p.KnownMass * (p.ObservedRaw - tare)
		sxx += p.KnownMass * p.KnownMass
	}
	if sxx == 0 {
		return 0
	}
	return sxy / sxx
}
