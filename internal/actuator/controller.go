// Package actuator drives the feed gate through its open/close cycle and
// owns the ActuatorProfile.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/hardware"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/resource"
)

// ProfileStore persists the single actuator profile. Load returns
// models.ErrNotFound when nothing was saved yet.
type ProfileStore interface {
	LoadActuator(ctx context.Context) (models.ActuatorProfile, error)
	SaveActuator(ctx context.Context, p models.ActuatorProfile) error
}

// WeightReader gives stability-gated readings for dispense estimates.
type WeightReader interface {
	ReadStable(ctx context.Context) (models.WeightReading, error)
}

type Config struct {
	MinAngle           int
	MaxAngle           int
	DefaultClosedAngle int
	DefaultOpenAngle   int
	DefaultRate        float64 // g/s
	MinPortion         float64
	MaxPortion         float64
	MinDwell           time.Duration
	MaxDwell           time.Duration // hard cap on time open
	MoveRetries        int
	CloseRetries       int
	SettleTime         time.Duration // wait after closing before weighing
	TestAngles         []int
	TestStep           time.Duration
	MaxCalibrationRun  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinAngle:           0,
		MaxAngle:           180,
		DefaultClosedAngle: 0,
		DefaultOpenAngle:   90,
		DefaultRate:        10,
		MinPortion:         1,
		MaxPortion:         200,
		MinDwell:           500 * time.Millisecond,
		MaxDwell:           5 * time.Second,
		MoveRetries:        2,
		CloseRetries:       3,
		SettleTime:         500 * time.Millisecond,
		TestAngles:         []int{0, 45, 90, 135, 180, 90, 0},
		TestStep:           500 * time.Millisecond,
		MaxCalibrationRun:  10 * time.Second,
	}
}

// Result describes one dispense cycle.
type Result struct {
	Requested   float64       `json:"requested_g"`
	Estimate    float64       `json:"dispensed_estimate_g"`
	Measured    bool          `json:"measured"`
	Dwell       time.Duration `json:"dwell"`
	Interrupted bool          `json:"interrupted"`
}

// Controller is the only component that moves the servo.
type Controller struct {
	servo     hardware.Servo
	scale     WeightReader
	store     ProfileStore
	gate      *resource.Lock
	scaleLock *resource.Lock
	cfg       Config
	clock     clock.Clock
	log       *logger.Logger

	motion sync.Mutex

	mu      sync.RWMutex
	state   models.GateState
	faulted error
	profile models.ActuatorProfile
}

// New builds a controller with the default profile. scale and scaleLock may
// be nil.
func New(servo hardware.Servo, scale WeightReader, store ProfileStore, gate, scaleLock *resource.Lock, cfg Config, clk clock.Clock, log *logger.Logger) *Controller {
	def := DefaultConfig()
	if cfg.MaxAngle <= cfg.MinAngle {
		cfg.MinAngle, cfg.MaxAngle = def.MinAngle, def.MaxAngle
	}
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = def.DefaultRate
	}
	if cfg.MaxPortion <= 0 {
		cfg.MaxPortion = def.MaxPortion
	}
	if cfg.MaxDwell <= 0 {
		cfg.MaxDwell = def.MaxDwell
	}
	if cfg.MinDwell < 0 || cfg.MinDwell > cfg.MaxDwell {
		cfg.MinDwell = 0
	}
	if cfg.CloseRetries <= 0 {
		cfg.CloseRetries = def.CloseRetries
	}
	if len(cfg.TestAngles) == 0 {
		cfg.TestAngles = def.TestAngles
	}
	if cfg.MaxCalibrationRun <= 0 {
		cfg.MaxCalibrationRun = def.MaxCalibrationRun
	}
	if gate == nil {
		gate = resource.NewLock("gate")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		servo:     servo,
		scale:     scale,
		store:     store,
		gate:      gate,
		scaleLock: scaleLock,
		cfg:       cfg,
		clock:     clk,
		log:       logger.OrNop(log),
		state:     models.GateClosed,
		profile: models.ActuatorProfile{
			ClosedAngle:  cfg.DefaultClosedAngle,
			OpenAngle:    cfg.DefaultOpenAngle,
			DispenseRate: cfg.DefaultRate,
		},
	}
}

// Load restores the persisted profile, keeping defaults when none is stored.
func (c *Controller) Load(ctx context.Context) error {
	p, err := c.store.LoadActuator(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load actuator profile: %w", err)
	}
	if err := c.validateProfile(p); err != nil {
		c.log.Warnw("actuator_profile_invalid", "err", err)
		return nil
	}
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
	return nil
}

func (c *Controller) Profile() models.ActuatorProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Controller) State() models.GateState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Fault returns the unresolved close failure, if any. While set the
// controller refuses to dispense.
func (c *Controller) Fault() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.faulted
}

// Limits returns the accepted portion range.
func (c *Controller) Limits() (lo, hi float64) {
	return c.cfg.MinPortion, c.cfg.MaxPortion
}

// Replace validates and persists a full profile.
func (c *Controller) Replace(ctx context.Context, p models.ActuatorProfile) error {
	if err := c.validateProfile(p); err != nil {
		return err
	}
	if err := c.store.SaveActuator(ctx, p); err != nil {
		return fmt.Errorf("%w: save actuator profile: %v", models.ErrStorageFailure, err)
	}
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
	return nil
}

// CalibrateRate sets the dispense rate from one measured timed run.
func (c *Controller) CalibrateRate(ctx context.Context, mass float64, d time.Duration) (models.ActuatorProfile, error) {
	if mass <= 0 || d <= 0 {
		return models.ActuatorProfile{}, fmt.Errorf("%w: need positive mass and duration", models.ErrInvalidCalibration)
	}
	p := c.Profile()
	p.DispenseRate = mass / d.Seconds()
	p.LastCalibrated = c.clock.Now().UTC()
	if err := c.Replace(ctx, p); err != nil {
		return models.ActuatorProfile{}, err
	}
	c.log.Infow("dispense_rate_calibrated", "mass_g", mass, "duration", d, "rate_gps", p.DispenseRate)
	return p, nil
}

// DwellFor is the open time for target grams, clamped to [MinDwell, MaxDwell].
func (c *Controller) DwellFor(target float64) time.Duration {
	rate := c.Profile().DispenseRate
	d := time.Duration(target / rate * float64(time.Second))
	if d < c.cfg.MinDwell {
		d = c.cfg.MinDwell
	}
	if d > c.cfg.MaxDwell {
		d = c.cfg.MaxDwell
	}
	return d
}

// Dispense opens the gate long enough to release target grams and closes it
// again. interrupt is checked before opening, once open and during the hold;
// when it fires the gate closes early and the error wraps
// ErrEmergencyStopActive. The gate is closed on every return path unless the
// close itself fails, which leaves the controller faulted.
func (c *Controller) Dispense(ctx context.Context, target float64, interrupt <-chan struct{}) (Result, error) {
	res := Result{Requested: target}
	if target < c.cfg.MinPortion || target > c.cfg.MaxPortion {
		return res, fmt.Errorf("%w: %.1f g outside [%.1f, %.1f]", models.ErrInvalidPortion, target, c.cfg.MinPortion, c.cfg.MaxPortion)
	}
	if err := c.Fault(); err != nil {
		return res, fmt.Errorf("%w: gate not confirmed closed: %v", models.ErrActuatorFault, err)
	}
	releaseScale, err := c.claimScale("dispense")
	if err != nil {
		return res, err
	}
	defer releaseScale()
	release, err := c.gate.TryAcquire("dispense")
	if err != nil {
		return res, err
	}
	defer release()

	c.motion.Lock()
	defer c.motion.Unlock()

	if fired(interrupt) {
		return res, fmt.Errorf("%w: dispense not started", models.ErrEmergencyStopActive)
	}

	pre, havePre := c.weigh(ctx)
	p := c.Profile()
	res.Dwell = c.DwellFor(target)

	c.setState(models.GateOpening)
	if err := c.move(ctx, p.OpenAngle); err != nil {
		return res, c.abortOpen(ctx, p, err)
	}
	c.setState(models.GateOpen)
	openedAt := c.clock.Now()
	c.log.Debugw("gate_open", "angle", p.OpenAngle, "dwell", res.Dwell)

	var holdErr error
	if fired(interrupt) {
		res.Interrupted = true
	} else {
		select {
		case <-interrupt:
			res.Interrupted = true
		case <-ctx.Done():
			holdErr = ctx.Err()
		case <-c.clock.After(res.Dwell):
		}
	}
	held := c.clock.Now().Sub(openedAt)

	c.setState(models.GateClosing)
	if err := c.forceClose(ctx, p); err != nil {
		return res, err
	}
	c.setState(models.GateClosed)

	res.Estimate = target
	if res.Interrupted || holdErr != nil {
		res.Estimate = min(target, p.DispenseRate*held.Seconds())
	}
	if havePre {
		if c.cfg.SettleTime > 0 {
			<-c.clock.After(c.cfg.SettleTime)
		}
		if post, ok := c.weigh(ctx); ok {
			res.Estimate = max(post-pre, 0)
			res.Measured = true
		}
	}

	c.log.Infow("dispense_cycle_done",
		"requested_g", target,
		"estimate_g", res.Estimate,
		"measured", res.Measured,
		"dwell", res.Dwell,
		"held", held,
		"interrupted", res.Interrupted,
	)
	switch {
	case res.Interrupted:
		return res, fmt.Errorf("%w: gate closed early after %s", models.ErrEmergencyStopActive, held)
	case holdErr != nil:
		return res, fmt.Errorf("dispense cancelled: %w", holdErr)
	}
	return res, nil
}

// TestServo sweeps the configured diagnostic angles and leaves the gate closed.
func (c *Controller) TestServo(ctx context.Context) ([]int, error) {
	if err := c.Fault(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrActuatorFault, err)
	}
	release, err := c.gate.TryAcquire("servo-test")
	if err != nil {
		return nil, err
	}
	defer release()
	c.motion.Lock()
	defer c.motion.Unlock()

	p := c.Profile()
	visited := make([]int, 0, len(c.cfg.TestAngles)+1)
	c.setState(models.GateOpening)
	for _, a := range c.cfg.TestAngles {
		a = c.clampAngle(a)
		if err := c.move(ctx, a); err != nil {
			return visited, c.abortOpen(ctx, p, err)
		}
		visited = append(visited, a)
		<-c.clock.After(c.cfg.TestStep)
	}
	c.setState(models.GateClosing)
	if err := c.forceClose(ctx, p); err != nil {
		return visited, err
	}
	c.setState(models.GateClosed)
	if len(visited) == 0 || visited[len(visited)-1] != p.ClosedAngle {
		visited = append(visited, p.ClosedAngle)
	}
	c.log.Infow("servo_test_done", "angles", visited)
	return visited, nil
}

// EnsureClosed drives the gate to the closed angle, e.g. on shutdown. A
// successful close clears a previous fault.
func (c *Controller) EnsureClosed(ctx context.Context) error {
	c.motion.Lock()
	defer c.motion.Unlock()
	c.setState(models.GateClosing)
	if err := c.forceClose(ctx, c.Profile()); err != nil {
		return err
	}
	c.mu.Lock()
	c.faulted = nil
	c.mu.Unlock()
	c.setState(models.GateClosed)
	return nil
}

// abortOpen handles a failed move while not closed.
func (c *Controller) abortOpen(ctx context.Context, p models.ActuatorProfile, cause error) error {
	c.log.Errorw("gate_move_failed", "err", cause)
	c.setState(models.GateClosing)
	if err := c.forceClose(ctx, p); err != nil {
		return err
	}
	c.setState(models.GateClosed)
	return fmt.Errorf("%w: %v", models.ErrActuatorFault, cause)
}

// forceClose retries the close independent of ctx cancellation. On failure
// the state stays closing and the controller is marked faulted.
func (c *Controller) forceClose(ctx context.Context, p models.ActuatorProfile) error {
	base := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= c.cfg.CloseRetries; attempt++ {
		actx, cancel := context.WithTimeout(base, 2*time.Second)
		lastErr = c.servo.SetAngle(actx, p.ClosedAngle)
		cancel()
		if lastErr == nil {
			return nil
		}
		c.log.Warnw("gate_close_retry", "attempt", attempt, "err", lastErr)
		<-c.clock.After(100 * time.Millisecond)
	}
	c.mu.Lock()
	c.faulted = lastErr
	c.mu.Unlock()
	c.log.Errorw("gate_close_failed", "attempts", c.cfg.CloseRetries, "err", lastErr)
	return fmt.Errorf("%w: gate failed to close after %d attempts: %v", models.ErrActuatorFault, c.cfg.CloseRetries, lastErr)
}

// move commands angle with bounded retries.
func (c *Controller) move(ctx context.Context, angle int) error {
	var err error
	for attempt := 0; attempt <= c.cfg.MoveRetries; attempt++ {
		if err = c.servo.SetAngle(ctx, angle); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		c.log.Warnw("gate_move_retry", "angle", angle, "attempt", attempt+1, "err", err)
	}
	return err
}

// claimScale takes the scale lock for owner. Without a lock it is a no-op.
func (c *Controller) claimScale(owner string) (func(), error) {
	if c.scaleLock == nil {
		return func() {}, nil
	}
	return c.scaleLock.TryAcquire(owner)
}

func (c *Controller) weigh(ctx context.Context) (float64, bool) {
	if c.scale == nil {
		return 0, false
	}
	r, err := c.scale.ReadStable(ctx)
	if err != nil {
		c.log.Warnw("dispense_weigh_failed", "err", err)
		return 0, false
	}
	return r.Mass, true
}

func (c *Controller) setState(s models.GateState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) clampAngle(a int) int {
	return min(max(a, c.cfg.MinAngle), c.cfg.MaxAngle)
}

func (c *Controller) validateProfile(p models.ActuatorProfile) error {
	switch {
	case p.ClosedAngle < c.cfg.MinAngle || p.ClosedAngle > c.cfg.MaxAngle:
		return fmt.Errorf("%w: closed angle %d outside [%d, %d]", models.ErrInvalidCalibration, p.ClosedAngle, c.cfg.MinAngle, c.cfg.MaxAngle)
	case p.OpenAngle < c.cfg.MinAngle || p.OpenAngle > c.cfg.MaxAngle:
		return fmt.Errorf("%w: open angle %d outside [%d, %d]", models.ErrInvalidCalibration, p.OpenAngle, c.cfg.MinAngle, c.cfg.MaxAngle)
	case p.OpenAngle == p.ClosedAngle:
		return fmt.Errorf("%w: open and closed angle are both %d", models.ErrInvalidCalibration, p.OpenAngle)
	case p.DispenseRate <= 0:
		return fmt.Errorf("%w: dispense rate %.3f g/s", models.ErrInvalidCalibration, p.DispenseRate)
	}
	return nil
}

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
