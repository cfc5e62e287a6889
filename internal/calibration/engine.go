// Package calibration owns the scale's CalibrationProfile: tare, reference
// calibration, conversion of raw counts to grams and the guided session.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/resource"
	"cat_feeder/internal/sensor"
)

// ProfileStore persists the single calibration profile. Load returns
// models.ErrNotFound when nothing was saved yet.
type ProfileStore interface {
	LoadCalibration(ctx context.Context) (models.CalibrationProfile, error)
	SaveCalibration(ctx context.Context, p models.CalibrationProfile) error
}

// Reader supplies smoothed raw counts.
type Reader interface {
	ReadSmoothed(ctx context.Context, n int) (float64, error)
}

type Config struct {
	DefaultScaleFactor float64 // raw counts per gram before any calibration
	TareSamples        int     // smoothed readings per tare or reference capture
	TareMaxStdDev      float64 // counts; above this the load was disturbed
	MaxFactorRatio     float64 // new/old factor outside [1/r, r] is rejected
	SmoothSamples      int     // raw conversions per smoothed reading
	VerifyTolerancePct float64
}

func DefaultConfig() Config {
	return Config{
		DefaultScaleFactor: 228,
		TareSamples:        10,
		TareMaxStdDev:      250,
		MaxFactorRatio:     3,
		SmoothSamples:      5,
		VerifyTolerancePct: 5,
	}
}

// Engine is the only writer of the calibration profile.
type Engine struct {
	reader Reader
	store  ProfileStore
	lock   *resource.Lock
	cfg    Config
	clock  clock.Clock
	log    *logger.Logger

	mu       sync.RWMutex
	profile  models.CalibrationProfile
	onChange []func(models.CalibrationProfile)
}

// New creates an engine holding the default profile; call Load to restore
// the persisted one. lock may be nil when nothing else shares the scale.
func New(reader Reader, store ProfileStore, lock *resource.Lock, cfg Config, clk clock.Clock, log *logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.DefaultScaleFactor <= 0 {
		cfg.DefaultScaleFactor = def.DefaultScaleFactor
	}
	if cfg.TareSamples <= 0 {
		cfg.TareSamples = def.TareSamples
	}
	if cfg.TareMaxStdDev <= 0 {
		cfg.TareMaxStdDev = def.TareMaxStdDev
	}
	if cfg.MaxFactorRatio <= 1 {
		cfg.MaxFactorRatio = def.MaxFactorRatio
	}
	if cfg.VerifyTolerancePct <= 0 {
		cfg.VerifyTolerancePct = def.VerifyTolerancePct
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		reader:  reader,
		store:   store,
		lock:    lock,
		cfg:     cfg,
		clock:   clk,
		log:     logger.OrNop(log),
		profile: models.CalibrationProfile{ScaleFactor: cfg.DefaultScaleFactor},
	}
}

// Load restores the persisted profile. A missing or corrupt profile leaves
// the default in place.
func (e *Engine) Load(ctx context.Context) error {
	p, err := e.store.LoadCalibration(ctx)
	if errors.Is(err, models.ErrNotFound) {
		e.log.Infow("calibration_default", "scale_factor", e.cfg.DefaultScaleFactor)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	if p.ScaleFactor == 0 || math.IsNaN(p.ScaleFactor) {
		e.log.Warnw("calibration_stored_invalid", "scale_factor", p.ScaleFactor)
		return nil
	}
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
	e.notify(p)
	e.log.Infow("calibration_loaded", "tare_offset", p.TareOffset, "scale_factor", p.ScaleFactor)
	return nil
}

// OnChange registers fn to run after every committed profile change.
func (e *Engine) OnChange(fn func(models.CalibrationProfile)) {
	e.mu.Lock()
	e.onChange = append(e.onChange, fn)
	e.mu.Unlock()
}

// Profile returns a copy of the current profile.
func (e *Engine) Profile() models.CalibrationProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyProfile(e.profile)
}

// ToMass converts smoothed raw counts to grams.
func (e *Engine) ToMass(raw float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return (raw - e.profile.TareOffset) / e.profile.ScaleFactor
}

// Tare captures samples readings with an empty plate and stores their mean
// as the new zero.
func (e *Engine) Tare(ctx context.Context, samples int) (models.CalibrationProfile, error) {
	release, err := e.acquire("tare")
	if err != nil {
		return models.CalibrationProfile{}, err
	}
	defer release()

	mean, err := e.captureStable(ctx, samples)
	if err != nil {
		return models.CalibrationProfile{}, fmt.Errorf("tare: %w", err)
	}
	p := e.Profile()
	p.TareOffset = mean
	if err := e.commit(ctx, p); err != nil {
		return models.CalibrationProfile{}, err
	}
	e.log.Infow("tare_completed", "tare_offset", mean)
	return p, nil
}

// Calibrate reads the plate with knownMass on it and derives the scale factor.
func (e *Engine) Calibrate(ctx context.Context, knownMass float64) (models.CalibrationProfile, error) {
	if knownMass <= 0 {
		return models.CalibrationProfile{}, fmt.Errorf("%w: known mass must be positive, got %.2f", models.ErrInvalidCalibration, knownMass)
	}
	release, err := e.acquire("calibrate")
	if err != nil {
		return models.CalibrationProfile{}, err
	}
	defer release()

	observed, err := e.captureStable(ctx, e.cfg.TareSamples)
	if err != nil {
		return models.CalibrationProfile{}, fmt.Errorf("calibrate: %w", err)
	}
	return e.calibrateObserved(ctx, knownMass, observed)
}

// CalibrateObserved derives the scale factor from a reading taken elsewhere.
func (e *Engine) CalibrateObserved(ctx context.Context, knownMass, observedRaw float64) (models.CalibrationProfile, error) {
	if knownMass <= 0 {
		return models.CalibrationProfile{}, fmt.Errorf("%w: known mass must be positive, got %.2f", models.ErrInvalidCalibration, knownMass)
	}
	return e.calibrateObserved(ctx, knownMass, observedRaw)
}

func (e *Engine) calibrateObserved(ctx context.Context, knownMass, observedRaw float64) (models.CalibrationProfile, error) {
	p := e.Profile()
	factor := (observedRaw - p.TareOffset) / knownMass
	if err := e.checkFactor(p, factor); err != nil {
		return models.CalibrationProfile{}, err
	}
	p.ScaleFactor = factor
	p.CalibratedAt = e.now()
	p.References = []models.ReferencePoint{{KnownMass: knownMass, ObservedRaw: observedRaw}}
	if err := e.commit(ctx, p); err != nil {
		return models.CalibrationProfile{}, err
	}
	e.log.Infow("calibration_completed", "known_mass_g", knownMass, "observed_raw", observedRaw, "scale_factor", factor)
	return p, nil
}

// Replace installs a complete profile, e.g. from a backup.
func (e *Engine) Replace(ctx context.Context, p models.CalibrationProfile) error {
	if p.ScaleFactor <= 0 || math.IsNaN(p.ScaleFactor) || math.IsInf(p.ScaleFactor, 0) {
		return fmt.Errorf("%w: scale factor %.4f", models.ErrInvalidCalibration, p.ScaleFactor)
	}
	return e.commit(ctx, copyProfile(p))
}

// VerifyResult reports how far a reading is from a known mass.
type VerifyResult struct {
	KnownMass    float64 `json:"known_mass_g"`
	MeasuredMass float64 `json:"measured_mass_g"`
	ErrorPct     float64 `json:"error_pct"`
	TolerancePct float64 `json:"tolerance_pct"`
	Passed       bool    `json:"passed"`
}

// Verify weighs knownMass and fails with ErrInvalidCalibration when the
// error exceeds tolerancePct (0 uses the configured tolerance).
func (e *Engine) Verify(ctx context.Context, knownMass, tolerancePct float64) (VerifyResult, error) {
	if knownMass <= 0 {
		return VerifyResult{}, fmt.Errorf("%w: known mass must be positive", models.ErrInvalidCalibration)
	}
	if tolerancePct <= 0 {
		tolerancePct = e.cfg.VerifyTolerancePct
	}
	release, err := e.acquire("verify")
	if err != nil {
		return VerifyResult{}, err
	}
	defer release()

	raw, err := e.captureStable(ctx, e.cfg.TareSamples)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	mass := e.ToMass(raw)
	res := VerifyResult{
		KnownMass:    knownMass,
		MeasuredMass: mass,
		ErrorPct:     math.Abs(mass-knownMass) / knownMass * 100,
		TolerancePct: tolerancePct,
	}
	res.Passed = res.ErrorPct <= tolerancePct
	if !res.Passed {
		return res, fmt.Errorf("%w: measured %.1f g for %.1f g (%.1f%% off)", models.ErrInvalidCalibration, mass, knownMass, res.ErrorPct)
	}
	return res, nil
}

// checkFactor rejects non-positive factors and, once a reference has been
// applied, factors implausibly far from the previous one.
func (e *Engine) checkFactor(prev models.CalibrationProfile, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: scale factor %.4f is not positive", models.ErrInvalidCalibration, factor)
	}
	if !prev.Calibrated() {
		return nil
	}
	ratio := factor / prev.ScaleFactor
	if ratio > e.cfg.MaxFactorRatio || ratio < 1/e.cfg.MaxFactorRatio {
		return fmt.Errorf("%w: scale factor %.4f is %.2fx the previous %.4f", models.ErrInvalidCalibration, factor, ratio, prev.ScaleFactor)
	}
	return nil
}

// captureStable averages samples smoothed readings and fails with
// ErrUnstableReading when they scatter more than TareMaxStdDev.
func (e *Engine) captureStable(ctx context.Context, samples int) (float64, error) {
	if samples <= 0 {
		samples = e.cfg.TareSamples
	}
	vals := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		v, err := e.reader.ReadSmoothed(ctx, e.cfg.SmoothSamples)
		if err != nil {
			return 0, err
		}
		vals = append(vals, v)
	}
	if sd := sensor.StdDev(vals); sd > e.cfg.TareMaxStdDev {
		return 0, fmt.Errorf("%w: stddev %.1f counts over %d samples", models.ErrUnstableReading, sd, samples)
	}
	return sensor.Mean(vals), nil
}

// commit persists p and then makes it current; a failed save changes nothing.
func (e *Engine) commit(ctx context.Context, p models.CalibrationProfile) error {
	if err := e.store.SaveCalibration(ctx, p); err != nil {
		return fmt.Errorf("%w: save calibration: %v", models.ErrStorageFailure, err)
	}
	e.mu.Lock()
	e.profile = copyProfile(p)
	e.mu.Unlock()
	e.notify(p)
	return nil
}

func (e *Engine) notify(p models.CalibrationProfile) {
	e.mu.RLock()
	hooks := slices.Clone(e.onChange)
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(copyProfile(p))
	}
}

func (e *Engine) acquire(owner string) (func(), error) {
	if e.lock == nil {
		return func() {}, nil
	}
	return e.lock.TryAcquire(owner)
}

func copyProfile(p models.CalibrationProfile) models.CalibrationProfile {
	p.References = append([]models.ReferencePoint(nil), p.References...)
	return p
}

// now stamps committed profiles.
func (e *Engine) now() time.Time { return e.clock.Now().UTC() }
