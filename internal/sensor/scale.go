package sensor

import (
	"context"
	"fmt"
	"sync"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/models"
)

// Converter maps smoothed raw counts to grams.
type Converter interface {
	ToMass(raw float64) float64
}

// ScaleConfig controls stability gating.
type ScaleConfig struct {
	StabilityGrams  float64 // max spread across the stability window
	StabilityWindow int     // readings considered for stability
	StableAttempts  int     // reads ReadStable may take
	SmoothSamples   int     // conversions averaged per reading
}

func DefaultScaleConfig() ScaleConfig {
	return ScaleConfig{
		StabilityGrams:  2,
		StabilityWindow: 3,
		StableAttempts:  10,
		SmoothSamples:   5,
	}
}

// Scale produces calibrated weight readings.
type Scale struct {
	sensor *Sensor
	conv   Converter
	cfg    ScaleConfig
	clock  clock.Clock

	mu      sync.RWMutex
	history []float64
	latest  *models.WeightReading
}

func NewScale(s *Sensor, conv Converter, cfg ScaleConfig, clk clock.Clock) *Scale {
	def := DefaultScaleConfig()
	if cfg.StabilityWindow < 2 {
		cfg.StabilityWindow = def.StabilityWindow
	}
	if cfg.StableAttempts <= 0 {
		cfg.StableAttempts = def.StableAttempts
	}
	if cfg.StabilityGrams <= 0 {
		cfg.StabilityGrams = def.StabilityGrams
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scale{sensor: s, conv: conv, cfg: cfg, clock: clk}
}

// Sensor exposes the underlying acquisition layer.
func (sc *Scale) Sensor() *Sensor { return sc.sensor }

// Read takes one smoothed conversion and converts it to grams. Stable is set
// when the last StabilityWindow readings lie within StabilityGrams.
func (sc *Scale) Read(ctx context.Context) (models.WeightReading, error) {
	raw, err := sc.sensor.ReadSmoothed(ctx, sc.cfg.SmoothSamples)
	if err != nil {
		return models.WeightReading{}, err
	}
	mass := sc.conv.ToMass(raw)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.history = append(sc.history, mass)
	if len(sc.history) > sc.cfg.StabilityWindow {
		sc.history = sc.history[len(sc.history)-sc.cfg.StabilityWindow:]
	}
	r := models.WeightReading{
		Mass:      mass,
		Stable:    len(sc.history) >= sc.cfg.StabilityWindow && Spread(sc.history) <= sc.cfg.StabilityGrams,
		Timestamp: sc.clock.Now().UTC(),
	}
	sc.latest = &r
	return r, nil
}

// ReadStable reads until the weight settles, for decisions that depend on
// mass. It gives up with ErrUnstableReading after StableAttempts reads.
func (sc *Scale) ReadStable(ctx context.Context) (models.WeightReading, error) {
	var last models.WeightReading
	for i := 0; i < sc.cfg.StableAttempts; i++ {
		r, err := sc.Read(ctx)
		if err != nil {
			return models.WeightReading{}, err
		}
		if r.Stable {
			return r, nil
		}
		last = r
	}
	return last, fmt.Errorf("%w: no stable weight after %d reads", models.ErrUnstableReading, sc.cfg.StableAttempts)
}

// Latest returns the last reading without touching the hardware.
func (sc *Scale) Latest() (models.WeightReading, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.latest == nil {
		return models.WeightReading{}, false
	}
	return *sc.latest, true
}

// Reset drops the stability history; call after the calibration changes.
func (sc *Scale) Reset() {
	sc.mu.Lock()
	sc.history = nil
	sc.mu.Unlock()
	sc.sensor.ResetWindow()
}
