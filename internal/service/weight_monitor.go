package service

import (
	"context"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/resource"
)

// Heartbeat receives liveness beats for a named subsystem.
type Heartbeat interface {
	Beat(name string)
}

// WeightMonitorConfig controls the background weight loop.
type WeightMonitorConfig struct {
	MinCatGrams       float64       // a reading in [MinCatGrams, MaxCatGrams] looks like a cat
	MaxCatGrams       float64
	CatDetectionDelay time.Duration // how long the reading must stay in range
	LogInterval       time.Duration // weight sample logging period; 0 disables
}

// WeightMonitor polls the scale, keeps the cached reading fresh, logs
// samples and reports sensor faults and cat presence.
type WeightMonitor struct {
	scale   WeightSource
	lock    *resource.Lock
	weights repository.WeightRepo
	events  *Recorder
	beat    Heartbeat
	cfg     WeightMonitorConfig
	clock   clock.Clock
	log     *logger.Logger

	failing    bool
	catSince   time.Time
	catPresent bool
	lastLogged time.Time
}

func NewWeightMonitor(scale WeightSource, lock *resource.Lock, weights repository.WeightRepo, events *Recorder,
	beat Heartbeat, cfg WeightMonitorConfig, clk clock.Clock, log *logger.Logger) *WeightMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &WeightMonitor{
		scale:   scale,
		lock:    lock,
		weights: weights,
		events:  events,
		beat:    beat,
		cfg:     cfg,
		clock:   clk,
		log:     logger.OrNop(log),
	}
}

// Run polls every interval until ctx is canceled.
func (m *WeightMonitor) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Step(ctx, m.clock.Now())
		}
	}
}

// Step takes one reading. It does nothing while a dispense or calibration
// holds the scale.
func (m *WeightMonitor) Step(ctx context.Context, now time.Time) {
	if m.lock != nil {
		if owner, held := m.lock.Owner(); held {
			m.log.Debugw("weight_monitor_skipped", "owner", owner)
			return
		}
	}

	r, err := m.scale.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !m.failing {
			m.failing = true
			m.events.Emit(ctx, models.EventSensorFault, "weight read failed: "+err.Error(), nil)
		}
		return
	}
	if m.failing {
		m.failing = false
		m.log.Infow("sensor_recovered")
	}
	if m.beat != nil {
		m.beat.Beat("sensor")
	}

	m.detectCat(ctx, r, now)
	m.logSample(ctx, r, now)
}

func (m *WeightMonitor) detectCat(ctx context.Context, r models.WeightReading, now time.Time) {
	if m.cfg.MaxCatGrams <= 0 {
		return
	}
	inRange := r.Mass >= m.cfg.MinCatGrams && r.Mass <= m.cfg.MaxCatGrams
	switch {
	case !inRange:
		if m.catPresent {
			m.log.Infow("cat_left", "mass_g", r.Mass)
		}
		m.catSince = time.Time{}
		m.catPresent = false
	case m.catPresent:
	case m.catSince.IsZero():
		m.catSince = now
	case now.Sub(m.catSince) >= m.cfg.CatDetectionDelay:
		m.catPresent = true
		m.events.Emit(ctx, models.EventCatDetected, "cat detected on the scale", map[string]any{
			"mass_g": r.Mass,
		})
	}
}

func (m *WeightMonitor) logSample(ctx context.Context, r models.WeightReading, now time.Time) {
	if m.weights == nil || m.cfg.LogInterval <= 0 {
		return
	}
	if !m.lastLogged.IsZero() && now.Sub(m.lastLogged) < m.cfg.LogInterval {
		return
	}
	m.lastLogged = now
	err := m.weights.AppendSample(ctx, models.WeightSample{
		Mass:       r.Mass,
		Stable:     r.Stable,
		RecordedAt: now.UTC(),
	})
	if err != nil {
		m.log.Warnw("weight_sample_write_failed", "err", err)
	}
}

// CatPresent reports whether a cat is currently detected.
func (m *WeightMonitor) CatPresent() bool {
	return m.catPresent
}
