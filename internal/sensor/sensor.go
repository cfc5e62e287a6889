// Package sensor turns raw load cell conversions into smoothed counts and
// calibrated weight readings.
package sensor

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
)

// minWindowForOutliers is how many accepted samples the rolling window needs
// before spike rejection kicks in.
const minWindowForOutliers = 5

// Config tunes acquisition.
type Config struct {
	ReadTimeout   time.Duration // per conversion
	ReadRetries   int           // extra attempts on a failed conversion
	SmoothSamples int           // default n for ReadSmoothed
	Window        int           // rolling window of accepted samples
	OutlierSigma  float64       // reject beyond this many stddevs
	OutlierFloor  float64       // never reject deviations below this (counts)
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:   500 * time.Millisecond,
		ReadRetries:   2,
		SmoothSamples: 5,
		Window:        20,
		OutlierSigma:  4,
		OutlierFloor:  200,
	}
}

// Sensor owns the HX711 channel. Reads are serialized.
type Sensor struct {
	src   hardware.Scale
	cfg   Config
	clock clock.Clock
	log   *logger.Logger

	mu       sync.Mutex
	window   []float64
	rejected int

	lastOK   time.Time
	lastErr  error
	statusMu sync.RWMutex
}

func New(src hardware.Scale, cfg Config, clk clock.Clock, log *logger.Logger) *Sensor {
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	if cfg.SmoothSamples <= 0 {
		cfg.SmoothSamples = def.SmoothSamples
	}
	if cfg.Window < minWindowForOutliers {
		cfg.Window = def.Window
	}
	if cfg.OutlierFloor <= 0 {
		cfg.OutlierFloor = def.OutlierFloor
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = def.OutlierSigma
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sensor{src: src, cfg: cfg, clock: clk, log: logger.OrNop(log)}
}

// ReadRaw performs one conversion bounded by the read timeout.
func (s *Sensor) ReadRaw(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnce(ctx)
}

// ReadSmoothed averages n accepted conversions (n <= 0 uses the configured
// default). A conversion that deviates from the rolling window by more than
// the outlier bound is discarded and read again once; the second value is
// taken as is. The channel is held per conversion, so another reader waits
// for at most one sample.
func (s *Sensor) ReadSmoothed(ctx context.Context, n int) (float64, error) {
	if n <= 0 {
		n = s.cfg.SmoothSamples
	}
	vals := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.lockedSample(ctx)
		if err != nil {
			return 0, err
		}
		vals = append(vals, v)
	}
	return Mean(vals), nil
}

func (s *Sensor) lockedSample(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample(ctx)
}

// Rejected is the number of samples discarded as spikes so far.
func (s *Sensor) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// LastSuccess is the time of the last successful conversion.
func (s *Sensor) LastSuccess() time.Time {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.lastOK
}

// LastError is the most recent conversion error, nil after a success.
func (s *Sensor) LastError() error {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.lastErr
}

// ResetWindow forgets the rolling window, e.g. after the load changed on purpose.
func (s *Sensor) ResetWindow() {
	s.mu.Lock()
	s.window = s.window[:0]
	s.mu.Unlock()
}

// sample returns one accepted conversion. Caller holds mu.
func (s *Sensor) sample(ctx context.Context) (float64, error) {
	raw, err := s.readRetry(ctx)
	if err != nil {
		return 0, err
	}
	v := float64(raw)
	if s.isOutlier(v) {
		s.rejected++
		s.log.Debugw("sensor_spike_rejected", "raw", raw)
		raw, err = s.readRetry(ctx)
		if err != nil {
			return 0, err
		}
		v = float64(raw)
	}
	s.push(v)
	return v, nil
}

func (s *Sensor) isOutlier(v float64) bool {
	if len(s.window) < minWindowForOutliers {
		return false
	}
	bound := s.cfg.OutlierSigma * StdDev(s.window)
	if bound < s.cfg.OutlierFloor {
		bound = s.cfg.OutlierFloor
	}
	d := v - Mean(s.window)
	if d < 0 {
		d = -d
	}
	return d > bound
}

func (s *Sensor) push(v float64) {
	s.window = append(s.window, v)
	if len(s.window) > s.cfg.Window {
		s.window = s.window[len(s.window)-s.cfg.Window:]
	}
}

// readRetry retries failed conversions a bounded number of times. Caller holds mu.
func (s *Sensor) readRetry(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.ReadRetries; attempt++ {
		raw, err := s.readOnce(ctx)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return 0, err
		}
		lastErr = err
		s.log.Debugw("sensor_read_retry", "attempt", attempt+1, "err", err)
	}
	return 0, lastErr
}

type readResult struct {
	raw int64
	err error
}

// readOnce bounds a single conversion by ReadTimeout even when the source
// ignores its context. Caller holds mu.
func (s *Sensor) readOnce(ctx context.Context) (int64, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()

	ch := make(chan readResult, 1)
	go func() {
		raw, err := s.src.ReadRaw(tctx)
		ch <- readResult{raw: raw, err: err}
	}()

	var res readResult
	select {
	case res = <-ch:
	case <-tctx.Done():
		res.err = tctx.Err()
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w: no conversion within %s", models.ErrSensorTimeout, s.cfg.ReadTimeout)
		}
		s.setStatus(time.Time{}, res.err)
		return 0, res.err
	}
	s.setStatus(s.clock.Now(), nil)
	return res.raw, nil
}

func (s *Sensor) setStatus(ok time.Time, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if err != nil {
		s.lastErr = err
		return
	}
	s.lastOK = ok
	s.lastErr = nil
}
