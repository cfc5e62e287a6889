package config

import (
	"errors"
	"fmt"

	"cat_feeder/internal/scheduler"
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Hardware.Driver {
	case "sim":
	case "serial":
		if c.Hardware.Port == "" {
			add("hardware.port: required for the serial driver")
		}
		if c.Hardware.Baud <= 0 {
			add("hardware.baud: must be positive")
		}
	default:
		add("hardware.driver: %q is not serial or sim", c.Hardware.Driver)
	}

	if c.Sensor.ReadTimeout <= 0 {
		add("sensor.read_timeout: must be positive")
	}
	if c.Sensor.SmoothSamples <= 0 {
		add("sensor.smooth_samples: must be positive")
	}
	if c.Sensor.StabilityGrams <= 0 {
		add("sensor.stability_grams: must be positive")
	}

	if c.Calibration.DefaultScaleFactor == 0 {
		add("calibration.default_scale_factor: must not be zero")
	}
	if c.Calibration.MaxFactorRatio < 1 {
		add("calibration.max_factor_ratio: must be at least 1")
	}

	g := c.Gate
	for _, a := range []struct {
		name  string
		angle int
	}{
		{"min_angle", g.MinAngle},
		{"max_angle", g.MaxAngle},
		{"closed_angle", g.ClosedAngle},
		{"open_angle", g.OpenAngle},
	} {
		if a.angle < 0 || a.angle > 180 {
			add("gate.%s: %d outside 0..180", a.name, a.angle)
		}
	}
	if g.MinAngle >= g.MaxAngle {
		add("gate.min_angle: %d must be below max_angle %d", g.MinAngle, g.MaxAngle)
	}
	if g.ClosedAngle == g.OpenAngle {
		add("gate.open_angle: must differ from closed_angle")
	}
	if g.DispenseRate <= 0 {
		add("gate.dispense_rate: must be positive")
	}
	if g.MinPortion <= 0 || g.MaxPortion <= g.MinPortion {
		add("gate: portion range %.1f..%.1f is invalid", g.MinPortion, g.MaxPortion)
	}
	if g.MinDwell <= 0 || g.MaxDwell < g.MinDwell {
		add("gate: dwell range %s..%s is invalid", g.MinDwell, g.MaxDwell)
	}

	s := c.Safety
	if s.MaxDailyGrams <= 0 {
		add("safety.max_daily_grams: must be positive")
	}
	if s.MaxDailyFeedings < 0 {
		add("safety.max_daily_feedings: must not be negative")
	}
	if s.MinInterval < 0 {
		add("safety.min_interval: must not be negative")
	}
	if s.MaxPortion <= 0 {
		add("safety.max_portion: must be positive")
	}

	if _, err := c.Location(); err != nil {
		add("schedule.time_zone: %v", err)
	}
	if c.Schedule.Tick <= 0 {
		add("schedule.tick: must be positive")
	}
	for i, r := range c.Schedule.Rules {
		if err := scheduler.ValidateRule(r.Rule(), s.MaxPortion); err != nil {
			add("schedule.rules[%d]: %v", i, err)
		}
	}

	if c.Monitor.MinCatGrams <= 0 || c.Monitor.MinCatGrams >= c.Monitor.MaxCatGrams {
		add("monitor: min_cat_grams %.0f must be positive and below max_cat_grams %.0f", c.Monitor.MinCatGrams, c.Monitor.MaxCatGrams)
	}
	if c.Monitor.Interval <= 0 {
		add("monitor.interval: must be positive")
	}
	if c.Health.Interval <= 0 {
		add("health.interval: must be positive")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add("mqtt.broker: required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos: %d outside 0..2", c.MQTT.QoS)
	}
	if c.Auth.SigningKey == "" {
		add("auth.signing_key: required (set FEEDER_AUTH_SIGNING_KEY)")
	}
	if c.Retention.Days <= 0 {
		add("retention.days: must be positive")
	}

	return errors.Join(errs...)
}
