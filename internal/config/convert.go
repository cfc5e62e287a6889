package config

import (
	"cat_feeder/internal/actuator"
	"cat_feeder/internal/calibration"
	"cat_feeder/internal/hardware"
	"cat_feeder/internal/health"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
	"cat_feeder/internal/policy"
	"cat_feeder/internal/sensor"
)

func (r RuleConfig) Rule() models.FeedingRule {
	return models.FeedingRule{
		TimeOfDay:   r.Time,
		PortionMass: r.Portion,
		Enabled:     r.Enabled,
		Label:       r.Label,
	}
}

func (c *Config) SimSettings() hardware.SimConfig {
	sc := hardware.DefaultSimConfig()
	sc.TareRaw = c.Hardware.Sim.TareRaw
	sc.CountsPerGram = c.Hardware.Sim.CountsPerGram
	sc.NoiseCounts = c.Hardware.Sim.NoiseCounts
	sc.FlowRate = c.Hardware.Sim.FlowRate
	sc.ReadLatency = c.Hardware.Sim.ReadLatency
	sc.OpenThreshold = (c.Gate.ClosedAngle + c.Gate.OpenAngle) / 2
	return sc
}

func (c *Config) SensorSettings() sensor.Config {
	return sensor.Config{
		ReadTimeout:   c.Sensor.ReadTimeout,
		ReadRetries:   c.Sensor.ReadRetries,
		SmoothSamples: c.Sensor.SmoothSamples,
		Window:        c.Sensor.Window,
		OutlierSigma:  c.Sensor.OutlierSigma,
		OutlierFloor:  c.Sensor.OutlierFloor,
	}
}

func (c *Config) ScaleSettings() sensor.ScaleConfig {
	return sensor.ScaleConfig{
		StabilityGrams:  c.Sensor.StabilityGrams,
		StabilityWindow: c.Sensor.StabilityWindow,
		StableAttempts:  c.Sensor.StableAttempts,
		SmoothSamples:   c.Sensor.SmoothSamples,
	}
}

func (c *Config) CalibrationSettings() calibration.Config {
	return calibration.Config{
		DefaultScaleFactor: c.Calibration.DefaultScaleFactor,
		TareSamples:        c.Calibration.TareSamples,
		TareMaxStdDev:      c.Calibration.TareMaxStdDev,
		MaxFactorRatio:     c.Calibration.MaxFactorRatio,
		SmoothSamples:      c.Sensor.SmoothSamples,
		VerifyTolerancePct: c.Calibration.VerifyTolerancePct,
	}
}

// GateSettings applies the gate section over the actuator defaults. The
// portion ceiling is the tighter of gate.max_portion and safety.max_portion.
func (c *Config) GateSettings() actuator.Config {
	ac := actuator.DefaultConfig()
	g := c.Gate
	ac.MinAngle = g.MinAngle
	ac.MaxAngle = g.MaxAngle
	ac.DefaultClosedAngle = g.ClosedAngle
	ac.DefaultOpenAngle = g.OpenAngle
	ac.DefaultRate = g.DispenseRate
	ac.MinPortion = g.MinPortion
	ac.MaxPortion = g.MaxPortion
	if c.Safety.MaxPortion > 0 && c.Safety.MaxPortion < ac.MaxPortion {
		ac.MaxPortion = c.Safety.MaxPortion
	}
	ac.MinDwell = g.MinDwell
	ac.MaxDwell = g.MaxDwell
	ac.MoveRetries = g.MoveRetries
	ac.CloseRetries = g.CloseRetries
	ac.SettleTime = g.SettleTime
	if len(g.TestAngles) > 0 {
		ac.TestAngles = append([]int(nil), g.TestAngles...)
	}
	ac.TestStep = g.TestStep
	return ac
}

func (c *Config) Limits() policy.Limits {
	return policy.Limits{
		MaxDailyGrams:    c.Safety.MaxDailyGrams,
		MaxDailyFeedings: c.Safety.MaxDailyFeedings,
		MinInterval:      c.Safety.MinInterval,
		MaxPortion:       c.Safety.MaxPortion,
	}
}

func (c *Config) HealthSettings() health.Config {
	hc := health.DefaultConfig()
	hc.Thresholds = health.Thresholds{
		CPUPct:   c.Health.CPUPct,
		MemPct:   c.Health.MemPct,
		DiskPct:  c.Health.DiskPct,
		TempC:    c.Health.TempC,
		DBSizeMB: c.Health.DBSizeMB,
	}
	hc.LivenessTimeout = c.Health.LivenessTimeout
	hc.AlertCooldown = c.Health.AlertCooldown
	return hc
}

func (c *Config) MQTTSettings() notify.Config {
	return notify.Config{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         byte(c.MQTT.QoS),
	}
}
