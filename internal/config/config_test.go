package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	p := writeFile(t, `
http:
  port: "9000"
safety:
  max_daily_grams: 180
  min_interval: 90m
gate:
  open_angle: 100
  test_angles: [0, 100, 0]
schedule:
  time_zone: UTC
  rules:
    - time: "07:30"
      portion: 40
      enabled: true
      label: breakfast
auth:
  signing_key: test-key
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTP.Port)
	assert.Equal(t, 180.0, cfg.Safety.MaxDailyGrams)
	assert.Equal(t, 90*time.Minute, cfg.Safety.MinInterval)
	assert.Equal(t, 100, cfg.Gate.OpenAngle)
	assert.Equal(t, []int{0, 100, 0}, cfg.Gate.TestAngles)
	require.Len(t, cfg.Schedule.Rules, 1)
	assert.Equal(t, "breakfast", cfg.Schedule.Rules[0].Label)

	// untouched keys keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Sensor.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Gate.MaxDwell)
	assert.Equal(t, "sim", cfg.Hardware.Driver)

	require.NoError(t, cfg.Validate())
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEEDER_HTTP_PORT", "7070")
	t.Setenv("FEEDER_SAFETY_MAX_PORTION", "80")
	t.Setenv("FEEDER_AUTH_SIGNING_KEY", "from-env")

	cfg, err := Load(writeFile(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTP.Port)
	assert.Equal(t, 80.0, cfg.Safety.MaxPortion)
	assert.Equal(t, "from-env", cfg.Auth.SigningKey)
	assert.Equal(t, "debug", cfg.Log.Level)

	gc := cfg.GateSettings()
	assert.Equal(t, 80.0, gc.MaxPortion)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg, err := Load(writeFile(t, `
hardware:
  driver: usb
gate:
  min_angle: 170
  max_angle: 190
  open_angle: 0
safety:
  max_daily_grams: 0
monitor:
  min_cat_grams: 9000
schedule:
  time_zone: Mars/Olympus
  rules:
    - time: "8am"
      portion: 40
mqtt:
  enabled: true
  broker: ""
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"hardware.driver",
		"gate.max_angle: 190",
		"gate.open_angle: must differ",
		"safety.max_daily_grams",
		"monitor: min_cat_grams",
		"schedule.time_zone",
		"schedule.rules[0]",
		"mqtt.broker",
		"auth.signing_key",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in:\n%s", want, msg)
	}
}

func TestSettingsConversions(t *testing.T) {
	cfg, err := Load(writeFile(t, "auth:\n  signing_key: k\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.SensorSettings().SmoothSamples)
	assert.Equal(t, 2.0, cfg.ScaleSettings().StabilityGrams)
	assert.Equal(t, 228.0, cfg.CalibrationSettings().DefaultScaleFactor)
	assert.Equal(t, 15*time.Minute, cfg.Calibration.SessionIdleTimeout)
	assert.Equal(t, 300.0, cfg.Limits().MaxDailyGrams)
	assert.Equal(t, 2*time.Hour, cfg.Limits().MinInterval)
	assert.Equal(t, 45, cfg.SimSettings().OpenThreshold)
	assert.Equal(t, byte(1), cfg.MQTTSettings().QoS)
	assert.Equal(t, 80.0, cfg.HealthSettings().Thresholds.CPUPct)
}
