// Package config loads the feeder configuration from configs/config.yml with
// FEEDER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "FEEDER"

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	DB          DBConfig          `mapstructure:"db"`
	Log         LogConfig         `mapstructure:"log"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Sensor      SensorConfig      `mapstructure:"sensor"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Gate        GateConfig        `mapstructure:"gate"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Health      HealthConfig      `mapstructure:"health"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Queue       QueueConfig       `mapstructure:"queue"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"` // must cover the longest dispense
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HardwareConfig struct {
	Driver string    `mapstructure:"driver"` // serial | sim
	Port   string    `mapstructure:"port"`
	Baud   int       `mapstructure:"baud"`
	Sim    SimConfig `mapstructure:"sim"`
}

type SimConfig struct {
	TareRaw       float64       `mapstructure:"tare_raw"`
	CountsPerGram float64       `mapstructure:"counts_per_gram"`
	NoiseCounts   float64       `mapstructure:"noise_counts"`
	FlowRate      float64       `mapstructure:"flow_rate"`
	ReadLatency   time.Duration `mapstructure:"read_latency"`
}

type SensorConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ReadRetries     int           `mapstructure:"read_retries"`
	SmoothSamples   int           `mapstructure:"smooth_samples"`
	Window          int           `mapstructure:"window"`
	OutlierSigma    float64       `mapstructure:"outlier_sigma"`
	OutlierFloor    float64       `mapstructure:"outlier_floor"`
	StabilityGrams  float64       `mapstructure:"stability_grams"`
	StabilityWindow int           `mapstructure:"stability_window"`
	StableAttempts  int           `mapstructure:"stable_attempts"`
}

type CalibrationConfig struct {
	DefaultScaleFactor float64       `mapstructure:"default_scale_factor"`
	TareSamples        int           `mapstructure:"tare_samples"`
	TareMaxStdDev      float64       `mapstructure:"tare_max_stddev"`
	MaxFactorRatio     float64       `mapstructure:"max_factor_ratio"`
	VerifyTolerancePct float64       `mapstructure:"verify_tolerance_pct"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"` // aborts forgotten guided sessions
}

type GateConfig struct {
	MinAngle     int           `mapstructure:"min_angle"`
	MaxAngle     int           `mapstructure:"max_angle"`
	ClosedAngle  int           `mapstructure:"closed_angle"`
	OpenAngle    int           `mapstructure:"open_angle"`
	DispenseRate float64       `mapstructure:"dispense_rate"` // g/s
	MinPortion   float64       `mapstructure:"min_portion"`
	MaxPortion   float64       `mapstructure:"max_portion"`
	MinDwell     time.Duration `mapstructure:"min_dwell"`
	MaxDwell     time.Duration `mapstructure:"max_dwell"`
	MoveRetries  int           `mapstructure:"move_retries"`
	CloseRetries int           `mapstructure:"close_retries"`
	SettleTime   time.Duration `mapstructure:"settle_time"`
	TestAngles   []int         `mapstructure:"test_angles"`
	TestStep     time.Duration `mapstructure:"test_step"`
}

type SafetyConfig struct {
	MaxDailyGrams    float64       `mapstructure:"max_daily_grams"`
	MaxDailyFeedings int           `mapstructure:"max_daily_feedings"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	MaxPortion       float64       `mapstructure:"max_portion"`
}

type ScheduleConfig struct {
	TimeZone    string        `mapstructure:"time_zone"`
	Tick        time.Duration `mapstructure:"tick"`
	MaxDeferral time.Duration `mapstructure:"max_deferral"`
	Rules       []RuleConfig  `mapstructure:"rules"` // seeded only into an empty rule table
}

type RuleConfig struct {
	Time    string  `mapstructure:"time"`
	Portion float64 `mapstructure:"portion"`
	Enabled bool    `mapstructure:"enabled"`
	Label   string  `mapstructure:"label"`
}

type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	MinCatGrams       float64       `mapstructure:"min_cat_grams"`
	MaxCatGrams       float64       `mapstructure:"max_cat_grams"`
	CatDetectionDelay time.Duration `mapstructure:"cat_detection_delay"`
	LogInterval       time.Duration `mapstructure:"log_interval"` // 0 disables weight logging
}

type HealthConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	AlertCooldown   time.Duration `mapstructure:"alert_cooldown"`
	CPUPct          float64       `mapstructure:"cpu_pct"`
	MemPct          float64       `mapstructure:"mem_pct"`
	DiskPct         float64       `mapstructure:"disk_pct"`
	TempC           float64       `mapstructure:"temp_c"`
	DBSizeMB        float64       `mapstructure:"db_size_mb"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type QueueConfig struct {
	Size int `mapstructure:"size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("db.path", "cat_feeder.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("hardware.driver", "sim")
	v.SetDefault("hardware.port", "/dev/ttyACM0")
	v.SetDefault("hardware.baud", 115200)
	v.SetDefault("hardware.sim.tare_raw", 8400.0)
	v.SetDefault("hardware.sim.counts_per_gram", 228.0)
	v.SetDefault("hardware.sim.noise_counts", 20.0)
	v.SetDefault("hardware.sim.flow_rate", 10.0)
	v.SetDefault("hardware.sim.read_latency", "10ms")

	v.SetDefault("sensor.read_timeout", "500ms")
	v.SetDefault("sensor.read_retries", 2)
	v.SetDefault("sensor.smooth_samples", 5)
	v.SetDefault("sensor.window", 20)
	v.SetDefault("sensor.outlier_sigma", 4.0)
	v.SetDefault("sensor.outlier_floor", 200.0)
	v.SetDefault("sensor.stability_grams", 2.0)
	v.SetDefault("sensor.stability_window", 3)
	v.SetDefault("sensor.stable_attempts", 10)

	v.SetDefault("calibration.default_scale_factor", 228.0)
	v.SetDefault("calibration.tare_samples", 10)
	v.SetDefault("calibration.tare_max_stddev", 250.0)
	v.SetDefault("calibration.max_factor_ratio", 3.0)
	v.SetDefault("calibration.verify_tolerance_pct", 5.0)
	v.SetDefault("calibration.session_idle_timeout", "15m")

	v.SetDefault("gate.min_angle", 0)
	v.SetDefault("gate.max_angle", 180)
	v.SetDefault("gate.closed_angle", 0)
	v.SetDefault("gate.open_angle", 90)
	v.SetDefault("gate.dispense_rate", 10.0)
	v.SetDefault("gate.min_portion", 1.0)
	v.SetDefault("gate.max_portion", 200.0)
	v.SetDefault("gate.min_dwell", "500ms")
	v.SetDefault("gate.max_dwell", "5s")
	v.SetDefault("gate.move_retries", 2)
	v.SetDefault("gate.close_retries", 3)
	v.SetDefault("gate.settle_time", "500ms")
	v.SetDefault("gate.test_angles", []int{0, 45, 90, 135, 180, 90, 0})
	v.SetDefault("gate.test_step", "500ms")

	v.SetDefault("safety.max_daily_grams", 300.0)
	v.SetDefault("safety.max_daily_feedings", 10)
	v.SetDefault("safety.min_interval", "2h")
	v.SetDefault("safety.max_portion", 200.0)

	v.SetDefault("schedule.time_zone", "Local")
	v.SetDefault("schedule.tick", "15s")
	v.SetDefault("schedule.max_deferral", "6h")

	v.SetDefault("monitor.interval", "2s")
	v.SetDefault("monitor.min_cat_grams", 2000.0)
	v.SetDefault("monitor.max_cat_grams", 8000.0)
	v.SetDefault("monitor.cat_detection_delay", "2s")
	v.SetDefault("monitor.log_interval", "1m")

	v.SetDefault("health.interval", "5m")
	v.SetDefault("health.liveness_timeout", "5m")
	v.SetDefault("health.alert_cooldown", "30m")
	v.SetDefault("health.cpu_pct", 80.0)
	v.SetDefault("health.mem_pct", 85.0)
	v.SetDefault("health.disk_pct", 90.0)
	v.SetDefault("health.temp_c", 70.0)
	v.SetDefault("health.db_size_mb", 100.0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "feeder")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.interval", "24h")

	v.SetDefault("queue.size", 16)
}

// Load reads path, or configs/config.yml when path is empty. A missing
// default file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
		v.SetConfigType("yml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Location resolves schedule.time_zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Schedule.TimeZone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.TimeZone)
}
