package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
)

// Alert kinds.
const (
	AlertCPU     = "high_cpu_usage"
	AlertMemory  = "high_memory_usage"
	AlertDisk    = "high_disk_usage"
	AlertTemp    = "high_temperature"
	AlertDBSize  = "large_database"
	AlertStale   = "subsystem_stale"
	AlertCollect = "collect_failed"
)

type Thresholds struct {
	CPUPct   float64
	MemPct   float64
	DiskPct  float64
	TempC    float64
	DBSizeMB float64
}

type Config struct {
	Thresholds      Thresholds
	LivenessTimeout time.Duration
	HistorySize     int
	MaxAlerts       int
	// same-kind alerts inside this window are recorded but not re-emitted
	AlertCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			CPUPct:   80,
			MemPct:   85,
			DiskPct:  90,
			TempC:    70,
			DBSizeMB: 100,
		},
		LivenessTimeout: 5 * time.Minute,
		HistorySize:     288,
		MaxAlerts:       100,
		AlertCooldown:   30 * time.Minute,
	}
}

type Monitor struct {
	collector Collector
	cfg       Config
	clock     clock.Clock
	log       *logger.Logger

	mu       sync.Mutex
	beats    map[string]time.Time
	history  []models.Metrics
	alerts   []models.Alert
	lastEmit map[string]time.Time
	status   models.HealthStatus
	onAlert  func(models.Alert)
}

func New(c Collector, cfg Config, clk clock.Clock, log *logger.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = def.MaxAlerts
	}
	if cfg.AlertCooldown < 0 {
		cfg.AlertCooldown = 0
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{
		collector: c,
		cfg:       cfg,
		clock:     clk,
		log:       logger.OrNop(log),
		beats:     map[string]time.Time{},
		lastEmit:  map[string]time.Time{},
		status:    models.HealthStatus{Healthy: true},
	}
}

// OnAlert registers fn to be called for each emitted alert.
func (m *Monitor) OnAlert(fn func(models.Alert)) {
	m.mu.Lock()
	m.onAlert = fn
	m.mu.Unlock()
}

// Register adds a subsystem whose liveness is tracked from now on.
func (m *Monitor) Register(name string) {
	m.Beat(name)
}

// Beat records that subsystem name is alive.
func (m *Monitor) Beat(name string) {
	now := m.clock.Now()
	m.mu.Lock()
	m.beats[name] = now
	m.mu.Unlock()
}

// Check collects metrics, evaluates thresholds and liveness, and returns
// the new status. A failed collection still evaluates what was collected.
func (m *Monitor) Check(ctx context.Context) models.HealthStatus {
	now := m.clock.Now().UTC()
	metrics, cerr := m.collector.Collect(ctx)
	if metrics.CollectedAt.IsZero() {
		metrics.CollectedAt = now
	}

	var raised []models.Alert
	if cerr != nil {
		m.log.Warnw("health_collect_failed", "err", cerr)
		raised = append(raised, models.Alert{Kind: AlertCollect, Message: cerr.Error(), RaisedAt: now})
	}
	raised = append(raised, m.thresholdAlerts(metrics, now)...)

	m.mu.Lock()
	subsystems := make(map[string]bool, len(m.beats))
	names := make([]string, 0, len(m.beats))
	for name := range m.beats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		age := now.Sub(m.beats[name])
		alive := age <= m.cfg.LivenessTimeout
		subsystems[name] = alive
		if !alive {
			raised = append(raised, models.Alert{
				Kind:     AlertStale,
				Message:  fmt.Sprintf("%s silent for %s", name, age.Truncate(time.Second)),
				Value:    age.Seconds(),
				Limit:    m.cfg.LivenessTimeout.Seconds(),
				RaisedAt: now,
			})
		}
	}

	m.history = append(m.history, metrics)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append([]models.Metrics(nil), m.history[over:]...)
	}

	var emit []models.Alert
	for _, a := range raised {
		m.alerts = append(m.alerts, a)
		key := a.Kind + "|" + a.Message
		if a.Kind != AlertStale {
			key = a.Kind
		}
		if last, ok := m.lastEmit[key]; ok && now.Sub(last) < m.cfg.AlertCooldown {
			continue
		}
		m.lastEmit[key] = now
		emit = append(emit, a)
	}
	if over := len(m.alerts) - m.cfg.MaxAlerts; over > 0 {
		m.alerts = append([]models.Alert(nil), m.alerts[over:]...)
	}

	latest := metrics
	m.status = models.HealthStatus{
		Healthy:    len(raised) == 0,
		Latest:     &latest,
		Subsystems: subsystems,
		Alerts:     raised,
		CheckedAt:  now,
	}
	st := m.status
	fn := m.onAlert
	m.mu.Unlock()

	for _, a := range emit {
		m.log.Warnw("health_alert", "kind", a.Kind, "message", a.Message)
		if fn != nil {
			fn(a)
		}
	}
	return st
}

func (m *Monitor) thresholdAlerts(x models.Metrics, now time.Time) []models.Alert {
	t := m.cfg.Thresholds
	var out []models.Alert
	check := func(kind, label string, v, limit float64, unit string) {
		if limit > 0 && v > limit {
			out = append(out, models.Alert{
				Kind:     kind,
				Message:  fmt.Sprintf("%s %.1f%s over %.1f%s", label, v, unit, limit, unit),
				Value:    v,
				Limit:    limit,
				RaisedAt: now,
			})
		}
	}
	check(AlertCPU, "cpu usage", x.CPUPercent, t.CPUPct, "%")
	check(AlertMemory, "memory usage", x.MemPercent, t.MemPct, "%")
	check(AlertDisk, "disk usage", x.DiskPercent, t.DiskPct, "%")
	if x.TempC != nil {
		check(AlertTemp, "cpu temperature", *x.TempC, t.TempC, "C")
	}
	check(AlertDBSize, "database size", x.DBSizeMB, t.DBSizeMB, "MB")
	return out
}

// Status returns the latest evaluation without collecting.
func (m *Monitor) Status() models.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if st.Subsystems != nil {
		cp := make(map[string]bool, len(st.Subsystems))
		for k, v := range st.Subsystems {
			cp[k] = v
		}
		st.Subsystems = cp
	}
	return st
}

// History returns samples collected at or after since, oldest first.
func (m *Monitor) History(since time.Time) []models.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Metrics, 0, len(m.history))
	for _, x := range m.history {
		if !x.CollectedAt.Before(since) {
			out = append(out, x)
		}
	}
	return out
}

// Alerts returns the most recent n alerts (all when n <= 0), oldest first.
func (m *Monitor) Alerts(n int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.alerts
	if n > 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	return append([]models.Alert(nil), src...)
}

func (m *Monitor) ResetAlerts() {
	m.mu.Lock()
	m.alerts = nil
	m.lastEmit = map[string]time.Time{}
	m.mu.Unlock()
}

// Run checks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
