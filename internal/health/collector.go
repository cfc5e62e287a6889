// Package health samples host metrics, checks them against thresholds and
// tracks liveness of the feeder's background loops.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cat_feeder/internal/models"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Collector takes one metrics sample.
type Collector interface {
	Collect(ctx context.Context) (models.Metrics, error)
}

// HostCollector reads metrics from the running host.
type HostCollector struct {
	DBPath      string
	DiskPath    string
	CPUInterval time.Duration
}

const (
	defaultCPUInterval = time.Second
	bytesPerMB         = 1024 * 1024
)

// cpu temperature sensors, in order of preference
var tempSensorKeys = []string{"cpu_thermal", "coretemp", "k10temp", "soc_thermal", "thermal_zone0"}

func NewHostCollector(dbPath string) *HostCollector {
	return &HostCollector{DBPath: dbPath, DiskPath: "/", CPUInterval: defaultCPUInterval}
}

// Collect fills every metric it can; a partial sample is returned together
// with the joined errors of the collectors that failed.
func (c *HostCollector) Collect(ctx context.Context) (models.Metrics, error) {
	m := models.Metrics{CollectedAt: time.Now().UTC()}
	var errs []error

	interval := c.CPUInterval
	if interval <= 0 {
		interval = defaultCPUInterval
	}
	if pct, err := cpu.PercentWithContext(ctx, interval, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(pct) > 0 {
		m.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		m.MemPercent = vm.UsedPercent
	}

	diskPath := c.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk %s: %w", diskPath, err))
	} else {
		m.DiskPercent = du.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("uptime: %w", err))
	} else {
		m.UptimeSec = up
	}

	// temperature is optional; most dev machines don't expose it
	if temps, err := sensors.TemperaturesWithContext(ctx); err == nil {
		if t, ok := pickCPUTemp(temps); ok {
			m.TempC = &t
		}
	}

	if c.DBPath != "" {
		if fi, err := os.Stat(c.DBPath); err == nil {
			m.DBSizeMB = float64(fi.Size()) / bytesPerMB
		} else if !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("db size: %w", err))
		}
	}

	return m, errors.Join(errs...)
}

func pickCPUTemp(temps []sensors.TemperatureStat) (float64, bool) {
	for _, key := range tempSensorKeys {
		for _, t := range temps {
			if strings.HasPrefix(t.SensorKey, key) && t.Temperature > 0 {
				return t.Temperature, true
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return t.Temperature, true
		}
	}
	return 0, false
}
