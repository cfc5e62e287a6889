package service

import (
	"context"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/health"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"
)

// CleanupReport counts rows removed by retention.
type CleanupReport struct {
	Cutoff        time.Time `json:"cutoff"`
	SystemEvents  int64     `json:"system_events"`
	WeightSamples int64     `json:"weight_samples"`
}

// HealthService exposes the health monitor and runs log retention.
// Feeding events are never deleted.
type HealthService struct {
	monitor       *health.Monitor
	events        repository.EventRepo
	weights       repository.WeightRepo
	retentionDays int
	clock         clock.Clock
	log           *logger.Logger
}

func NewHealthService(m *health.Monitor, events repository.EventRepo, weights repository.WeightRepo, retentionDays int,
	clk clock.Clock, log *logger.Logger) *HealthService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthService{
		monitor:       m,
		events:        events,
		weights:       weights,
		retentionDays: retentionDays,
		clock:         clk,
		log:           logger.OrNop(log),
	}
}

func (s *HealthService) HealthStatus() models.HealthStatus {
	return s.monitor.Status()
}

func (s *HealthService) CheckHealth(ctx context.Context) models.HealthStatus {
	return s.monitor.Check(ctx)
}

func (s *HealthService) MetricsHistory(since time.Time) []models.Metrics {
	return s.monitor.History(since)
}

func (s *HealthService) RecentAlerts(n int) []models.Alert {
	return s.monitor.Alerts(n)
}

// Cleanup deletes system events and weight samples older than the
// retention window. A non-positive window keeps everything.
func (s *HealthService) Cleanup(ctx context.Context) (CleanupReport, error) {
	if s.retentionDays <= 0 {
		return CleanupReport{}, nil
	}
	rep := CleanupReport{Cutoff: s.clock.Now().UTC().AddDate(0, 0, -s.retentionDays)}

	n, err := s.events.DeleteBefore(ctx, rep.Cutoff)
	if err != nil {
		return rep, err
	}
	rep.SystemEvents = n

	n, err = s.weights.DeleteBefore(ctx, rep.Cutoff)
	if err != nil {
		return rep, err
	}
	rep.WeightSamples = n

	s.log.Infow("retention_cleanup_done",
		"cutoff", rep.Cutoff,
		"system_events", rep.SystemEvents,
		"weight_samples", rep.WeightSamples,
	)
	return rep, nil
}

// RunMaintenance runs Cleanup every interval until ctx is canceled.
func (s *HealthService) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorw("retention_cleanup_failed", "err", err)
			}
		}
	}
}
