package service

import (
	"context"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/repository"
)

// Read-only views the status snapshot is assembled from.
type (
	gateStateSource interface{ GateState() models.GateState }
	safetySource    interface{ SafetyState() models.SafetyState }
	nextSource      interface {
		NextFeeding(ctx context.Context) (*models.ScheduledFeeding, error)
	}
	healthSource interface{ Status() models.HealthStatus }
)

type MonitoringService struct {
	scale    WeightSource
	gate     gateStateSource
	safety   safetySource
	feedings repository.FeedingRepo
	next     nextSource
	health   healthSource
	clock    clock.Clock
	log      *logger.Logger
}

func NewMonitoringService(scale WeightSource, gate gateStateSource, safety safetySource, feedings repository.FeedingRepo,
	next nextSource, health healthSource, clk clock.Clock, log *logger.Logger) *MonitoringService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MonitoringService{
		scale:    scale,
		gate:     gate,
		safety:   safety,
		feedings: feedings,
		next:     next,
		health:   health,
		clock:    clk,
		log:      logger.OrNop(log),
	}
}

// GetStatus assembles the current status. It never touches the sensor: the
// weight is the last cached reading. Storage errors leave the affected
// field empty rather than failing the snapshot.
func (s *MonitoringService) GetStatus(ctx context.Context) (models.Status, error) {
	st := models.Status{
		Gate:      s.gate.GateState(),
		Safety:    s.safety.SafetyState(),
		Health:    s.health.Status(),
		UpdatedAt: s.clock.Now().UTC(),
	}
	if r, ok := s.scale.Latest(); ok {
		st.Weight = &r
	}

	last, err := s.feedings.LastFeeding(ctx)
	if err != nil {
		s.log.Warnw("status_last_feeding_failed", "err", err)
	} else if last != nil {
		last.Timestamp = normalizeToUTC(last.Timestamp)
		st.LastFeeding = last
	}

	next, err := s.next.NextFeeding(ctx)
	if err != nil {
		s.log.Warnw("status_next_feeding_failed", "err", err)
	} else {
		st.NextScheduled = next
	}
	return st, ctx.Err()
}
