package service

import (
	"context"
	"time"

	"cat_feeder/internal/backup"
	"cat_feeder/internal/clock"
	"cat_feeder/internal/models"
	"cat_feeder/internal/workqueue"
)

type rebuilder interface {
	Rebuild(ctx context.Context) error
}

// BackupService exports and restores persistent state.
type BackupService struct {
	queue   *workqueue.Queue
	manager *backup.Manager
	cal     backup.CalibrationSink
	act     backup.ActuatorSink
	safety  rebuilder
	events  *Recorder
	clock   clock.Clock
}

func NewBackupService(q *workqueue.Queue, m *backup.Manager, cal backup.CalibrationSink, act backup.ActuatorSink,
	safety rebuilder, events *Recorder, clk clock.Clock) *BackupService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &BackupService{queue: q, manager: m, cal: cal, act: act, safety: safety, events: events, clock: clk}
}

// ExportBackup collects state with the feeding events of the last days
// days; days <= 0 exports the whole feeding history.
func (s *BackupService) ExportBackup(ctx context.Context, days int) (*backup.Document, error) {
	var since time.Time
	if days > 0 {
		since = s.clock.Now().UTC().AddDate(0, 0, -days)
	}
	return s.manager.Export(ctx, since)
}

// RestoreBackup applies doc on the feeding queue, then rebuilds the daily
// safety totals from the merged feeding log.
func (s *BackupService) RestoreBackup(ctx context.Context, doc *backup.Document) (backup.Report, error) {
	rep, err := onQueue(ctx, s.queue, "restore", func(ctx context.Context) (backup.Report, error) {
		rep, err := s.manager.Restore(ctx, doc, s.cal, s.act)
		if err != nil {
			return rep, err
		}
		return rep, s.safety.Rebuild(ctx)
	})
	if err != nil {
		return rep, err
	}
	s.events.Emit(ctx, models.EventCalibration, "backup restored", map[string]any{
		"calibration":       rep.Calibration,
		"actuator":          rep.Actuator,
		"rules":             rep.Rules,
		"feedings_imported": rep.FeedingsImported,
		"feedings_skipped":  rep.FeedingsSkipped,
	})
	return rep, nil
}
