package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
	"cat_feeder/internal/repository"

	"github.com/google/uuid"
)

const (
	eventWriteTimeout   = 3 * time.Second
	eventPublishTimeout = 5 * time.Second
)

// Recorder logs, persists and publishes system events. Persistence and
// publishing are best effort; neither failure reaches the caller.
type Recorder struct {
	events    repository.EventRepo
	publisher notify.Publisher
	clock     clock.Clock
	log       *logger.Logger

	wg        sync.WaitGroup
	mu        sync.Mutex
	listeners []func(models.SystemEvent)
}

func NewRecorder(events repository.EventRepo, pub notify.Publisher, clk clock.Clock, log *logger.Logger) *Recorder {
	if pub == nil {
		pub = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recorder{events: events, publisher: pub, clock: clk, log: logger.OrNop(log)}
}

// Subscribe registers fn for every emitted event, e.g. the websocket hub.
func (r *Recorder) Subscribe(fn func(models.SystemEvent)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Emit records one event and returns it with ID and time filled in.
func (r *Recorder) Emit(ctx context.Context, typ, description string, meta map[string]any) models.SystemEvent {
	e := models.SystemEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  r.clock.Now().UTC(),
		Type:        strings.ToUpper(typ),
		Description: description,
	}
	if len(meta) > 0 {
		e.Metadata = meta
	}

	switch e.Type {
	case models.EventSensorFault, models.EventActuatorFault, models.EventStorageFailure, models.EventHealthAlert:
		r.log.Warnw("system_event", "type", e.Type, "description", description, "meta", meta)
	default:
		r.log.Infow("system_event", "type", e.Type, "description", description, "meta", meta)
	}

	if r.events != nil {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
		if err := r.events.Append(wctx, e); err != nil {
			r.log.Errorw("system_event_write_failed", "type", e.Type, "err", err)
		}
		cancel()
	}

	r.mu.Lock()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
		defer cancel()
		if err := r.publisher.Publish(pctx, e); err != nil {
			r.log.Warnw("system_event_publish_failed", "type", e.Type, "err", err)
		}
	}()
	return e
}

// Wait blocks until in-flight publishes finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
