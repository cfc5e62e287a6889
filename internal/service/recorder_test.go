package service

import (
	"context"
	"testing"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
)

func TestRecorder_EmitStampsFeederClock(t *testing.T) {
	clk := clock.NewFake(testStart)
	events := &fakeEventRepo{}
	rec := NewRecorder(events, notify.Nop{}, clk, nil)

	clk.Advance(90 * time.Second)
	e := rec.Emit(context.Background(), "emergency_stop", "engaged", map[string]any{"source": "api"})
	rec.Wait()

	want := testStart.Add(90 * time.Second)
	if !e.OccurredAt.Equal(want) {
		t.Fatalf("OccurredAt = %v, want %v", e.OccurredAt, want)
	}
	if e.Type != models.EventEmergencyStop {
		t.Fatalf("type = %q", e.Type)
	}
	if len(events.appended) != 1 || !events.appended[0].OccurredAt.Equal(want) {
		t.Fatalf("persisted %+v", events.appended)
	}
}

func TestRecorder_ListenersSeeEveryEvent(t *testing.T) {
	rec := NewRecorder(nil, nil, clock.NewFake(testStart), nil)

	var first, late []string
	rec.Subscribe(func(e models.SystemEvent) {
		first = append(first, e.Type)
		// subscribing from a listener must not deadlock; the new listener
		// only sees later events
		if len(first) == 1 {
			rec.Subscribe(func(e models.SystemEvent) { late = append(late, e.Type) })
		}
	})

	rec.Emit(context.Background(), models.EventStartup, "boot", nil)
	rec.Emit(context.Background(), models.EventDispense, "fed", nil)
	rec.Wait()

	if len(first) != 2 {
		t.Fatalf("first listener saw %v", first)
	}
	if len(late) != 1 || late[0] != models.EventDispense {
		t.Fatalf("late listener saw %v", late)
	}
}
