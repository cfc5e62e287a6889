package resource

import (
	"errors"
	"testing"

	"cat_feeder/internal/models"
)

func TestLock_ExclusiveOwnership(t *testing.T) {
	l := NewLock("scale")

	release, err := l.TryAcquire("scale-calibration")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if owner, held := l.Owner(); !held || owner != "scale-calibration" {
		t.Fatalf("owner = %q, %v", owner, held)
	}

	_, err = l.TryAcquire("dispense")
	if !errors.Is(err, models.ErrResourceBusy) {
		t.Fatalf("expected ErrResourceBusy, got %v", err)
	}
	var be *models.BusyError
	if !errors.As(err, &be) || be.Owner != "scale-calibration" || be.Resource != "scale" {
		t.Fatalf("unexpected busy error: %+v", be)
	}

	release()
	release()
	if _, held := l.Owner(); held {
		t.Fatalf("lock should be free after release")
	}
	if _, err := l.TryAcquire("dispense"); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
}
