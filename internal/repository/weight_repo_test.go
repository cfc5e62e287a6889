package repository

import (
	"regexp"
	"testing"
	"time"

	"cat_feeder/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestWeightSQLite_AppendAndList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWeightSQLite(db)

	at := time.Date(2026, 3, 3, 8, 0, 1, 500_000_000, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(insertSampleSQL)).
		WithArgs("2026-03-03 08:00:01.500", 42.5, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := repo.AppendSample(ctx(t), models.WeightSample{RecordedAt: at, Mass: 42.5, Stable: true}); err != nil {
		t.Fatalf("AppendSample: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, recorded_at, mass_g, stable FROM weight_samples WHERE recorded_at >= ? ORDER BY recorded_at ASC LIMIT ?`)).
		WithArgs("2026-03-03 08:00:00.000", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recorded_at", "mass_g", "stable"}).AddRow(1, at, 42.5, true))
	got, err := repo.ListSamples(ctx(t), at.Truncate(time.Minute), time.Time{}, 100)
	if err != nil || len(got) != 1 || got[0].Mass != 42.5 {
		t.Fatalf("ListSamples = %+v, %v", got, err)
	}
}

func TestWeightSQLite_DeleteBefore(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWeightSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(deleteSamplesBeforeSQL)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 250))
	n, err := repo.DeleteBefore(ctx(t), time.Now().AddDate(0, 0, -30))
	if err != nil || n != 250 {
		t.Fatalf("DeleteBefore = %d, %v", n, err)
	}
}
