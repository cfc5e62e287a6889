package repository

import (
	"regexp"
	"testing"
	"time"

	"cat_feeder/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

var feedingCols = []string{"id", "ts", "requested_g", "dispensed_g", "measured", "trigger_source", "outcome", "reason", "rule_id", "dwell_ms"}

func TestFeedingSQLite_AppendFeeding(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	at := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(insertFeedingSQL)).
		WithArgs("f-1", "2026-03-03 08:00:00.000", 50.0, 48.7, true, "scheduled", "success", "", int64(2), int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendFeeding(ctx(t), models.FeedingEvent{
		ID: "f-1", Timestamp: at, RequestedMass: 50, DispensedEstimate: 48.7, Measured: true,
		TriggerSource: models.TriggerScheduled, Outcome: models.OutcomeSuccess, RuleID: 2, DwellMillis: 5000,
	})
	if err != nil {
		t.Fatalf("AppendFeeding: %v", err)
	}
}

func TestFeedingSQLite_AppendFeeding_ManualHasNullRule(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(insertFeedingSQL)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 250.0, 0.0, false, "manual", "aborted", "out_of_range", nil, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendFeeding(ctx(t), models.FeedingEvent{
		RequestedMass: 250, TriggerSource: models.TriggerManual, Outcome: models.OutcomeAborted, Reason: "out_of_range",
	})
	if err != nil {
		t.Fatalf("AppendFeeding: %v", err)
	}
}

func TestFeedingSQLite_ImportFeeding_SkipsExisting(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(importFeedingSQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err := repo.ImportFeeding(ctx(t), models.FeedingEvent{ID: "dup", TriggerSource: models.TriggerManual, Outcome: models.OutcomeSuccess})
	if err != nil || inserted {
		t.Fatalf("ImportFeeding = %v, %v", inserted, err)
	}
}

func TestFeedingSQLite_ListFeedings_Filters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	from := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	q := `SELECT ` + feedingColumns + ` FROM feeding_events WHERE ts >= ? AND trigger_source = ? AND outcome = ? ORDER BY ts ASC LIMIT ?`
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WithArgs("2026-03-03 00:00:00.000", "manual", "success", 10).
		WillReturnRows(sqlmock.NewRows(feedingCols).
			AddRow("a", from.Add(time.Hour), 30.0, 29.5, true, "manual", "success", "", nil, 3000).
			AddRow("b", from.Add(5*time.Hour), 20.0, 20.0, false, "manual", "success", "", int64(4), 2000))

	got, err := repo.ListFeedings(ctx(t), FeedingFilter{From: from, Source: models.TriggerManual, Outcome: models.OutcomeSuccess, Limit: 10})
	if err != nil {
		t.Fatalf("ListFeedings: %v", err)
	}
	if len(got) != 2 || got[0].RuleID != 0 || got[1].RuleID != 4 || got[0].DispensedEstimate != 29.5 {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestFeedingSQLite_LastFeeding(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	mock.ExpectQuery(regexp.QuoteMeta(lastFeedingSQL)).WillReturnRows(sqlmock.NewRows(feedingCols))
	last, err := repo.LastFeeding(ctx(t))
	if err != nil || last != nil {
		t.Fatalf("want nil, got %+v %v", last, err)
	}

	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(lastFeedingSQL)).
		WillReturnRows(sqlmock.NewRows(feedingCols).AddRow("z", at, 50.0, 50.0, false, "scheduled", "success", "", int64(1), 5000))
	last, err = repo.LastFeeding(ctx(t))
	if err != nil || last == nil || last.ID != "z" {
		t.Fatalf("unexpected %+v %v", last, err)
	}
}

func TestFeedingSQLite_FeedingStats(t *testing.T) {
	db, mock := newMock(t)
	repo := NewFeedingSQLite(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	mock.ExpectQuery(regexp.QuoteMeta(feedingStatsSQL)).
		WithArgs("2026-03-01 00:00:00.000", "2026-03-08 00:00:00.000").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_source", "outcome", "count", "grams"}).
			AddRow("scheduled", "success", 14, 700.0).
			AddRow("manual", "success", 2, 60.0).
			AddRow("manual", "aborted", 3, 0.0).
			AddRow("scheduled", "error", 1, 12.0))

	st, err := repo.FeedingStats(ctx(t), from, to)
	if err != nil {
		t.Fatalf("FeedingStats: %v", err)
	}
	if st.Attempts != 20 || st.Successes != 16 || st.Aborted != 3 || st.Errors != 1 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.TotalGrams != 772 || st.GramsBySource[models.TriggerScheduled] != 712 || st.GramsBySource[models.TriggerManual] != 60 {
		t.Fatalf("unexpected grams %+v", st)
	}
}
