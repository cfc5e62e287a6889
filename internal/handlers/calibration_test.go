package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/calibration"
	"cat_feeder/internal/models"
	"cat_feeder/internal/service"
)

var testNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func TestScale_GetWeightSensorTimeout(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: &mockScale{err: models.ErrSensorTimeout}}
	w := doAuthed(t, s, http.MethodGet, "/api/v1/scale/weight")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestScale_TareWithAndWithoutBody(t *testing.T) {
	sc := &mockScale{profile: models.CalibrationProfile{TareOffset: 1200, ScaleFactor: 0.01}}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: sc}

	w := postJSON(t, s, "/api/v1/scale/tare", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if sc.lastSamples != 0 {
		t.Fatalf("samples = %d, want default 0", sc.lastSamples)
	}

	w = postJSON(t, s, "/api/v1/scale/tare", `{"samples":25}`)
	if w.Code != http.StatusOK || sc.lastSamples != 25 {
		t.Fatalf("status=%d samples=%d", w.Code, sc.lastSamples)
	}
}

func TestScale_TareUnstable(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: &mockScale{err: models.ErrUnstableReading}}
	w := postJSON(t, s, "/api/v1/scale/tare", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestScale_CalibrateRequiresMass(t *testing.T) {
	sc := &mockScale{}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: sc}
	w := postJSON(t, s, "/api/v1/scale/calibrate", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = postJSON(t, s, "/api/v1/scale/calibrate", `{"known_mass_g":500}`)
	if w.Code != http.StatusOK || sc.lastKnownMass != 500 {
		t.Fatalf("status=%d mass=%v", w.Code, sc.lastKnownMass)
	}
}

func TestScale_VerifyFailureIncludesResult(t *testing.T) {
	sc := &mockScale{
		verify: calibration.VerifyResult{KnownMass: 500, MeasuredMass: 540, ErrorPct: 8, TolerancePct: 5},
		err:    models.ErrInvalidCalibration,
	}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: sc}
	w := postJSON(t, s, "/api/v1/scale/verify", `{"known_mass_g":500}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	m := decodeBody(t, w)
	res, ok := m["result"].(map[string]any)
	if !ok || res["error_pct"] != float64(8) {
		t.Fatalf("unexpected body: %v", m)
	}
}

func TestScaleSession_Flow(t *testing.T) {
	sc := &mockScale{session: calibration.SessionStatus{ID: "s1", State: calibration.StateAwaitingTare, Required: 3}}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: sc}

	w := postJSON(t, s, "/api/v1/scale/sessions", `{"references":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("begin status=%d body=%s", w.Code, w.Body.String())
	}

	w = postJSON(t, s, "/api/v1/scale/sessions/s1/tare", "")
	if w.Code != http.StatusOK || sc.lastID != "s1" {
		t.Fatalf("tare status=%d id=%q", w.Code, sc.lastID)
	}

	w = postJSON(t, s, "/api/v1/scale/sessions/s1/reference", `{"known_mass_g":250}`)
	if w.Code != http.StatusOK || sc.lastKnownMass != 250 {
		t.Fatalf("reference status=%d mass=%v", w.Code, sc.lastKnownMass)
	}

	sc.err = models.ErrSessionState
	w = postJSON(t, s, "/api/v1/scale/sessions/s1/commit", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("commit in wrong state: expected 409, got %d", w.Code)
	}
}

func TestScaleSession_AbortUnknown(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Scale: &mockScale{err: models.ErrNotFound}}
	w := doAuthed(t, s, http.MethodDelete, "/api/v1/scale/sessions/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGate_ProfileAndState(t *testing.T) {
	g := &mockGate{profile: models.ActuatorProfile{ClosedAngle: 0, OpenAngle: 90, DispenseRate: 8}, state: models.GateClosed}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: g}
	w := doAuthed(t, s, http.MethodGet, "/api/v1/gate/profile")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if decodeBody(t, w)["state"] != string(models.GateClosed) {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestGate_ServoTestBusy(t *testing.T) {
	g := &mockGate{err: &models.BusyError{Resource: "gate", Owner: "feeding"}}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: g}
	w := postJSON(t, s, "/api/v1/gate/test", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGate_RateUsesMilliseconds(t *testing.T) {
	g := &mockGate{}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: g}
	w := postJSON(t, s, "/api/v1/gate/rate", `{"mass_g":24,"duration_ms":3000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if g.lastDuration != 3*time.Second {
		t.Fatalf("duration = %v", g.lastDuration)
	}
}

func TestGateSession_JogValidatesPosition(t *testing.T) {
	g := &mockGate{session: actuator.SessionStatus{ID: "g1", Active: true}}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: g}

	w := postJSON(t, s, "/api/v1/gate/sessions/g1/jog", `{"position":"sideways","delta":3}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = postJSON(t, s, "/api/v1/gate/sessions/g1/jog", `{"position":"open","delta":-4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if g.lastPos != actuator.PositionOpen || g.lastDelta != -4 {
		t.Fatalf("pos=%q delta=%d", g.lastPos, g.lastDelta)
	}
}

func TestGateSession_Run(t *testing.T) {
	g := &mockGate{run: actuator.Run{Duration: 2 * time.Second}}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: g}
	w := postJSON(t, s, "/api/v1/gate/sessions/g1/run", `{"duration_ms":2000}`)
	if w.Code != http.StatusOK || g.lastDuration != 2*time.Second {
		t.Fatalf("status=%d duration=%v", w.Code, g.lastDuration)
	}
}

func TestGateSession_AbortNoContent(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Gate: &mockGate{}}
	w := doAuthed(t, s, http.MethodDelete, "/api/v1/gate/sessions/g1")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestRules_CRUD(t *testing.T) {
	sch := &mockSchedule{}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Schedule: sch}

	w := postJSON(t, s, "/api/v1/rules", `{"time_of_day":"07:30","portion_g":40,"label":"breakfast"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	if !sch.lastRule.Enabled {
		t.Fatalf("rules default to enabled")
	}

	w = postJSON(t, s, "/api/v1/rules", `{"time_of_day":"19:00","portion_g":40,"enabled":false}`)
	if w.Code != http.StatusCreated || sch.lastRule.Enabled {
		t.Fatalf("status=%d enabled=%v", w.Code, sch.lastRule.Enabled)
	}

	w = doAuthed(t, s, http.MethodGet, "/api/v1/rules")
	if decodeBody(t, w)["count"] != float64(2) {
		t.Fatalf("list body=%s", w.Body.String())
	}

	r := newTestRouter(s)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/rules/2", bytes.NewBufferString(`{"time_of_day":"20:00","portion_g":30}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer valid")
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || sch.lastRule.ID != 2 || sch.lastRule.TimeOfDay != "20:00" {
		t.Fatalf("update status=%d rule=%+v", rec.Code, sch.lastRule)
	}

	w = doAuthed(t, s, http.MethodDelete, "/api/v1/rules/2")
	if w.Code != http.StatusNoContent || sch.lastDeleted != 2 {
		t.Fatalf("delete status=%d id=%d", w.Code, sch.lastDeleted)
	}
}

func TestRules_InvalidID(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Schedule: &mockSchedule{}}
	w := doAuthed(t, s, http.MethodDelete, "/api/v1/rules/abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRules_InvalidRuleFromService(t *testing.T) {
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Schedule: &mockSchedule{err: models.ErrInvalidRule}}
	w := postJSON(t, s, "/api/v1/rules", `{"time_of_day":"25:99","portion_g":40}`)
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["code"] != codeInvalidRule {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRules_NextFeeding(t *testing.T) {
	next := &models.ScheduledFeeding{RuleID: 3, DueAt: testNow, PortionMass: 40}
	s := &service.Service{Authorization: &mockAuth{parseID: 1}, Schedule: &mockSchedule{next: next}}
	w := doAuthed(t, s, http.MethodGet, "/api/v1/rules/next")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var out struct {
		Next *models.ScheduledFeeding `json:"next"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Next == nil || out.Next.RuleID != 3 {
		t.Fatalf("unexpected next: %s", w.Body.String())
	}
}
