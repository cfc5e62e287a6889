package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cat_feeder/internal/clock"
	"cat_feeder/internal/estop"
	"cat_feeder/internal/hardware"
	"cat_feeder/internal/models"
	"cat_feeder/internal/resource"
	"cat_feeder/internal/sensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	profile *models.ActuatorProfile
}

func (m *memStore) LoadActuator(ctx context.Context) (models.ActuatorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return models.ActuatorProfile{}, models.ErrNotFound
	}
	return *m.profile, nil
}

func (m *memStore) SaveActuator(ctx context.Context, p models.ActuatorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = &p
	return nil
}

type linear struct{ tare, factor float64 }

func (l linear) ToMass(raw float64) float64 { return (raw - l.tare) / l.factor }

// hookServo runs onMove after each completed move and can refuse to close.
type hookServo struct {
	next       hardware.Servo
	onMove     func(angle int)
	failClose  bool
	closeAngle int
}

func (h *hookServo) SetAngle(ctx context.Context, angle int) error {
	if h.failClose && angle == h.closeAngle {
		return errors.New("servo stalled")
	}
	if err := h.next.SetAngle(ctx, angle); err != nil {
		return err
	}
	if h.onMove != nil {
		h.onMove(angle)
	}
	return nil
}

type rig struct {
	clk   *clock.Fake
	sim   *hardware.Sim
	ctrl  *Controller
	gate  *resource.Lock
	scale *resource.Lock
	store *memStore
}

func newRig(t *testing.T, servo func(*hardware.Sim) hardware.Servo) *rig {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC))
	simCfg := hardware.DefaultSimConfig()
	simCfg.NoiseCounts = 0
	sim := hardware.NewSim(simCfg, clk)

	sc := sensor.NewScale(sensor.New(sim, sensor.DefaultConfig(), clk, nil),
		linear{tare: simCfg.TareRaw, factor: simCfg.CountsPerGram}, sensor.DefaultScaleConfig(), clk)

	var sv hardware.Servo = sim
	if servo != nil {
		sv = servo(sim)
	}
	r := &rig{clk: clk, sim: sim, gate: resource.NewLock("gate"), scale: resource.NewLock("scale"), store: &memStore{}}
	r.ctrl = New(sv, sc, r.store, r.gate, r.scale, DefaultConfig(), clk, nil)
	require.NoError(t, r.ctrl.Load(context.Background()))
	return r
}

func TestDispense_MeasuresDelivery(t *testing.T) {
	r := newRig(t, nil)

	res, err := r.ctrl.Dispense(context.Background(), 20, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, res.Dwell)
	assert.True(t, res.Measured)
	assert.InDelta(t, 20.0, res.Estimate, 0.05)
	assert.Equal(t, models.GateClosed, r.ctrl.State())
	assert.Equal(t, []int{90, 0}, r.sim.Moves())
}

func TestDispense_WithoutScaleUsesRequested(t *testing.T) {
	clk := clock.NewFake(time.Now())
	sim := hardware.NewSim(hardware.DefaultSimConfig(), clk)
	c := New(sim, nil, &memStore{}, nil, nil, DefaultConfig(), clk, nil)

	res, err := c.Dispense(context.Background(), 35, nil)
	require.NoError(t, err)
	assert.False(t, res.Measured)
	assert.Equal(t, 35.0, res.Estimate)
	assert.Equal(t, 3500*time.Millisecond, clk.Waited())
}

func TestDispense_RejectsPortionWithoutMotion(t *testing.T) {
	for _, target := range []float64{0, -5, 250} {
		r := newRig(t, nil)
		_, err := r.ctrl.Dispense(context.Background(), target, nil)
		assert.ErrorIs(t, err, models.ErrInvalidPortion)
		assert.Empty(t, r.sim.Moves())
		assert.Equal(t, models.GateClosed, r.ctrl.State())
	}
}

func TestDispense_DwellClamp(t *testing.T) {
	r := newRig(t, nil)
	assert.Equal(t, 500*time.Millisecond, r.ctrl.DwellFor(1))
	assert.Equal(t, 5*time.Second, r.ctrl.DwellFor(200))
	assert.Equal(t, 1500*time.Millisecond, r.ctrl.DwellFor(15))
}

func TestDispense_EmergencyStopBeforeStart(t *testing.T) {
	r := newRig(t, nil)
	latch := estop.New(nil)
	latch.Engage()

	_, err := r.ctrl.Dispense(context.Background(), 20, latch.Done())
	assert.ErrorIs(t, err, models.ErrEmergencyStopActive)
	assert.Empty(t, r.sim.Moves())
}

func TestDispense_EmergencyStopMidCycle(t *testing.T) {
	latch := estop.New(nil)
	var once sync.Once
	r := newRig(t, func(sim *hardware.Sim) hardware.Servo {
		return &hookServo{next: sim, onMove: func(angle int) {
			if angle == 90 {
				once.Do(func() { latch.Engage() })
			}
		}}
	})

	res, err := r.ctrl.Dispense(context.Background(), 50, latch.Done())
	assert.ErrorIs(t, err, models.ErrEmergencyStopActive)
	assert.True(t, res.Interrupted)
	assert.Equal(t, models.GateClosed, r.ctrl.State())
	assert.Equal(t, []int{90, 0}, r.sim.Moves())
	assert.InDelta(t, 0.0, res.Estimate, 0.05, "gate closed before the hold")

	_, err = r.ctrl.Dispense(context.Background(), 20, latch.Done())
	assert.ErrorIs(t, err, models.ErrEmergencyStopActive)

	latch.Clear()
	_, err = r.ctrl.Dispense(context.Background(), 20, latch.Done())
	assert.NoError(t, err)
}

func TestDispense_OpenFailureClosesGate(t *testing.T) {
	r := newRig(t, nil)
	r.sim.FailNextMoves(1)
	_, err := r.ctrl.Dispense(context.Background(), 10, nil)
	require.NoError(t, err, "one failed move is retried")

	r.sim.FailNextMoves(3)
	_, err = r.ctrl.Dispense(context.Background(), 10, nil)
	assert.ErrorIs(t, err, models.ErrActuatorFault)
	assert.Equal(t, models.GateClosed, r.ctrl.State())
	assert.NoError(t, r.ctrl.Fault())
}

func TestDispense_CloseFailureFaultsController(t *testing.T) {
	hs := &hookServo{closeAngle: 0}
	r := newRig(t, func(sim *hardware.Sim) hardware.Servo {
		hs.next = sim
		return hs
	})
	hs.failClose = true

	_, err := r.ctrl.Dispense(context.Background(), 10, nil)
	assert.ErrorIs(t, err, models.ErrActuatorFault)
	assert.Equal(t, models.GateClosing, r.ctrl.State())
	assert.Error(t, r.ctrl.Fault())

	_, err = r.ctrl.Dispense(context.Background(), 10, nil)
	assert.ErrorIs(t, err, models.ErrActuatorFault)

	hs.failClose = false
	require.NoError(t, r.ctrl.EnsureClosed(context.Background()))
	assert.Equal(t, models.GateClosed, r.ctrl.State())
	assert.NoError(t, r.ctrl.Fault())
}

func TestDispense_ResourceBusy(t *testing.T) {
	r := newRig(t, nil)

	release, err := r.scale.TryAcquire("calibration:abc")
	require.NoError(t, err)
	_, err = r.ctrl.Dispense(context.Background(), 10, nil)
	assert.ErrorIs(t, err, models.ErrResourceBusy)
	release()

	release, err = r.gate.TryAcquire("gate-calibration:abc")
	require.NoError(t, err)
	_, err = r.ctrl.Dispense(context.Background(), 10, nil)
	var busy *models.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "gate", busy.Resource)
	release()

	assert.Empty(t, r.sim.Moves())
}

func TestDispense_HoldsScaleForWholeCycle(t *testing.T) {
	var r *rig
	owners := map[int]string{}
	var tareErr error
	r = newRig(t, func(sim *hardware.Sim) hardware.Servo {
		return &hookServo{next: sim, onMove: func(angle int) {
			owners[angle], _ = r.scale.Owner()
			if angle == 90 {
				_, tareErr = r.scale.TryAcquire("tare")
			}
		}}
	})

	res, err := r.ctrl.Dispense(context.Background(), 20, nil)
	require.NoError(t, err)
	assert.True(t, res.Measured)
	assert.ErrorIs(t, tareErr, models.ErrResourceBusy, "tare refused while the gate is open")
	assert.Equal(t, map[int]string{90: "dispense", 0: "dispense"}, owners)

	_, held := r.scale.Owner()
	assert.False(t, held, "scale released after the cycle")
}

func TestDispense_CancelledDuringHold(t *testing.T) {
	clk := clock.NewFake(time.Now())
	sim := hardware.NewSim(hardware.DefaultSimConfig(), clk)
	ctx, cancel := context.WithCancel(context.Background())
	hs := &hookServo{next: sim, onMove: func(angle int) {
		if angle == 90 {
			cancel()
		}
	}}
	c := New(hs, nil, &memStore{}, nil, nil, DefaultConfig(), clock.Real{}, nil)

	_, err := c.Dispense(ctx, 100, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.GateClosed, c.State())
	assert.Equal(t, []int{90, 0}, sim.Moves())
}

func TestTestServo_Sweep(t *testing.T) {
	r := newRig(t, nil)

	visited, err := r.ctrl.TestServo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 45, 90, 135, 180, 90, 0}, visited)
	assert.Equal(t, models.GateClosed, r.ctrl.State())
	assert.Equal(t, 0, r.sim.Angle())
}

func TestController_ProfileValidation(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	err := r.ctrl.Replace(ctx, models.ActuatorProfile{ClosedAngle: 0, OpenAngle: 200, DispenseRate: 10})
	assert.ErrorIs(t, err, models.ErrInvalidCalibration)
	err = r.ctrl.Replace(ctx, models.ActuatorProfile{ClosedAngle: 30, OpenAngle: 30, DispenseRate: 10})
	assert.ErrorIs(t, err, models.ErrInvalidCalibration)

	p, err := r.ctrl.CalibrateRate(ctx, 30, 3*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, p.DispenseRate, 1e-9)
	require.NotNil(t, r.store.profile)
	assert.Equal(t, p, *r.store.profile)

	_, err = r.ctrl.CalibrateRate(ctx, 0, time.Second)
	assert.ErrorIs(t, err, models.ErrInvalidCalibration)
}
