package hardware

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"cat_feeder/internal/clock"
)

// SimConfig describes the simulated scale and gate.
type SimConfig struct {
	TareRaw       float64       // counts at zero load
	CountsPerGram float64       // raw counts per gram
	NoiseCounts   float64       // stddev of read noise in counts
	SpikeEvery    int           // inject a spike every N reads, 0 disables
	SpikeCounts   float64       // spike amplitude in counts
	FlowRate      float64       // grams per second while the gate is open
	OpenThreshold int           // angles at or beyond this count as open
	ReadLatency   time.Duration // simulated conversion time
	Seed          uint64
}

// DefaultSimConfig mimics a 5 kg cell behind an HX711 at gain 128.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		TareRaw:       8_400,
		CountsPerGram: 228,
		NoiseCounts:   20,
		FlowRate:      10,
		OpenThreshold: 45,
		Seed:          1,
	}
}

// ErrSimFault is returned by injected failures.
var ErrSimFault = errors.New("simulated hardware fault")

// Sim is an in-process stand-in for the bridge. Food flows into the bowl
// while the gate is open, so dispense estimates behave like the real thing.
type Sim struct {
	cfg   SimConfig
	clock clock.Clock

	mu         sync.Mutex
	rng        *rand.Rand
	angle      int
	lastUpdate time.Time
	bowl       float64 // grams of food on the scale
	load       float64 // anything else on the scale
	reads      int
	moves      []int

	failReads int
	failMoves int
	hangReads bool
}

func NewSim(cfg SimConfig, clk clock.Clock) *Sim {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.CountsPerGram == 0 {
		cfg.CountsPerGram = DefaultSimConfig().CountsPerGram
	}
	return &Sim{
		cfg:        cfg,
		clock:      clk,
		rng:        rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		lastUpdate: clk.Now(),
	}
}

func (s *Sim) Connect() error { return nil }
func (s *Sim) Close() error   { return nil }

// ReadRaw returns tare + counts for everything on the plate, plus noise.
func (s *Sim) ReadRaw(ctx context.Context) (int64, error) {
	s.mu.Lock()
	hang := s.hangReads
	latency := s.cfg.ReadLatency
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if latency > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(latency):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads > 0 {
		s.failReads--
		return 0, ErrSimFault
	}
	s.flow()
	s.reads++

	raw := s.cfg.TareRaw + s.cfg.CountsPerGram*(s.bowl+s.load)
	if s.cfg.NoiseCounts > 0 {
		raw += s.rng.NormFloat64() * s.cfg.NoiseCounts
	}
	if s.cfg.SpikeEvery > 0 && s.reads%s.cfg.SpikeEvery == 0 {
		raw += s.cfg.SpikeCounts
	}
	return int64(math.Round(raw)), nil
}

// SetAngle moves the gate.
func (s *Sim) SetAngle(ctx context.Context, angle int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMoves > 0 {
		s.failMoves--
		return ErrSimFault
	}
	s.flow()
	s.angle = angle
	s.moves = append(s.moves, angle)
	return nil
}

// flow adds food for the time the gate has been open. Caller holds mu.
func (s *Sim) flow() {
	now := s.clock.Now()
	if s.angle >= s.cfg.OpenThreshold && s.cfg.FlowRate > 0 {
		s.bowl += s.cfg.FlowRate * now.Sub(s.lastUpdate).Seconds()
	}
	s.lastUpdate = now
}

// PlaceLoad sets the non-food load (reference weights, a curious cat).
func (s *Sim) PlaceLoad(grams float64) {
	s.mu.Lock()
	s.flow()
	s.load = grams
	s.mu.Unlock()
}

// EmptyBowl removes all food from the plate.
func (s *Sim) EmptyBowl() {
	s.mu.Lock()
	s.flow()
	s.bowl = 0
	s.mu.Unlock()
}

// Bowl returns the grams of food currently on the plate.
func (s *Sim) Bowl() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow()
	return s.bowl
}

func (s *Sim) Angle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// Moves returns every commanded angle in order.
func (s *Sim) Moves() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.moves...)
}

// FailNextReads makes the next n reads return ErrSimFault.
func (s *Sim) FailNextReads(n int) {
	s.mu.Lock()
	s.failReads = n
	s.mu.Unlock()
}

// FailNextMoves makes the next n moves return ErrSimFault.
func (s *Sim) FailNextMoves(n int) {
	s.mu.Lock()
	s.failMoves = n
	s.mu.Unlock()
}

// Hang makes reads block until their context ends.
func (s *Sim) Hang(on bool) {
	s.mu.Lock()
	s.hangReads = on
	s.mu.Unlock()
}
