// Package localizer runs the localisation control loop: it buffers scan,
// odometry and map updates from asynchronous handlers, drives the particle
// filter at a fraction of the broadcast rate and publishes the resulting
// pose and map-to-odometry transform on every tick.
package localizer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/monitoring"
	"github.com/banshee-data/gridloc/internal/timeutil"
)

var logf = monitoring.Component("localizer")

// ErrNotStarted is returned by Tick before the first odometry sample.
var ErrNotStarted = errors.New("localizer: awaiting first odometry")

// Config holds the supervisor parameters.
type Config struct {
	Filter mcl.Config

	// UpdateRate is the number of broadcast ticks per predict/update cycle.
	UpdateRate      int
	BroadcastPeriod time.Duration

	OdomNoise          bool
	OdomNoiseFraction  float64
	MaxOdometryHistory int

	Seed uint64
}

// Status is a point-in-time summary for operators.
type Status struct {
	State       State     `json:"state"`
	Ticks       uint64    `json:"ticks"`
	Cycles      int       `json:"cycles"`
	Failures    int       `json:"failures"`
	LastFailure string    `json:"last_failure,omitempty"`
	MeanError   float64   `json:"mean_error"`
	Accurate    bool      `json:"accurate"`
	Degenerate  bool      `json:"degenerate"`
	NoiseScale  float64   `json:"noise_scale"`
	Estimate    mcl.Pose  `json:"estimate"`
	Offset      mcl.Pose  `json:"offset"`
	Pose        mcl.Pose  `json:"pose"`
	SensorReady bool      `json:"sensor_ready"`
	Particles   int       `json:"particles"`
	MapVersion  int       `json:"map_version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Supervisor owns the filter and the buffers shared with the input
// handlers. Handlers only write buffers under mu; Tick is the sole user of
// the filter and the derived pose state.
type Supervisor struct {
	cfg   Config
	clock timeutil.Clock
	pub   Publisher

	mu         sync.Mutex
	grid       *gridmap.Grid
	mapVersion int
	scan       *mcl.Scan
	odom       *mcl.Odometry
	history    []mcl.Odometry
	motion     mcl.RelativeMotion
	odomNoise  *mcl.OdometryNoise

	filter *mcl.Filter
	sensor mcl.SensorState
	tick   int
	ticks  uint64
	cycles int
	offset mcl.Pose
	last   mcl.StepResult

	statusMu sync.RWMutex
	status   Status
}

// NewSupervisor seeds the filter over g. A nil publisher discards frames.
func NewSupervisor(cfg Config, g *gridmap.Grid, clock timeutil.Clock, pub Publisher) (*Supervisor, error) {
	if g == nil {
		return nil, gridmap.ErrNoMap
	}
	if cfg.UpdateRate <= 0 {
		return nil, fmt.Errorf("localizer: update rate must be positive, got %d", cfg.UpdateRate)
	}
	if cfg.BroadcastPeriod <= 0 {
		return nil, fmt.Errorf("localizer: broadcast period must be positive, got %s", cfg.BroadcastPeriod)
	}
	if cfg.MaxOdometryHistory <= 0 {
		cfg.MaxOdometryHistory = 256
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if pub == nil {
		pub = nopPublisher{}
	}

	filter, err := mcl.NewFilter(cfg.Filter, g, rand.New(rand.NewPCG(cfg.Seed, 0x9e3779b97f4a7c15)))
	if err != nil {
		return nil, fmt.Errorf("failed to seed particle filter: %w", err)
	}

	s := &Supervisor{
		cfg:     cfg,
		clock:   clock,
		pub:     pub,
		grid:    g,
		history: make([]mcl.Odometry, 0, cfg.MaxOdometryHistory),
		filter:  filter,
	}
	if cfg.OdomNoise {
		s.odomNoise = mcl.NewOdometryNoise(cfg.OdomNoiseFraction, rand.New(rand.NewPCG(cfg.Seed+1, 0x94d049bb133111eb)))
	}
	s.status = Status{
		State:      AwaitingFirstOdometry,
		NoiseScale: filter.NoiseScale(),
		Particles:  cfg.Filter.Particles,
	}
	logf("seeded %d particles over %d free cells", cfg.Filter.Particles, len(g.FreeCells()))
	return s, nil
}

// HandleOdometry records an odometry sample and accumulates the motion
// since the previous one.
func (s *Supervisor) HandleOdometry(o mcl.Odometry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.odom != nil {
		d := mcl.Delta(*s.odom, o)
		if s.odomNoise != nil {
			d = s.odomNoise.Apply(d)
		}
		s.motion.Add(d)
	}
	s.odom = &o

	if len(s.history) == s.cfg.MaxOdometryHistory {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, o)
}

// HandleScan replaces the buffered scan.
func (s *Supervisor) HandleScan(scan mcl.Scan) error {
	if len(scan.Ranges) == 0 {
		return mcl.ErrEmptyScan
	}
	scan.Ranges = append([]float64(nil), scan.Ranges...)

	s.mu.Lock()
	s.scan = &scan
	s.mu.Unlock()
	return nil
}

// HandleMapUpdate overlays a full-size occupancy snapshot onto the map:
// occupied cells stay occupied and everything else becomes free.
func (s *Supervisor) HandleMapUpdate(width, height int, raw []int8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.grid.Overlay(width, height, raw)
	if err != nil {
		return err
	}
	s.grid = g
	s.mapVersion++
	return nil
}

// Grid returns the current map.
func (s *Supervisor) Grid() *gridmap.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// Status returns the latest status snapshot.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Run ticks at the broadcast rate until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.BroadcastPeriod)
	defer ticker.Stop()

	logf("loop started: broadcast every %s, update every %d ticks", s.cfg.BroadcastPeriod, s.cfg.UpdateRate)
	for {
		select {
		case <-ctx.Done():
			logf("loop stopped after %d cycles", s.cycles)
			return ctx.Err()
		case <-ticker.C():
			if err := s.Tick(); err != nil && !errors.Is(err, ErrNotStarted) {
				logf("cycle %d failed: %v", s.cycles+1, err)
			}
		}
	}
}

// Tick runs one broadcast period. Every UpdateRate ticks, when a scan is
// buffered, it also runs a full predict/update/resample cycle. Errors from
// the cycle are returned after the frame has been published.
func (s *Supervisor) Tick() error {
	now := s.clock.Now()

	s.mu.Lock()
	if s.odom == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	latest := *s.odom
	grid := s.grid
	mapVersion := s.mapVersion

	runCycle := s.tick == 0 && s.scan != nil
	var (
		scan    mcl.Scan
		delta   mcl.RelativeMotion
		history []mcl.Odometry
	)
	if runCycle {
		scan = *s.scan
		delta = s.motion
		s.motion.Reset()
		history = s.history
		s.history = make([]mcl.Odometry, 0, s.cfg.MaxOdometryHistory)
	}
	s.mu.Unlock()

	var cycleErr error
	if runCycle {
		cycleErr = s.runCycle(grid, scan, delta, history, latest)
	}

	s.ticks++
	s.tick = (s.tick + 1) % s.cfg.UpdateRate

	frame := &Frame{
		Stamp:      now,
		Updated:    runCycle && cycleErr == nil,
		Step:       s.last,
		Estimate:   s.last.Estimate,
		Offset:     s.offset,
		Pose:       mcl.Compose(s.offset, latest.Pose()),
		Origin:     grid.Origin,
		Particles:  s.filter.Snapshot(),
		MapVersion: mapVersion,
	}
	s.pub.Publish(frame)
	s.updateStatus(frame, cycleErr)
	return cycleErr
}

func (s *Supervisor) runCycle(grid *gridmap.Grid, scan mcl.Scan, delta mcl.RelativeMotion, history []mcl.Odometry, latest mcl.Odometry) error {
	obs, err := s.sensor.Observe(scan, s.filter.EvalBeams())
	if err != nil {
		s.restoreMotion(delta)
		return fmt.Errorf("failed to prepare observation: %w", err)
	}

	res, err := s.filter.Step(grid, &delta, obs)
	if err != nil {
		return err
	}
	first := s.cycles == 0
	s.cycles++
	s.last = res

	if first || res.Accurate {
		at := ClosestOdometry(history, scan.Stamp, latest)
		s.offset = mcl.Compose(res.Estimate, mcl.Inverse(at.Pose()))
	}
	if res.Degenerate {
		logf("cycle %d: weights degenerate (reseeded=%t)", s.cycles, res.Reseeded)
	}
	return nil
}

// restoreMotion puts back motion taken for a cycle that could not run.
func (s *Supervisor) restoreMotion(delta mcl.RelativeMotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion.Add(delta)
}

func (s *Supervisor) updateStatus(f *Frame, cycleErr error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := &s.status
	st.State = SteadyState
	st.Ticks = s.ticks
	st.Cycles = s.cycles
	st.Estimate = f.Estimate
	st.Offset = f.Offset
	st.Pose = f.Pose
	st.SensorReady = s.sensor.Ready()
	st.NoiseScale = s.filter.NoiseScale()
	st.MapVersion = f.MapVersion
	st.UpdatedAt = f.Stamp
	if f.Updated {
		st.MeanError = f.Step.MeanError
		st.Accurate = f.Step.Accurate
		st.Degenerate = f.Step.Degenerate
	}
	if cycleErr != nil {
		st.Failures++
		st.LastFailure = cycleErr.Error()
	}
}

// ClosestOdometry returns the sample in history whose stamp is nearest to
// stamp, or fallback when history is empty.
func ClosestOdometry(history []mcl.Odometry, stamp time.Time, fallback mcl.Odometry) mcl.Odometry {
	if len(history) == 0 {
		return fallback
	}
	best := history[0]
	bestGap := absDuration(best.Stamp.Sub(stamp))
	for _, o := range history[1:] {
		if gap := absDuration(o.Stamp.Sub(stamp)); gap < bestGap {
			best, bestGap = o, gap
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
