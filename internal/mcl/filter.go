package mcl

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/gridloc/internal/gridmap"
)

// SeedMode selects how the initial population is placed.
type SeedMode int

const (
	// SeedUniformFreeSpace seeds over every free cell.
	SeedUniformFreeSpace SeedMode = iota
	// SeedSpawnRegion seeds near a known spawn point.
	SeedSpawnRegion
)

// Config holds the filter parameters.
type Config struct {
	Particles         int
	EvalBeams         int
	TranslationStdDev float64
	OrientationStdDev float64
	SensorOffset      float64 // metres from sensor to rotation centre

	AccuracyThreshold float64
	IncreaseFactor    float64
	BoostAfter        int
	MaxNoiseScale     float64

	SeedMode    SeedMode
	Spawn       Pose // grid frame
	SpawnRadius float64

	// ReseedOnDegenerate re-seeds from free space instead of resampling when
	// every weight collapses to zero.
	ReseedOnDegenerate bool
}

// StepResult summarises one predict/update/resample cycle.
type StepResult struct {
	Cycle       int
	Estimate    Pose // map frame, robot centre
	ErrorSum    float64
	MeanError   float64
	Accurate    bool
	Degenerate  bool
	Reseeded    bool
	NoiseScale  float64 // scale used for this cycle's prediction
	CircularYaw float64 // grid-frame circular mean yaw, diagnostic only
}

// Filter is the particle filter. It is not safe for concurrent use; the
// localisation loop is its only caller.
type Filter struct {
	cfg    Config
	rng    *rand.Rand
	motion *MotionModel
	gate   *AccuracyGate
	pop    *Population
	cycles int
}

// NewFilter seeds a population over g and returns the filter.
func NewFilter(cfg Config, g *gridmap.Grid, rng *rand.Rand) (*Filter, error) {
	if cfg.Particles <= 0 {
		return nil, fmt.Errorf("mcl: particle count must be positive, got %d", cfg.Particles)
	}
	if cfg.EvalBeams <= 0 {
		return nil, fmt.Errorf("mcl: eval beams must be positive, got %d", cfg.EvalBeams)
	}
	f := &Filter{
		cfg:    cfg,
		rng:    rng,
		motion: NewMotionModel(cfg.TranslationStdDev, cfg.OrientationStdDev, rng),
		gate:   NewAccuracyGate(cfg.AccuracyThreshold, cfg.IncreaseFactor, cfg.BoostAfter, cfg.MaxNoiseScale),
	}
	pop, err := f.seed(g)
	if err != nil {
		return nil, err
	}
	f.pop = pop
	return f, nil
}

func (f *Filter) seed(g *gridmap.Grid) (*Population, error) {
	if f.cfg.SeedMode == SeedSpawnRegion {
		return SeedNearSpawn(f.rng, g, f.cfg.Particles, f.cfg.Spawn, f.cfg.SpawnRadius)
	}
	return SeedUniform(f.rng, g, f.cfg.Particles)
}

// Population returns the live population. Callers must not retain it across
// Steps.
func (f *Filter) Population() *Population {
	return f.pop
}

// Snapshot returns a copy of the current particles.
func (f *Filter) Snapshot() []Particle {
	out := make([]Particle, f.pop.Len())
	copy(out, f.pop.Particles)
	return out
}

// NoiseScale returns the scale the next prediction will use.
func (f *Filter) NoiseScale() float64 {
	return f.gate.NoiseScale()
}

// EvalBeams returns the configured evaluated beam count.
func (f *Filter) EvalBeams() int {
	return f.cfg.EvalBeams
}

// Predict applies delta to the population and zeroes it.
func (f *Filter) Predict(delta *RelativeMotion) {
	f.motion.Predict(f.pop, *delta, f.gate.NoiseScale())
	delta.Reset()
}

// Update weighs every particle against obs, normalises the weights and
// returns the error sum and whether the weights were degenerate.
func (f *Filter) Update(g *gridmap.Grid, obs Observation) (errorSum float64, degenerate bool) {
	for i, p := range f.pop.Particles {
		e := ParticleError(g, p.Pose(), obs)
		errorSum += e
		f.pop.Weights[i] = Weight(e)
	}
	return errorSum, f.pop.Normalize()
}

// Step runs one full cycle: predict, update, estimate, gate, resample.
func (f *Filter) Step(g *gridmap.Grid, delta *RelativeMotion, obs Observation) (StepResult, error) {
	if len(obs.Ranges) == 0 || len(obs.Ranges) != len(obs.Angles) {
		return StepResult{}, ErrEmptyScan
	}

	f.cycles++
	res := StepResult{Cycle: f.cycles, NoiseScale: f.gate.NoiseScale()}

	f.Predict(delta)
	res.ErrorSum, res.Degenerate = f.Update(g, obs)
	res.MeanError = res.ErrorSum / float64(f.pop.Len())
	res.Estimate = EstimatePose(f.pop, g.Origin, f.cfg.SensorOffset)
	res.CircularYaw = CircularYaw(f.pop)
	res.Accurate = f.gate.Evaluate(res.ErrorSum, f.pop.Len())

	if res.Degenerate && f.cfg.ReseedOnDegenerate {
		pop, err := SeedUniform(f.rng, g, f.cfg.Particles)
		if err != nil {
			return res, fmt.Errorf("mcl: reseed after degenerate weights: %w", err)
		}
		f.pop = pop
		res.Reseeded = true
		return res, nil
	}
	f.pop = Resample(f.rng, f.pop)
	return res, nil
}
