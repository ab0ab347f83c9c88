package mcl

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptyScan is returned for scans with no ranges.
	ErrEmptyScan = errors.New("mcl: empty scan")
	// ErrSensorMismatch is returned when a scan's beam count differs from the
	// one the sensor parameters were initialised with.
	ErrSensorMismatch = errors.New("mcl: scan does not match sensor parameters")
)

// degenerateWeightSum is the floor below which a weight sum is treated as
// zero and normalisation falls back to uniform weights.
const degenerateWeightSum = 1e-300

// Particle is one pose hypothesis in the grid frame. Its ID is its position
// in the population and is reassigned on every resample.
type Particle struct {
	ID  int
	X   float64
	Y   float64
	Yaw float64
}

// Pose returns the particle's pose.
func (p Particle) Pose() Pose {
	return Pose{X: p.X, Y: p.Y, Yaw: p.Yaw}
}

// Population is a fixed-size particle set with a parallel weight vector.
type Population struct {
	Particles []Particle
	Weights   []float64
}

// NewPopulation allocates n particles at the origin with uniform weights.
func NewPopulation(n int) *Population {
	p := &Population{
		Particles: make([]Particle, n),
		Weights:   make([]float64, n),
	}
	for i := range p.Particles {
		p.Particles[i].ID = i
	}
	p.SetUniform()
	return p
}

// Len returns the population size.
func (p *Population) Len() int {
	return len(p.Particles)
}

// SetUniform sets every weight to 1/N.
func (p *Population) SetUniform() {
	if len(p.Weights) == 0 {
		return
	}
	w := 1 / float64(len(p.Weights))
	for i := range p.Weights {
		p.Weights[i] = w
	}
}

// Normalize scales the weights to sum to one. Negative or non-finite
// weights are clamped to zero first. If nothing usable remains the weights
// become uniform and Normalize reports the population as degenerate.
func (p *Population) Normalize() (degenerate bool) {
	for i, w := range p.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			p.Weights[i] = 0
		}
	}
	sum := floats.Sum(p.Weights)
	if sum < degenerateWeightSum {
		p.SetUniform()
		return true
	}
	floats.Scale(1/sum, p.Weights)
	return false
}

// Clone returns a deep copy.
func (p *Population) Clone() *Population {
	c := &Population{
		Particles: make([]Particle, len(p.Particles)),
		Weights:   make([]float64, len(p.Weights)),
	}
	copy(c.Particles, p.Particles)
	copy(c.Weights, p.Weights)
	return c
}

// RelativeMotion accumulates odometry displacement between predictions.
type RelativeMotion struct {
	DX   float64
	DY   float64
	DYaw float64
}

// Add accumulates another increment.
func (m *RelativeMotion) Add(o RelativeMotion) {
	m.DX += o.DX
	m.DY += o.DY
	m.DYaw += o.DYaw
}

// Reset zeroes the accumulator.
func (m *RelativeMotion) Reset() {
	*m = RelativeMotion{}
}

// IsZero reports whether no motion has been accumulated.
func (m RelativeMotion) IsZero() bool {
	return m.DX == 0 && m.DY == 0 && m.DYaw == 0
}

// Quaternion is an orientation as delivered by odometry.
type Quaternion struct {
	X, Y, Z, W float64
}

// Yaw extracts the rotation about Z.
func (q Quaternion) Yaw() float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}

// QuaternionFromYaw builds a pure-Z rotation.
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}

// Odometry is one timestamped odometry sample.
type Odometry struct {
	Stamp       time.Time
	X, Y, Z     float64
	Orientation Quaternion
}

// Pose projects the sample onto the plane.
func (o Odometry) Pose() Pose {
	return Pose{X: o.X, Y: o.Y, Yaw: o.Orientation.Yaw()}
}

// Delta differences two consecutive samples.
func Delta(prev, cur Odometry) RelativeMotion {
	return RelativeMotion{
		DX:   cur.X - prev.X,
		DY:   cur.Y - prev.Y,
		DYaw: NormalizeAngle(cur.Orientation.Yaw() - prev.Orientation.Yaw()),
	}
}

// Scan is one full range-sensor sweep.
type Scan struct {
	Stamp    time.Time
	AngleMin float64
	AngleMax float64
	RangeMin float64
	RangeMax float64
	Ranges   []float64
}

// Observation is a scan reduced to the evaluated beams.
type Observation struct {
	Angles   []float64 // beam angles relative to the sensor heading
	Ranges   []float64
	RangeMin float64
	RangeMax float64
}
