package mcl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestPredict_ZeroMotionIsNoop(t *testing.T) {
	m := NewMotionModel(0.5, 0.5, testRNG())
	pop := NewPopulation(10)
	for i := range pop.Particles {
		pop.Particles[i].X = float64(i)
		pop.Particles[i].Yaw = 0.1 * float64(i)
	}
	before := pop.Clone()

	m.Predict(pop, RelativeMotion{}, 3)

	assert.Equal(t, before.Particles, pop.Particles)
}

func TestPredict_NoiselessShift(t *testing.T) {
	m := NewMotionModel(0, 0, testRNG())
	pop := NewPopulation(3)
	pop.Particles[2].Yaw = 3.0

	m.Predict(pop, RelativeMotion{DX: 1, DY: -2, DYaw: 0.5}, 1)

	for _, p := range pop.Particles {
		assert.InDelta(t, 1.0, p.X, 1e-12)
		assert.InDelta(t, -2.0, p.Y, 1e-12)
	}
	assert.InDelta(t, 0.5, pop.Particles[0].Yaw, 1e-12)
	// 3.5 rad wraps.
	assert.InDelta(t, 3.5-2*math.Pi, pop.Particles[2].Yaw, 1e-12)
}

func TestPredict_NoiseScalesWithMotion(t *testing.T) {
	spread := func(scale float64) float64 {
		m := NewMotionModel(0.5, 0.5, testRNG())
		pop := NewPopulation(2000)
		m.Predict(pop, RelativeMotion{DX: 0.2, DY: 0.2, DYaw: 0.1}, scale)
		xs := make([]float64, pop.Len())
		for i, p := range pop.Particles {
			xs[i] = p.X
		}
		return stat.StdDev(xs, nil)
	}

	base := spread(1)
	// σ = 0.5 · (|0.2|+|0.2|) = 0.2
	assert.InDelta(t, 0.2, base, 0.02)
	assert.InDelta(t, 2*base, spread(2), 0.05)
}

func TestOdometryNoise(t *testing.T) {
	n := NewOdometryNoise(0, testRNG())
	d := RelativeMotion{DX: 1, DY: 2, DYaw: 0.3}
	assert.Equal(t, d, n.Apply(d))

	n = NewOdometryNoise(0.1, testRNG())
	assert.Equal(t, RelativeMotion{}, n.Apply(RelativeMotion{}))
	got := n.Apply(d)
	assert.NotEqual(t, d, got)
	assert.InDelta(t, 1.0, got.DX, 0.6)
}
