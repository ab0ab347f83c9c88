package mcl

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Resample draws a new population of the same size with probability
// proportional to weight, using the resampling wheel: start at a random
// index, add U[0, 2·max w) to beta per draw and walk forward, wrapping,
// until the current weight covers beta. Particles get fresh dense IDs and
// the new population carries uniform weights.
func Resample(rng *rand.Rand, pop *Population) *Population {
	n := pop.Len()
	out := &Population{
		Particles: make([]Particle, n),
		Weights:   make([]float64, n),
	}
	if n == 0 {
		return out
	}

	maxW := floats.Max(pop.Weights)
	index := rng.IntN(n)
	beta := 0.0
	for i := 0; i < n; i++ {
		beta += rng.Float64() * 2 * maxW
		for pop.Weights[index] < beta {
			beta -= pop.Weights[index]
			index = (index + 1) % n
		}
		p := pop.Particles[index]
		p.ID = i
		out.Particles[i] = p
	}
	out.SetUniform()
	return out
}
