package mcl

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/gridloc/internal/gridmap"
)

// SeedUniform scatters n particles over all free cells, each uniformly
// placed inside a uniformly chosen cell with a uniform heading.
func SeedUniform(rng *rand.Rand, g *gridmap.Grid, n int) (*Population, error) {
	return seedFromCells(rng, g, g.FreeCells(), n)
}

// SeedNearSpawn scatters n particles over the free cells whose centres lie
// within radius metres of spawn (grid frame).
func SeedNearSpawn(rng *rand.Rand, g *gridmap.Grid, n int, spawn Pose, radius float64) (*Population, error) {
	var cells []gridmap.Cell
	for _, c := range g.FreeCells() {
		cx, cy := g.CellCenter(c)
		if math.Hypot(cx-spawn.X, cy-spawn.Y) <= radius {
			cells = append(cells, c)
		}
	}
	pop, err := seedFromCells(rng, g, cells, n)
	if err != nil {
		return nil, fmt.Errorf("seed near (%.2f, %.2f) r=%.2f: %w", spawn.X, spawn.Y, radius, err)
	}
	return pop, nil
}

func seedFromCells(rng *rand.Rand, g *gridmap.Grid, cells []gridmap.Cell, n int) (*Population, error) {
	if len(cells) == 0 {
		return nil, gridmap.ErrNoFreeSpace
	}
	pop := NewPopulation(n)
	for i := range pop.Particles {
		c := cells[rng.IntN(len(cells))]
		pop.Particles[i] = Particle{
			ID:  i,
			X:   (float64(c.X) + rng.Float64()) * g.Resolution,
			Y:   (float64(c.Y) + rng.Float64()) * g.Resolution,
			Yaw: math.Pi - rng.Float64()*2*math.Pi,
		}
	}
	return pop, nil
}
