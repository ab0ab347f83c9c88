package mcl

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/gridloc/internal/gridmap"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

// borderedGrid returns an n×n grid at 1 m resolution with an occupied
// one-cell border and a free interior.
func borderedGrid(t *testing.T, n int) *gridmap.Grid {
	t.Helper()
	raw := make([]int8, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if x == 0 || y == 0 || x == n-1 || y == n-1 {
				raw[y*n+x] = gridmap.CellOccupied
			}
		}
	}
	g, err := gridmap.New(n, n, 1.0, gridmap.Origin{}, raw)
	if err != nil {
		t.Fatalf("build grid: %v", err)
	}
	return g
}

// crossObservation is a four-beam observation with the given ranges at 0,
// π/2, π and -π/2.
func crossObservation(ranges ...float64) Observation {
	return Observation{
		Angles:   []float64{0, 1.5707963267948966, 3.141592653589793, -1.5707963267948966},
		Ranges:   ranges,
		RangeMin: 0.1,
		RangeMax: 10,
	}
}
