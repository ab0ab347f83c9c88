package mcl

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gridloc/internal/gridmap"
)

func TestSubsampleIndices(t *testing.T) {
	tests := []struct {
		n, k int
		want []int
	}{
		{n: 10, k: 4, want: []int{0, 3, 6, 9}},
		{n: 360, k: 8, want: []int{0, 51, 102, 153, 205, 256, 307, 359}},
		{n: 5, k: 1, want: []int{0}},
		{n: 3, k: 3, want: []int{0, 1, 2}},
		{n: 0, k: 4, want: nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SubsampleIndices(tt.n, tt.k)); diff != "" {
			t.Errorf("SubsampleIndices(%d, %d) mismatch (-want +got):\n%s", tt.n, tt.k, diff)
		}
	}
}

func TestSubsampleRanges_ReplacesInvalid(t *testing.T) {
	ranges := []float64{1, math.Inf(1), math.NaN(), -2, 3}
	got := SubsampleRanges(ranges, []int{0, 1, 2, 3, 4}, 12)
	assert.Equal(t, []float64{1, 12, 12, 12, 3}, got)
}

func TestSensorState_InitOnce(t *testing.T) {
	var s SensorState
	scan := Scan{AngleMin: -math.Pi / 2, AngleMax: math.Pi / 2, RangeMin: 0.1, RangeMax: 8, Ranges: make([]float64, 181)}

	first, err := s.Init(scan, 3)
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, s.Ready())

	// A later scan with different limits does not re-initialise.
	other := scan
	other.RangeMax = 30
	again, err := s.Init(other, 3)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 8.0, s.Params().RangeMax)

	angles := s.Angles()
	require.Len(t, angles, 3)
	assert.InDelta(t, -math.Pi/2, angles[0], 1e-12)
	assert.InDelta(t, 0, angles[1], 1e-12)
	assert.InDelta(t, math.Pi/2, angles[2], 1e-12)
}

func TestSensorState_Observe(t *testing.T) {
	var s SensorState
	_, err := s.Observe(Scan{}, 4)
	assert.ErrorIs(t, err, ErrEmptyScan)

	scan := Scan{AngleMin: 0, AngleMax: 3, RangeMin: 0.1, RangeMax: 5, Ranges: []float64{1, 2, math.Inf(1), 4}}
	obs, err := s.Observe(scan, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 5, 4}, obs.Ranges)
	assert.Equal(t, 0.1, obs.RangeMin)

	_, err = s.Observe(Scan{Ranges: []float64{1, 2}}, 4)
	if !errors.Is(err, ErrSensorMismatch) {
		t.Fatalf("expected ErrSensorMismatch, got %v", err)
	}
}

func TestCastRay_Walls(t *testing.T) {
	g := borderedGrid(t, 5)

	for _, angle := range []float64{0, math.Pi / 2, math.Pi, -math.Pi / 2} {
		if got := CastRay(g, 2.5, 2.5, angle, 0.1, 10); math.Abs(got-2) > 1e-9 {
			t.Errorf("CastRay at angle %v = %v, want 2", angle, got)
		}
	}
	// Cast is deterministic.
	a := SimulateScan(g, Pose{X: 1.7, Y: 2.2, Yaw: 0.4}, []float64{-1, 0, 1}, 0.1, 10)
	b := SimulateScan(g, Pose{X: 1.7, Y: 2.2, Yaw: 0.4}, []float64{-1, 0, 1}, 0.1, 10)
	assert.Equal(t, a, b)
}

func TestCastRay_MinAndMaxRange(t *testing.T) {
	g := borderedGrid(t, 5)
	// Wall one step away is inside the minimum range.
	assert.Equal(t, 1.5, CastRay(g, 1.5, 2.5, math.Pi, 1.5, 10))
	// Shorter than the wall.
	assert.Equal(t, 1.0, CastRay(g, 2.5, 2.5, 0, 0.1, 1))

	free, err := gridmap.NewFree(5, 5, 1.0, gridmap.Origin{})
	require.NoError(t, err)
	// Leaving the grid is a max-range return.
	assert.Equal(t, 10.0, CastRay(free, 2.5, 2.5, 0, 0.1, 10))
}

func TestParticleError(t *testing.T) {
	g := borderedGrid(t, 5)
	obs := crossObservation(2, 2, 2, 2)

	assert.InDelta(t, 0, ParticleError(g, Pose{X: 2.5, Y: 2.5}, obs), 1e-9)
	// Occupied border cell.
	assert.Equal(t, InvalidPoseError, ParticleError(g, Pose{}, obs))
	// Outside the grid.
	assert.Equal(t, InvalidPoseError, ParticleError(g, Pose{X: -1, Y: 2}, obs))
	// (1.5, 1.5) sees 3, 3, 1, 1.
	assert.InDelta(t, 4, ParticleError(g, Pose{X: 1.5, Y: 1.5}, obs), 1e-9)

	assert.Equal(t, 1.0, Weight(0))
	assert.Equal(t, 0.0, Weight(InvalidPoseError))
}

func TestBoundaryCellIsInBounds(t *testing.T) {
	g, err := gridmap.NewFree(5, 5, 1.0, gridmap.Origin{})
	require.NoError(t, err)

	assert.True(t, ValidPose(g, Pose{X: 4.999, Y: 4.999}))
	assert.False(t, ValidPose(g, Pose{X: 5.0, Y: 2}))
	assert.False(t, ValidPose(g, Pose{X: 2, Y: -0.001}))
}
