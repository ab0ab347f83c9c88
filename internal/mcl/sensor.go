package mcl

import (
	"fmt"
	"math"

	"github.com/banshee-data/gridloc/internal/gridmap"
)

// InvalidPoseError is the error assigned to particles outside the grid or
// inside an occupied cell. It is large enough that exp(-err) is zero, so
// such particles are resampled away without ray casting.
const InvalidPoseError = 1e6

// SensorParams describes the range sensor. It is captured from the first
// scan and does not change afterwards.
type SensorParams struct {
	AngleMin  float64
	AngleMax  float64
	RangeMin  float64
	RangeMax  float64
	BeamCount int // full scan beam count
}

// SensorState is either uninitialised or ready with fixed parameters and the
// beam subsampling derived from them.
type SensorState struct {
	ready   bool
	params  SensorParams
	indices []int
	angles  []float64
}

// Ready reports whether parameters have been captured.
func (s *SensorState) Ready() bool {
	return s.ready
}

// Params returns the captured parameters; the zero value until Ready.
func (s *SensorState) Params() SensorParams {
	return s.params
}

// Angles returns the relative angles of the evaluated beams.
func (s *SensorState) Angles() []float64 {
	return s.angles
}

// Init captures the sensor parameters from scan if not already done. It
// returns true on the call that performed the initialisation.
func (s *SensorState) Init(scan Scan, evalBeams int) (bool, error) {
	if s.ready {
		return false, nil
	}
	if len(scan.Ranges) == 0 {
		return false, ErrEmptyScan
	}
	s.params = SensorParams{
		AngleMin:  scan.AngleMin,
		AngleMax:  scan.AngleMax,
		RangeMin:  scan.RangeMin,
		RangeMax:  scan.RangeMax,
		BeamCount: len(scan.Ranges),
	}
	s.indices = SubsampleIndices(len(scan.Ranges), evalBeams)
	s.angles = BeamAngles(s.params, s.indices)
	s.ready = true
	return true, nil
}

// Observe initialises the state if needed and reduces scan to the evaluated
// beams.
func (s *SensorState) Observe(scan Scan, evalBeams int) (Observation, error) {
	if _, err := s.Init(scan, evalBeams); err != nil {
		return Observation{}, err
	}
	if len(scan.Ranges) != s.params.BeamCount {
		return Observation{}, fmt.Errorf("%w: %d beams, expected %d",
			ErrSensorMismatch, len(scan.Ranges), s.params.BeamCount)
	}
	return Observation{
		Angles:   s.angles,
		Ranges:   SubsampleRanges(scan.Ranges, s.indices, s.params.RangeMax),
		RangeMin: s.params.RangeMin,
		RangeMax: s.params.RangeMax,
	}, nil
}

// SubsampleIndices picks k indices evenly spaced over [0, n-1], first and
// last included.
func SubsampleIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k == 1 {
		return []int{0}
	}
	idx := make([]int, k)
	step := float64(n-1) / float64(k-1)
	for i := range idx {
		idx[i] = int(float64(i) * step)
	}
	idx[k-1] = n - 1
	return idx
}

// BeamAngles returns the sensor-relative angle of each selected beam.
func BeamAngles(p SensorParams, indices []int) []float64 {
	angles := make([]float64, len(indices))
	if p.BeamCount <= 1 {
		for i := range angles {
			angles[i] = p.AngleMin
		}
		return angles
	}
	inc := (p.AngleMax - p.AngleMin) / float64(p.BeamCount-1)
	for i, idx := range indices {
		angles[i] = p.AngleMin + float64(idx)*inc
	}
	return angles
}

// SubsampleRanges selects the given beams, replacing infinite or invalid
// readings with rangeMax.
func SubsampleRanges(ranges []float64, indices []int, rangeMax float64) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		r := ranges[idx]
		if math.IsInf(r, 0) || math.IsNaN(r) || r < 0 {
			r = rangeMax
		}
		out[i] = r
	}
	return out
}

// CastRay marches from (x, y) along angle in resolution-sized steps and
// returns the simulated range. Leaving the grid counts as a max-range
// return; a hit at or inside rangeMin is clamped to rangeMin.
func CastRay(g *gridmap.Grid, x, y, angle, rangeMin, rangeMax float64) float64 {
	cos, sin := math.Cos(angle), math.Sin(angle)
	steps := int(rangeMax / g.Resolution)
	for step := 0; step <= steps; step++ {
		d := float64(step) * g.Resolution
		ix, iy := g.Index(x+d*cos, y+d*sin)
		if !g.InBounds(ix, iy) {
			return rangeMax
		}
		if g.IsOccupied(ix, iy) {
			if d <= rangeMin {
				return rangeMin
			}
			return d
		}
	}
	return rangeMax
}

// SimulateScan casts one ray per relative beam angle from pose.
func SimulateScan(g *gridmap.Grid, pose Pose, angles []float64, rangeMin, rangeMax float64) []float64 {
	out := make([]float64, len(angles))
	for i, a := range angles {
		out[i] = CastRay(g, pose.X, pose.Y, pose.Yaw+a, rangeMin, rangeMax)
	}
	return out
}

// ValidPose reports whether pose lies in a free, in-bounds cell.
func ValidPose(g *gridmap.Grid, pose Pose) bool {
	return g.IsFreeAt(pose.X, pose.Y)
}

// ParticleError scores a pose against an observation: the squared
// Euclidean norm of real minus simulated ranges, or InvalidPoseError for
// impossible poses.
func ParticleError(g *gridmap.Grid, pose Pose, obs Observation) float64 {
	if !ValidPose(g, pose) {
		return InvalidPoseError
	}
	sim := SimulateScan(g, pose, obs.Angles, obs.RangeMin, obs.RangeMax)
	var sum float64
	for i, r := range obs.Ranges {
		d := r - sim[i]
		sum += d * d
	}
	return sum
}

// Weight converts an error into an importance weight.
func Weight(err float64) float64 {
	return math.Exp(-err)
}
