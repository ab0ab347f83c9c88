package localizer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/serialmux"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticBase stands in for the robot base in development mode. It drives
// a simulated robot around the map and emits odometry on every step and a
// ray-cast scan on every ScanEvery-th step, encoded exactly as the base
// would send them.
type SyntheticBase struct {
	Beams     int
	RangeMin  float64
	RangeMax  float64
	Speed     float64 // m/s
	TurnRate  float64 // rad/s while avoiding obstacles
	ScanEvery int

	grid  *gridmap.Grid
	truth mcl.Pose // grid frame
	start mcl.Pose
	last  time.Time
	step  int
	noise distuv.Normal
}

// NewSyntheticBase starts the simulated robot at the free cell nearest the
// middle of g.
func NewSyntheticBase(g *gridmap.Grid, seed uint64) (*SyntheticBase, error) {
	free := g.FreeCells()
	if len(free) == 0 {
		return nil, gridmap.ErrNoFreeSpace
	}
	mx, my := float64(g.Width)*g.Resolution/2, float64(g.Height)*g.Resolution/2
	best := free[0]
	bestD := math.Inf(1)
	for _, c := range free {
		x, y := g.CellCenter(c)
		if d := math.Hypot(x-mx, y-my); d < bestD {
			best, bestD = c, d
		}
	}
	x, y := g.CellCenter(best)
	start := mcl.Pose{X: x, Y: y}
	return &SyntheticBase{
		Beams:     180,
		RangeMin:  0.1,
		RangeMax:  12,
		Speed:     0.4,
		TurnRate:  0.8,
		ScanEvery: 2,
		grid:      g,
		truth:     start,
		start:     start,
		noise:     distuv.Normal{Mu: 0, Sigma: 0.01, Src: rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))},
	}, nil
}

// Truth returns the simulated robot pose in the map frame.
func (b *SyntheticBase) Truth() mcl.Pose {
	x, y, yaw := b.grid.GridToMap(b.truth.X, b.truth.Y, b.truth.Yaw)
	return mcl.Pose{X: x, Y: y, Yaw: yaw}
}

// Lines advances the simulation to now and returns the encoded messages.
func (b *SyntheticBase) Lines(now time.Time) [][]byte {
	dt := 0.05
	if !b.last.IsZero() {
		dt = now.Sub(b.last).Seconds()
	}
	b.last = now
	b.advance(dt)
	b.step++

	var out [][]byte
	odom := mcl.Compose(mcl.Inverse(b.start), b.truth)
	q := mcl.QuaternionFromYaw(odom.Yaw)
	if line, err := serialmux.EncodeOdometry(serialmux.OdometryMessage{
		StampNanos: now.UnixNano(),
		X:          odom.X,
		Y:          odom.Y,
		QZ:         q.Z,
		QW:         q.W,
	}); err == nil {
		out = append(out, line)
	}

	if b.ScanEvery > 0 && b.step%b.ScanEvery == 0 {
		line, err := b.scanLine(now)
		if err != nil {
			logf("synthetic scan: %v", err)
			return out
		}
		out = append(out, line)
	}
	return out
}

// advance moves forward unless an obstacle is close ahead, in which case
// it turns in place.
func (b *SyntheticBase) advance(dt float64) {
	step := b.Speed * dt
	ahead := mcl.CastRay(b.grid, b.truth.X, b.truth.Y, b.truth.Yaw, 0, 1)
	next := mcl.Pose{
		X:   b.truth.X + step*math.Cos(b.truth.Yaw),
		Y:   b.truth.Y + step*math.Sin(b.truth.Yaw),
		Yaw: b.truth.Yaw,
	}
	if ahead < 0.5 || !mcl.ValidPose(b.grid, next) {
		b.truth.Yaw = mcl.WrapAngle(b.truth.Yaw + b.TurnRate*dt)
		return
	}
	b.truth = next
}

func (b *SyntheticBase) scanLine(now time.Time) ([]byte, error) {
	if b.Beams < 1 {
		return nil, fmt.Errorf("beam count %d", b.Beams)
	}
	inc := 2 * math.Pi / float64(b.Beams)
	angles := make([]float64, b.Beams)
	for i := range angles {
		angles[i] = -math.Pi + float64(i)*inc
	}
	ranges := mcl.SimulateScan(b.grid, b.truth, angles, b.RangeMin, b.RangeMax)
	for i, r := range ranges {
		if r >= b.RangeMax {
			ranges[i] = math.Inf(1)
			continue
		}
		ranges[i] = math.Max(b.RangeMin, r+b.noise.Rand())
	}
	return serialmux.EncodeScan(serialmux.ScanMessage{
		StampNanos: now.UnixNano(),
		AngleMin:   angles[0],
		AngleMax:   angles[len(angles)-1],
		RangeMin:   b.RangeMin,
		RangeMax:   b.RangeMax,
		Ranges:     serialmux.RangePointers(ranges),
	})
}
