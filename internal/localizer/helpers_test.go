package localizer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/mcl"
	"github.com/banshee-data/gridloc/internal/monitoring"
	"github.com/banshee-data/gridloc/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

// roomGrid is an n×n, 1 m grid with an occupied border.
func roomGrid(t *testing.T, n int) *gridmap.Grid {
	t.Helper()
	raw := make([]int8, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if x == 0 || y == 0 || x == n-1 || y == n-1 {
				raw[y*n+x] = gridmap.CellOccupied
			}
		}
	}
	g, err := gridmap.New(n, n, 1.0, gridmap.Origin{X: -1, Y: 2}, raw)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	return g
}

func testSupervisorConfig() Config {
	return Config{
		Filter: mcl.Config{
			Particles:         200,
			EvalBeams:         8,
			TranslationStdDev: 0.5,
			OrientationStdDev: 0.5,
			AccuracyThreshold: 50,
			IncreaseFactor:    1.5,
			MaxNoiseScale:     4,
		},
		UpdateRate:         2,
		BroadcastPeriod:    50 * time.Millisecond,
		MaxOdometryHistory: 16,
		Seed:               3,
	}
}

type recorder struct {
	mu     sync.Mutex
	frames []*Frame
	ch     chan *Frame
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan *Frame, 64)}
}

func (r *recorder) Publish(f *Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.ch <- f:
	default:
	}
}

func (r *recorder) all() []*Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Frame(nil), r.frames...)
}

func newTestSupervisor(t *testing.T, cfg Config, g *gridmap.Grid) (*Supervisor, *timeutil.MockClock, *recorder) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	rec := newRecorder()
	s, err := NewSupervisor(cfg, g, clock, rec)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return s, clock, rec
}

func odomAt(stamp time.Time, x, y, yaw float64) mcl.Odometry {
	return mcl.Odometry{Stamp: stamp, X: x, Y: y, Orientation: mcl.QuaternionFromYaw(yaw)}
}

// scanFrom ray-casts a full 360 beam scan from a grid-frame pose.
func scanFrom(g *gridmap.Grid, stamp time.Time, pose mcl.Pose) mcl.Scan {
	const n = 72
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = -math.Pi + float64(i)*2*math.Pi/n
	}
	return mcl.Scan{
		Stamp:    stamp,
		AngleMin: angles[0],
		AngleMax: angles[n-1],
		RangeMin: 0.1,
		RangeMax: 10,
		Ranges:   mcl.SimulateScan(g, pose, angles, 0.1, 10),
	}
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
