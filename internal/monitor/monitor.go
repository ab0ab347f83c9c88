// Package monitor serves debug views of the running localiser: a JSON
// status document, an interactive particle scatter and a PNG snapshot.
package monitor

import (
	"math"
	"net/http"
	"strconv"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/httputil"
	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/mcl"
)

const (
	defaultMaxPoints = 8000
	maxPointsLimit   = 50000
)

// Source is what the monitor reads besides published frames.
// *localizer.Supervisor satisfies it.
type Source interface {
	Status() localizer.Status
	Grid() *gridmap.Grid
}

// Snapshotter keeps the most recent frame. It implements
// localizer.Publisher.
type Snapshotter struct {
	latest atomic.Pointer[localizer.Frame]
	frames atomic.Uint64
}

func NewSnapshotter() *Snapshotter { return &Snapshotter{} }

func (s *Snapshotter) Publish(frame *localizer.Frame) {
	if frame == nil {
		return
	}
	s.latest.Store(frame)
	s.frames.Add(1)
}

// Latest returns the last published frame, or nil before the first one.
func (s *Snapshotter) Latest() *localizer.Frame { return s.latest.Load() }

// Frames counts frames seen so far.
func (s *Snapshotter) Frames() uint64 { return s.frames.Load() }

type Monitor struct {
	src  Source
	snap *Snapshotter
}

func New(src Source, snap *Snapshotter) *Monitor {
	if snap == nil {
		snap = NewSnapshotter()
	}
	return &Monitor{src: src, snap: snap}
}

// Snapshotter is the publisher to hand to the supervisor.
func (m *Monitor) Snapshotter() *Snapshotter { return m.snap }

// AttachAdminRoutes registers the monitor pages under /debug/.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("localizer", "Localiser status (JSON)", m.handleStatus)
	debug.HandleFunc("particles", "Particle cloud over the occupancy grid", m.handleParticles)
	debug.HandleFunc("snapshot.png", "Static PNG of the particle cloud", m.handleSnapshot)
}

type statusResponse struct {
	localizer.Status
	Frames uint64 `json:"frames"`
	Map    struct {
		Width      int            `json:"width"`
		Height     int            `json:"height"`
		Resolution float64        `json:"resolution"`
		Origin     gridmap.Origin `json:"origin"`
		Occupied   int            `json:"occupied"`
	} `json:"map"`
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statusResponse{Status: m.src.Status(), Frames: m.snap.Frames()}
	if g := m.src.Grid(); g != nil {
		resp.Map.Width = g.Width
		resp.Map.Height = g.Height
		resp.Map.Resolution = g.Resolution
		resp.Map.Origin = g.Origin
		resp.Map.Occupied = g.OccupiedCount()
	}
	httputil.WriteJSONOK(w, resp)
}

// view is everything a rendered page draws, already in the map frame.
type view struct {
	walls     []mcl.Pose
	particles []mcl.Pose
	estimate  *mcl.Pose
	pose      *mcl.Pose
	minX      float64
	maxX      float64
	minY      float64
	maxY      float64
	cycle     int
	meanError float64
	accurate  bool
}

func maxPointsParam(r *http.Request) int {
	maxPoints := defaultMaxPoints
	if v := r.URL.Query().Get("max_points"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPointsLimit {
			maxPoints = n
		}
	}
	return maxPoints
}

func (m *Monitor) buildView(maxPoints int) (*view, bool) {
	g := m.src.Grid()
	if g == nil {
		return nil, false
	}
	v := &view{
		walls: occupiedCells(g, maxPoints),
		minX:  g.Origin.X,
		minY:  g.Origin.Y,
		maxX:  g.Origin.X + float64(g.Width)*g.Resolution,
		maxY:  g.Origin.Y + float64(g.Height)*g.Resolution,
	}
	if f := m.snap.Latest(); f != nil {
		v.particles = decimate(f.ParticlePoses(), maxPoints)
		est, pose := f.Estimate, f.Pose
		v.estimate = &est
		v.pose = &pose
		st := m.src.Status()
		v.cycle = st.Cycles
		v.meanError = st.MeanError
		v.accurate = st.Accurate
	}
	return v, true
}

// occupiedCells returns occupied cell centres in the map frame, strided so
// at most maxPoints come back.
func occupiedCells(g *gridmap.Grid, maxPoints int) []mcl.Pose {
	n := g.OccupiedCount()
	stride := 1
	if n > maxPoints {
		stride = int(math.Ceil(float64(n) / float64(maxPoints)))
	}
	out := make([]mcl.Pose, 0, n/stride+1)
	i := 0
	for iy := 0; iy < g.Height; iy++ {
		for ix := 0; ix < g.Width; ix++ {
			if !g.IsOccupied(ix, iy) {
				continue
			}
			if i%stride == 0 {
				x, y := g.CellCenter(gridmap.Cell{X: ix, Y: iy})
				mx, my, _ := g.GridToMap(x, y, 0)
				out = append(out, mcl.Pose{X: mx, Y: my})
			}
			i++
		}
	}
	return out
}

func decimate(poses []mcl.Pose, maxPoints int) []mcl.Pose {
	if len(poses) <= maxPoints {
		return poses
	}
	stride := int(math.Ceil(float64(len(poses)) / float64(maxPoints)))
	out := make([]mcl.Pose, 0, maxPoints)
	for i := 0; i < len(poses); i += stride {
		out = append(out, poses[i])
	}
	return out
}
