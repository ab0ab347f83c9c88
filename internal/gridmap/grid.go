package gridmap

import (
	"errors"
	"fmt"
	"math"
)

// Canonical cell codes.
const (
	CellFree     int8 = 0
	CellOccupied int8 = 100
	CellUnknown  int8 = -1
)

var (
	// ErrShapeMismatch is returned when an update does not match the grid shape.
	ErrShapeMismatch = errors.New("gridmap: shape mismatch")
	// ErrNoFreeSpace is returned when a grid has no free cell to seed from.
	ErrNoFreeSpace = errors.New("gridmap: no free cells")
)

// Origin is the pose of cell (0,0)'s corner in the map frame.
type Origin struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Cell is an integer cell coordinate.
type Cell struct {
	X, Y int
}

// Grid is a row-major occupancy grid: Cells[y*Width+x].
type Grid struct {
	Width      int
	Height     int
	Resolution float64 // metres per cell
	Origin     Origin
	Cells      []int8
}

// CoerceUnknown maps a raw occupancy value onto the two codes the filter
// understands. Anything that is not exactly free is treated as occupied.
func CoerceUnknown(v int8) int8 {
	if v == CellFree {
		return CellFree
	}
	return CellOccupied
}

// New validates the dimensions and builds a Grid, coercing unknown cells to
// occupied. The raw slice is copied.
func New(width, height int, resolution float64, origin Origin, raw []int8) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gridmap: invalid dimensions %dx%d", width, height)
	}
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("gridmap: invalid resolution %v", resolution)
	}
	if len(raw) != width*height {
		return nil, fmt.Errorf("%w: %d cells for %dx%d grid", ErrShapeMismatch, len(raw), width, height)
	}

	cells := make([]int8, len(raw))
	for i, v := range raw {
		cells[i] = CoerceUnknown(v)
	}
	return &Grid{
		Width:      width,
		Height:     height,
		Resolution: resolution,
		Origin:     origin,
		Cells:      cells,
	}, nil
}

// NewFree returns a grid with every cell free.
func NewFree(width, height int, resolution float64, origin Origin) (*Grid, error) {
	return New(width, height, resolution, origin, make([]int8, width*height))
}

// Index converts a continuous grid-frame position (metres from the grid
// corner) to cell indices. The result may be out of bounds.
func (g *Grid) Index(x, y float64) (ix, iy int) {
	return int(math.Floor(x / g.Resolution)), int(math.Floor(y / g.Resolution))
}

// InBounds reports whether a cell lies inside the grid. The last row and
// column (Width-1, Height-1) are inside.
func (g *Grid) InBounds(ix, iy int) bool {
	return ix >= 0 && iy >= 0 && ix < g.Width && iy < g.Height
}

// At returns the code of an in-bounds cell.
func (g *Grid) At(ix, iy int) int8 {
	return g.Cells[iy*g.Width+ix]
}

// IsOccupied reports whether an in-bounds cell is occupied.
func (g *Grid) IsOccupied(ix, iy int) bool {
	return g.At(ix, iy) == CellOccupied
}

// IsFreeAt reports whether the continuous position lies in a free in-bounds cell.
func (g *Grid) IsFreeAt(x, y float64) bool {
	ix, iy := g.Index(x, y)
	return g.InBounds(ix, iy) && !g.IsOccupied(ix, iy)
}

// Set writes a coerced code into an in-bounds cell. Only meant for building
// grids before they are shared.
func (g *Grid) Set(ix, iy int, v int8) {
	g.Cells[iy*g.Width+ix] = CoerceUnknown(v)
}

// FreeCells lists every free cell in row-major order.
func (g *Grid) FreeCells() []Cell {
	free := make([]Cell, 0, len(g.Cells))
	for iy := 0; iy < g.Height; iy++ {
		for ix := 0; ix < g.Width; ix++ {
			if g.At(ix, iy) == CellFree {
				free = append(free, Cell{X: ix, Y: iy})
			}
		}
	}
	return free
}

// CellCenter returns the grid-frame centre of a cell.
func (g *Grid) CellCenter(c Cell) (x, y float64) {
	return (float64(c.X) + 0.5) * g.Resolution, (float64(c.Y) + 0.5) * g.Resolution
}

// GridToMap moves a grid-frame pose into the map frame by adding the origin
// translation and yaw. Grids are assumed axis-aligned with the map, so no
// rotation of the position is applied.
func (g *Grid) GridToMap(x, y, yaw float64) (mx, my, myaw float64) {
	return x + g.Origin.X, y + g.Origin.Y, yaw + g.Origin.Yaw
}

// MapToGrid is the inverse of GridToMap.
func (g *Grid) MapToGrid(mx, my, myaw float64) (x, y, yaw float64) {
	return mx - g.Origin.X, my - g.Origin.Y, myaw - g.Origin.Yaw
}

// SameShape reports whether two grids can be overlaid.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Overlay builds the grid that results from a dynamic map update. The update
// is a full snapshot of the same shape; occupied cells stay occupied and
// everything else, unknown included, becomes free.
func (g *Grid) Overlay(width, height int, raw []int8) (*Grid, error) {
	if width != g.Width || height != g.Height || len(raw) != width*height {
		return nil, fmt.Errorf("%w: update %dx%d (%d cells) vs grid %dx%d",
			ErrShapeMismatch, width, height, len(raw), g.Width, g.Height)
	}
	cells := make([]int8, len(raw))
	for i, v := range raw {
		if v == CellOccupied {
			cells[i] = CellOccupied
		}
	}
	return &Grid{
		Width:      g.Width,
		Height:     g.Height,
		Resolution: g.Resolution,
		Origin:     g.Origin,
		Cells:      cells,
	}, nil
}

// OccupiedCount returns the number of occupied cells.
func (g *Grid) OccupiedCount() int {
	n := 0
	for _, v := range g.Cells {
		if v == CellOccupied {
			n++
		}
	}
	return n
}
