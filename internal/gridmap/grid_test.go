package gridmap

import (
	"errors"
	"testing"
)

func TestCoerceUnknown(t *testing.T) {
	cases := map[int8]int8{
		0:   CellFree,
		100: CellOccupied,
		-1:  CellOccupied,
		50:  CellOccupied,
	}
	for in, want := range cases {
		if got := CoerceUnknown(in); got != want {
			t.Errorf("CoerceUnknown(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(0, 3, 1, Origin{}, nil); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := New(2, 2, 0, Origin{}, make([]int8, 4)); err == nil {
		t.Error("expected error for zero resolution")
	}
	_, err := New(2, 2, 1, Origin{}, make([]int8, 3))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}

	g, err := New(2, 1, 0.5, Origin{}, []int8{-1, 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !g.IsOccupied(0, 0) {
		t.Error("unknown cell should be coerced to occupied")
	}
	if g.IsOccupied(1, 0) {
		t.Error("free cell should stay free")
	}
}

func TestIndexBoundary(t *testing.T) {
	g, err := NewFree(5, 5, 1.0, Origin{})
	if err != nil {
		t.Fatalf("NewFree: %v", err)
	}

	// Last cell (index 4 == xmax) is in bounds.
	ix, iy := g.Index(4.99, 4.0)
	if ix != 4 || iy != 4 || !g.InBounds(ix, iy) {
		t.Errorf("Index(4.99, 4.0) = (%d,%d), in bounds %v; want (4,4) in bounds", ix, iy, g.InBounds(ix, iy))
	}

	// One step beyond is out.
	ix, iy = g.Index(5.0, 4.0)
	if g.InBounds(ix, iy) {
		t.Errorf("Index(5.0, 4.0) = (%d,%d) should be out of bounds", ix, iy)
	}

	// Negative positions floor below zero.
	ix, iy = g.Index(-0.1, 0)
	if ix != -1 || g.InBounds(ix, iy) {
		t.Errorf("Index(-0.1, 0) = (%d,%d), want out of bounds at -1", ix, iy)
	}
}

func TestFreeCellsAndCenters(t *testing.T) {
	g, _ := NewFree(3, 2, 0.5, Origin{})
	g.Set(1, 0, CellOccupied)
	g.Set(2, 1, CellUnknown)

	free := g.FreeCells()
	if len(free) != 4 {
		t.Fatalf("FreeCells() = %v, want 4 cells", free)
	}
	if g.OccupiedCount() != 2 {
		t.Errorf("OccupiedCount() = %d, want 2", g.OccupiedCount())
	}

	x, y := g.CellCenter(Cell{X: 2, Y: 1})
	if x != 1.25 || y != 0.75 {
		t.Errorf("CellCenter = (%v,%v), want (1.25,0.75)", x, y)
	}
	if g.IsFreeAt(0.75, 0.25) {
		t.Error("IsFreeAt inside occupied cell returned true")
	}
	if !g.IsFreeAt(0.25, 0.25) {
		t.Error("IsFreeAt inside free cell returned false")
	}
}

func TestGridToMapRoundTrip(t *testing.T) {
	g, _ := NewFree(2, 2, 1, Origin{X: -10, Y: 5, Yaw: 0.1})
	mx, my, myaw := g.GridToMap(1, 2, 0.5)
	if mx != -9 || my != 7 || myaw != 0.6 {
		t.Errorf("GridToMap = (%v,%v,%v), want (-9,7,0.6)", mx, my, myaw)
	}
	x, y, yaw := g.MapToGrid(mx, my, myaw)
	if x != 1 || y != 2 || yaw < 0.5-1e-12 || yaw > 0.5+1e-12 {
		t.Errorf("MapToGrid round trip = (%v,%v,%v)", x, y, yaw)
	}
}

func TestOverlay(t *testing.T) {
	g, _ := New(2, 2, 1, Origin{X: 1}, []int8{100, 100, 0, 0})

	updated, err := g.Overlay(2, 2, []int8{0, -1, 100, 42})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	want := []int8{CellFree, CellFree, CellOccupied, CellFree}
	for i, v := range want {
		if updated.Cells[i] != v {
			t.Errorf("cell %d = %d, want %d", i, updated.Cells[i], v)
		}
	}
	if updated.Origin != g.Origin || updated.Resolution != g.Resolution {
		t.Error("overlay should keep origin and resolution")
	}
	if g.Cells[0] != CellOccupied {
		t.Error("overlay mutated the source grid")
	}

	if _, err := g.Overlay(3, 2, make([]int8, 6)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}
