package farm

import (
	"sync"
	"sync/atomic"

	"farmcrew/internal/workorder"
)

// Grid is an in-memory State backed by a dense width×height tile array.
//
// It is used by the simulator and by tests; a game host would provide its own State.
type Grid struct {
	mu     sync.RWMutex
	width  int
	height int
	tiles  []Tile

	unavailable atomic.Bool
}

// NewGrid creates a grid where every tile starts as a copy of fill.
func NewGrid(width, height int, fill Tile) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	g := &Grid{width: width, height: height, tiles: make([]Tile, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := fill
			t.Plot = workorder.Plot{X: x, Y: y}
			g.tiles[y*width+x] = t
		}
	}
	return g
}

func (g *Grid) Size() (width, height int) { return g.width, g.height }

func (g *Grid) index(p workorder.Plot) (int, bool) {
	if p.X < 0 || p.Y < 0 || p.X >= g.width || p.Y >= g.height {
		return 0, false
	}
	return p.Y*g.width + p.X, true
}

// SetUnavailable makes Tile/Tiles fail with ErrUnavailable (simulates a missing provider).
func (g *Grid) SetUnavailable(v bool) { g.unavailable.Store(v) }

func (g *Grid) Tile(p workorder.Plot) (Tile, bool, error) {
	if g.unavailable.Load() {
		return Tile{}, false, ErrUnavailable
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index(p)
	if !ok {
		return Tile{}, false, nil
	}
	return g.tiles[i], true, nil
}

func (g *Grid) Tiles() ([]Tile, error) {
	if g.unavailable.Load() {
		return nil, ErrUnavailable
	}
	g.mu.RLock()
	out := make([]Tile, len(g.tiles))
	copy(out, g.tiles)
	g.mu.RUnlock()
	return out, nil
}

// Update applies fn to the tile at p. It returns false when p is out of bounds.
func (g *Grid) Update(p workorder.Plot, fn func(t *Tile)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index(p)
	if !ok {
		return false
	}
	fn(&g.tiles[i])
	g.tiles[i].Plot = p
	return true
}

// Set replaces the tile at t.Plot.
func (g *Grid) Set(t Tile) bool {
	return g.Update(t.Plot, func(cur *Tile) { *cur = t })
}

// Fill applies fn to every plot in the inclusive rectangle (x0,y0)-(x1,y1).
func (g *Grid) Fill(x0, y0, x1, y1 int, fn func(t *Tile)) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			g.Update(workorder.Plot{X: x, Y: y}, fn)
		}
	}
}
