package pathfind

import (
	"math"

	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/world"
)

// BlockReason explains why a position cannot be occupied. The zero value means free.
type BlockReason string

const (
	Free         BlockReason = ""
	OutOfBounds  BlockReason = "out of bounds"
	WorldBlocked BlockReason = "world blocked"
	PlayerNearby BlockReason = "player"
	BadPosition  BlockReason = "invalid position"
)

// obstacleGrid is the map's static walkability rasterized once.
type obstacleGrid struct {
	width, height int
	blocked       []bool
}

func newObstacleGrid(m *world.Map) *obstacleGrid {
	g := &obstacleGrid{
		width:   m.Width,
		height:  m.Height,
		blocked: make([]bool, m.Width*m.Height),
	}
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			g.blocked[y*m.Width+x] = m.TileBlocked(x, y)
		}
	}
	return g
}

func (g *obstacleGrid) at(x, y int) bool {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return true
	}
	return g.blocked[y*g.width+x]
}

// grid returns the cached obstacle grid for the map's signature.
func (f *Finder) grid(m *world.Map) *obstacleGrid {
	sig := m.Signature()
	if g, ok := f.grids[sig]; ok {
		return g
	}
	g := newObstacleGrid(m)
	f.grids[sig] = g
	return g
}

// InvalidateMap drops the cached obstacle grid and routes for a map whose
// tiles changed without changing its shape.
func (f *Finder) InvalidateMap(m *world.Map) {
	sig := m.Signature()
	delete(f.grids, sig)
	for k := range f.routes {
		if k.signature == sig {
			delete(f.routes, k)
		}
	}
}

// Blocked reports why p cannot be occupied, given the positions of every
// other player. It depends only on its arguments and the map's tiles.
func (f *Finder) Blocked(m *world.Map, p geom.Point, others []geom.Point) BlockReason {
	if p.IsNaN() {
		return BadPosition
	}
	if !m.InBounds(p) {
		return OutOfBounds
	}
	if f.grid(m).at(int(math.Floor(p.X)), int(math.Floor(p.Y))) {
		return WorldBlocked
	}
	for _, o := range others {
		if geom.Distance(o, p) < f.cfg.CollisionThreshold {
			return PlayerNearby
		}
	}
	return Free
}

// NearestFree finds the closest unblocked whole tile to p, searching
// breadth-first up to radius tiles away. Used to rescue stuck players.
func (f *Finder) NearestFree(m *world.Map, p geom.Point, others []geom.Point, radius int) (geom.Point, bool) {
	if p.IsNaN() || m.Width == 0 || m.Height == 0 {
		return geom.Point{}, false
	}
	origin := geom.Point{
		X: math.Max(0, math.Min(float64(m.Width-1), math.Floor(p.X))),
		Y: math.Max(0, math.Min(float64(m.Height-1), math.Floor(p.Y))),
	}

	visited := map[geom.Point]bool{origin: true}
	queue := []geom.Point{origin}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if f.Blocked(m, current, others) == Free {
			return current, true
		}
		for _, d := range geom.Cardinals {
			next := geom.Point{X: current.X + d.DX, Y: current.Y + d.DY}
			if visited[next] || !m.InBounds(next) {
				continue
			}
			if math.Abs(next.X-origin.X) > float64(radius) || math.Abs(next.Y-origin.Y) > float64(radius) {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return geom.Point{}, false
}
