package pathfind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/world"
)

// wallMap returns an open map with a vertical wall at x=5 leaving a gap at y=8.
func wallMap() *world.Map {
	m := world.NewMap(12, 10)
	decor := world.NewTileLayer(12, 10, world.EmptyTile)
	for y := 0; y < 10; y++ {
		if y != 8 {
			decor[5][y] = world.TileRock
		}
	}
	m.Objects = append(m.Objects, decor)
	return m
}

func pt(x, y float64) geom.Point { return geom.Point{X: x, Y: y} }

func TestFindRouteStraight(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)

	route := f.FindRoute(m, 1000, pt(1, 1), geom.Vector{DX: 1}, pt(6, 1), nil)
	require.NotNil(t, route)
	assert.Nil(t, route.NewDestination)
	require.Len(t, route.Path, 2)

	first, last := route.Path[0], route.Path[len(route.Path)-1]
	assert.Equal(t, pt(1, 1), first.Position)
	assert.Equal(t, pt(6, 1), last.Position)
	assert.Equal(t, 1000.0, first.T)
	// 5 tiles at 0.75 tiles/s.
	assert.InDelta(t, 1000+5/0.75*1000, last.T, 1e-6)
}

func TestFindRouteAroundWall(t *testing.T) {
	f := New(DefaultConfig())
	m := wallMap()

	route := f.FindRoute(m, 0, pt(2, 2), geom.Vector{DX: 1}, pt(9, 2), nil)
	require.NotNil(t, route)
	assert.Nil(t, route.NewDestination)
	assert.Equal(t, pt(9, 2), route.Path[len(route.Path)-1].Position)

	// Every sampled point along the path must be walkable.
	for ts := route.Path.Start(); ts <= route.Path.End(); ts += 50 {
		s, ok := geom.PathPosition(route.Path, ts)
		require.True(t, ok)
		assert.Equal(t, Free, f.Blocked(m, s.Position, nil), "blocked at t=%v pos=%v", ts, s.Position)
	}
	// It has to pass through the gap.
	passed := false
	for _, w := range route.Path {
		if w.Position.Y == 8 {
			passed = true
		}
	}
	assert.True(t, passed)
}

func TestFindRouteHalfTileStart(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)

	route := f.FindRoute(m, 0, pt(2.5, 3), geom.Vector{DX: 1}, pt(5, 3), nil)
	require.NotNil(t, route)
	assert.Equal(t, pt(2.5, 3), route.Path[0].Position)
	assert.Equal(t, pt(5, 3), route.Path[len(route.Path)-1].Position)
}

func TestFindRouteOutOfBounds(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)

	assert.Nil(t, f.FindRoute(m, 0, pt(1, 1), geom.Vector{DX: 1}, pt(10, 1), nil))
	assert.Nil(t, f.FindRoute(m, 0, pt(1, 1), geom.Vector{DX: 1}, pt(-1, 4), nil))
}

func TestFindRouteSameTile(t *testing.T) {
	f := New(DefaultConfig())
	assert.Nil(t, f.FindRoute(world.OpenMap(5, 5), 0, pt(2, 2), geom.Vector{DX: 1}, pt(2, 2), nil))
}

func TestFindRouteUnreachableFallsBack(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)
	decor := world.NewTileLayer(10, 10, world.EmptyTile)
	decor[8][5] = world.TileHouse
	m.Objects = append(m.Objects, decor)

	start := pt(1, 5)
	dest := pt(8, 5)
	route := f.FindRoute(m, 0, start, geom.Vector{DX: 1}, dest, nil)
	require.NotNil(t, route)
	require.NotNil(t, route.NewDestination)

	end := route.Path[len(route.Path)-1].Position
	assert.Equal(t, *route.NewDestination, end)
	assert.Less(t, geom.OctileDistance(end, dest), geom.OctileDistance(start, dest))
}

func TestFindRouteIterationCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	f := New(cfg)
	m := world.OpenMap(30, 30)

	start := pt(0, 0)
	dest := pt(25, 25)
	route := f.FindRoute(m, 0, start, geom.Vector{DX: 1}, dest, nil)
	require.NotNil(t, route)
	require.NotNil(t, route.NewDestination)
	assert.Less(t, geom.OctileDistance(*route.NewDestination, dest), geom.OctileDistance(start, dest))
}

func TestFindRouteNothingReachable(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(5, 5)
	others := []geom.Point{pt(1, 0), pt(0, 1)}

	assert.Nil(t, f.FindRoute(m, 0, pt(0, 0), geom.Vector{DX: 1}, pt(4, 4), others))
}

func TestFindRouteAvoidsPlayers(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)
	others := []geom.Point{pt(3, 2)}

	route := f.FindRoute(m, 0, pt(1, 2), geom.Vector{DX: 1}, pt(6, 2), others)
	require.NotNil(t, route)
	for _, w := range route.Path[1:] {
		assert.Equal(t, Free, f.Blocked(m, w.Position, others))
	}
}

func TestFindRouteDeterministic(t *testing.T) {
	m := wallMap()
	a := New(DefaultConfig()).FindRoute(m, 500, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	b := New(DefaultConfig()).FindRoute(m, 500, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	require.NotNil(t, a)
	assert.Equal(t, a, b)
}

func TestRouteCacheTransparent(t *testing.T) {
	f := New(DefaultConfig())
	m := wallMap()

	a := f.FindRoute(m, 100, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	require.NotNil(t, a)
	assert.Equal(t, 1, f.CacheLen())

	b := f.FindRoute(m, 100, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	assert.Equal(t, a, b)

	// Mutating a returned route must not leak into the cache.
	b.Path[0].T = -1
	c := f.FindRoute(m, 100, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	assert.Equal(t, a, c)

	// Later queries reuse the shape with shifted times.
	d := f.FindRoute(m, 600, pt(1, 1), geom.Vector{DX: 1}, pt(10, 6), nil)
	require.NotNil(t, d)
	assert.InDelta(t, a.Path.End()+500, d.Path.End(), 1e-6)
	assert.Equal(t, len(a.Path), len(d.Path))
}

func TestRouteCacheMissOnHalfTileStart(t *testing.T) {
	f := New(DefaultConfig())
	m := world.OpenMap(10, 10)

	whole := f.FindRoute(m, 0, pt(2, 2), geom.Vector{DX: 1}, pt(6, 2), nil)
	half := f.FindRoute(m, 0, pt(2.5, 2), geom.Vector{DX: 1}, pt(6, 2), nil)
	require.NotNil(t, whole)
	require.NotNil(t, half)
	assert.Equal(t, pt(2.5, 2), half.Path[0].Position)
}

func TestRouteCacheEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheSize = 4
	f := New(cfg)
	m := world.OpenMap(20, 20)

	for i := 0; i < 20; i++ {
		route := f.FindRoute(m, float64(i), pt(0, 0), geom.Vector{DX: 1}, pt(float64(i%19+1), 3), nil)
		require.NotNil(t, route)
		assert.LessOrEqual(t, f.CacheLen(), cfg.CacheSize)
	}
}

func TestBlocked(t *testing.T) {
	f := New(DefaultConfig())
	m := wallMap()

	assert.Equal(t, Free, f.Blocked(m, pt(1, 1), nil))
	assert.Equal(t, OutOfBounds, f.Blocked(m, pt(-0.5, 1), nil))
	assert.Equal(t, OutOfBounds, f.Blocked(m, pt(12, 1), nil))
	assert.Equal(t, WorldBlocked, f.Blocked(m, pt(5, 1), nil))
	assert.Equal(t, WorldBlocked, f.Blocked(m, pt(5.5, 1), nil))
	assert.Equal(t, PlayerNearby, f.Blocked(m, pt(1, 1), []geom.Point{pt(1.5, 1)}))
	assert.Equal(t, Free, f.Blocked(m, pt(1, 1), []geom.Point{pt(2, 1)}))

	// Pure: repeated calls agree.
	for i := 0; i < 3; i++ {
		assert.Equal(t, WorldBlocked, f.Blocked(m, pt(5, 3), nil))
	}
}

func TestNearestFree(t *testing.T) {
	f := New(DefaultConfig())
	m := wallMap()

	p, ok := f.NearestFree(m, pt(5, 3), nil, 3)
	require.True(t, ok)
	assert.Equal(t, Free, f.Blocked(m, p, nil))
	assert.InDelta(t, 1, geom.ManhattanDistance(p, pt(5, 3)), 1e-9)

	// Already free: stays put.
	p, ok = f.NearestFree(m, pt(2, 2), nil, 3)
	require.True(t, ok)
	assert.Equal(t, pt(2, 2), p)

	// Nothing within radius 0 of a blocked tile.
	_, ok = f.NearestFree(m, pt(5, 3), nil, 0)
	assert.False(t, ok)
}
