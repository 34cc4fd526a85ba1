package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistances(t *testing.T) {
	a := Point{X: 0, Y: 0}
	b := Point{X: 3, Y: 4}

	assert.InDelta(t, 5, Distance(a, b), 1e-9)
	assert.InDelta(t, 7, ManhattanDistance(a, b), 1e-9)
	assert.InDelta(t, 4+(math.Sqrt2-1)*3, OctileDistance(a, b), 1e-9)
	assert.InDelta(t, OctileDistance(a, b), OctileDistance(b, a), 1e-9)
}

func TestNormalize(t *testing.T) {
	v, ok := Normalize(Vector{DX: 3, DY: 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v.DX, 1e-9)
	assert.InDelta(t, 0.8, v.DY, 1e-9)

	_, ok = Normalize(Vector{})
	assert.False(t, ok)
}

func TestCompressPath(t *testing.T) {
	right := Vector{DX: 1}
	down := Vector{DY: 1}
	dense := []Waypoint{
		{Position: Point{X: 0, Y: 0}, Facing: right, T: 0},
		{Position: Point{X: 1, Y: 0}, Facing: right, T: 1000},
		{Position: Point{X: 2, Y: 0}, Facing: down, T: 2000},
		{Position: Point{X: 2, Y: 1}, Facing: down, T: 3000},
		{Position: Point{X: 2, Y: 2}, Facing: down, T: 4000},
	}

	path := CompressPath(dense)
	require.Len(t, path, 3)
	assert.Equal(t, Point{X: 0, Y: 0}, path[0].Position)
	assert.Equal(t, Point{X: 2, Y: 0}, path[1].Position)
	assert.Equal(t, Point{X: 2, Y: 2}, path[2].Position)

	// Interpolating the compressed path reproduces every dense waypoint.
	for _, w := range dense {
		s, ok := PathPosition(path, w.T)
		require.True(t, ok)
		assert.True(t, PointsEqual(w.Position, s.Position), "t=%v got %v want %v", w.T, s.Position, w.Position)
	}
}

func TestPathPosition(t *testing.T) {
	path := Path{
		{Position: Point{X: 0, Y: 0}, Facing: Vector{DX: 1}, T: 1000},
		{Position: Point{X: 4, Y: 0}, Facing: Vector{DX: 1}, T: 3000},
	}

	s, ok := PathPosition(path, 2000)
	require.True(t, ok)
	assert.InDelta(t, 2, s.Position.X, 1e-9)
	assert.InDelta(t, 2, s.Velocity, 1e-9)

	s, ok = PathPosition(path, 0)
	require.True(t, ok)
	assert.Equal(t, Point{X: 0, Y: 0}, s.Position)
	assert.Zero(t, s.Velocity)

	s, ok = PathPosition(path, 5000)
	require.True(t, ok)
	assert.Equal(t, Point{X: 4, Y: 0}, s.Position)
	assert.Zero(t, s.Velocity)

	_, ok = PathPosition(path[:1], 1000)
	assert.False(t, ok)
}

func TestPathShift(t *testing.T) {
	path := Path{{T: 0}, {T: 500}}
	shifted := path.Shift(100)
	assert.Equal(t, 100.0, shifted.Start())
	assert.Equal(t, 600.0, shifted.End())
	assert.Equal(t, 0.0, path.Start(), "shift must not mutate the original")
}
