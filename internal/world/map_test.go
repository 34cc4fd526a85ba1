package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-town/internal/geom"
)

func TestTileBlocked(t *testing.T) {
	m := NewMap(4, 3)
	m.Objects = append(m.Objects, NewTileLayer(4, 3, EmptyTile))

	assert.False(t, m.TileBlocked(0, 0))
	assert.True(t, m.TileBlocked(-1, 0))
	assert.True(t, m.TileBlocked(4, 0))
	assert.True(t, m.TileBlocked(0, 3))

	// Decoration on a higher layer blocks.
	m.Objects[1][2][1] = TileTree
	assert.True(t, m.TileBlocked(2, 1))

	// Water with no bridge blocks; a bridge on the base layer makes it walkable.
	m.Background[1][1] = EmptyTile
	assert.True(t, m.TileBlocked(1, 1))
	m.Objects[0][1][1] = TileBridge
	assert.False(t, m.TileBlocked(1, 1))
}

func TestInBounds(t *testing.T) {
	m := NewMap(4, 3)
	assert.True(t, m.InBounds(geom.Point{X: 0, Y: 0}))
	assert.True(t, m.InBounds(geom.Point{X: 3.5, Y: 2}))
	assert.False(t, m.InBounds(geom.Point{X: 4, Y: 0}))
	assert.False(t, m.InBounds(geom.Point{X: 0, Y: -0.5}))
}

func TestSignature(t *testing.T) {
	a := NewMap(10, 8)
	b := NewMap(10, 8)
	assert.Equal(t, a.Signature(), b.Signature())

	b.Objects = append(b.Objects, NewTileLayer(10, 8, EmptyTile))
	assert.NotEqual(t, a.Signature(), b.Signature())
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := SmallTestConfig()
	a := Generate(cfg)
	b := Generate(cfg)
	require.Equal(t, a.Background, b.Background)
	require.Equal(t, a.Objects, b.Objects)

	assert.Equal(t, cfg.Width, a.Width)
	assert.Equal(t, cfg.Height, a.Height)
	assert.Len(t, a.Objects, 2)
}

func TestGenerateRoadsWalkable(t *testing.T) {
	cfg := SmallTestConfig()
	m := Generate(cfg)

	x := cfg.RoadSpacing / 2
	for y := 0; y < m.Height; y++ {
		assert.False(t, m.TileBlocked(x, y), "road tile (%d,%d) should be walkable", x, y)
	}
	assert.Greater(t, m.WalkableCount(), m.Height)
}
