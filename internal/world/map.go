// Package world describes the town's tile map: layer data, walkability and generation.
package world

import (
	"fmt"

	"github.com/talgya/mini-town/internal/geom"
)

// EmptyTile marks a cell with no tile on a layer.
const EmptyTile = -1

// TileLayer is a grid of tile indices addressed as layer[x][y].
type TileLayer [][]int

// NewTileLayer allocates a width×height layer filled with fill.
func NewTileLayer(width, height, fill int) TileLayer {
	layer := make(TileLayer, width)
	for x := range layer {
		layer[x] = make([]int, height)
		for y := range layer[x] {
			layer[x][y] = fill
		}
	}
	return layer
}

// At returns the tile at (x, y), or EmptyTile when outside the layer.
func (l TileLayer) At(x, y int) int {
	if x < 0 || x >= len(l) || y < 0 || y >= len(l[x]) {
		return EmptyTile
	}
	return l[x][y]
}

// Map holds the static layout of a world. Only the bottom object layer is
// walkable; anything placed on a higher object layer blocks movement.
type Map struct {
	Width       int         `json:"width"`        // tiles
	Height      int         `json:"height"`       // tiles
	TileDim     int         `json:"tile_dim"`     // pixels per tile edge
	TileSetURL  string      `json:"tile_set_url"` // sprite sheet for clients
	TileSetDimX int         `json:"tile_set_dim_x"`
	TileSetDimY int         `json:"tile_set_dim_y"`
	Background  TileLayer   `json:"background"`
	Objects     []TileLayer `json:"objects"` // Objects[0] is the walkable base layer
}

// NewMap creates a map with a fully filled background and an empty base layer.
func NewMap(width, height int) *Map {
	return &Map{
		Width:      width,
		Height:     height,
		TileDim:    32,
		Background: NewTileLayer(width, height, TileGrass),
		Objects:    []TileLayer{NewTileLayer(width, height, EmptyTile)},
	}
}

// InBounds reports whether p lies on the map. Half-tile positions in the last
// row or column still count, matching how movers straddle two tiles.
func (m *Map) InBounds(p geom.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < float64(m.Width) && p.Y < float64(m.Height)
}

// TileBlocked reports whether the static map forbids standing on tile (x, y):
// out of bounds, covered by a higher object layer, or present on neither the
// background nor the base object layer.
func (m *Map) TileBlocked(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return true
	}
	for i := 1; i < len(m.Objects); i++ {
		if m.Objects[i].At(x, y) != EmptyTile {
			return true
		}
	}
	base := EmptyTile
	if len(m.Objects) > 0 {
		base = m.Objects[0].At(x, y)
	}
	return m.Background.At(x, y) == EmptyTile && base == EmptyTile
}

// Signature identifies the map's shape for cache keys.
func (m *Map) Signature() string {
	return fmt.Sprintf("%dx%d:bg%d:obj%d", m.Width, m.Height, len(m.Background), len(m.Objects))
}

// WalkableCount returns the number of tiles a player may stand on.
func (m *Map) WalkableCount() int {
	n := 0
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			if !m.TileBlocked(x, y) {
				n++
			}
		}
	}
	return n
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%dx%d, layers=%d, walkable=%d)", m.Width, m.Height, len(m.Objects), m.WalkableCount())
}
