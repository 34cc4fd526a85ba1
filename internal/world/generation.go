// Town map generation using layered simplex noise.
// Noise decides where ponds and groves fall; a road grid is laid over the result
// with bridges wherever a road crosses water.
package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Tile indices into the default sprite sheet.
const (
	TileGrass  = 0
	TileRoad   = 1
	TileBridge = 2
	TileTree   = 10
	TileRock   = 11
	TileHouse  = 12
)

// GenConfig holds map generation parameters.
type GenConfig struct {
	Width       int     // tiles
	Height      int     // tiles
	Seed        int64   // Random seed (0 = random)
	WaterLevel  float64 // Noise threshold below which tiles become pond (0.0–1.0)
	TreeLevel   float64 // Noise threshold above which trees grow (0.0–1.0)
	RoadSpacing int     // Distance between parallel roads
	Houses      int     // Number of houses to place
}

// DefaultGenConfig returns a town sized for a few dozen characters.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:       48,
		Height:      32,
		Seed:        0,
		WaterLevel:  0.22,
		TreeLevel:   0.74,
		RoadSpacing: 8,
		Houses:      12,
	}
}

// SmallTestConfig returns a tiny map for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:       16,
		Height:      12,
		Seed:        42,
		WaterLevel:  0.20,
		TreeLevel:   0.80,
		RoadSpacing: 5,
		Houses:      2,
	}
}

// Generate creates a complete town map.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	// Independent noise fields for water and vegetation.
	waterNoise := opensimplex.NewNormalized(seed)
	treeNoise := opensimplex.NewNormalized(seed + 1)

	m := NewMap(cfg.Width, cfg.Height)
	m.TileSetURL = "/assets/town-tiles.png"
	m.TileSetDimX = 1440
	m.TileSetDimY = 1024
	decor := NewTileLayer(cfg.Width, cfg.Height, EmptyTile)
	m.Objects = append(m.Objects, decor)

	for x := 0; x < cfg.Width; x++ {
		for y := 0; y < cfg.Height; y++ {
			fx, fy := float64(x), float64(y)
			water := octaveNoise(waterNoise, fx, fy, 3, 0.09, 0.5)
			trees := octaveNoise(treeNoise, fx, fy, 2, 0.15, 0.5)

			switch {
			case water < cfg.WaterLevel:
				m.Background[x][y] = EmptyTile
			case trees > cfg.TreeLevel:
				decor[x][y] = TileTree
			}
		}
	}

	layRoads(m, cfg.RoadSpacing)
	placeHouses(m, cfg.Houses, seed)

	return m
}

// layRoads draws a road grid on the base layer. Roads clear decoration and
// bridge water, so every road tile is walkable.
func layRoads(m *Map, spacing int) {
	if spacing <= 0 {
		return
	}
	base, decor := m.Objects[0], m.Objects[1]
	lay := func(x, y int) {
		decor[x][y] = EmptyTile
		if m.Background[x][y] == EmptyTile {
			base[x][y] = TileBridge
		} else {
			base[x][y] = TileRoad
		}
	}
	for x := spacing / 2; x < m.Width; x += spacing {
		for y := 0; y < m.Height; y++ {
			lay(x, y)
		}
	}
	for y := spacing / 2; y < m.Height; y += spacing {
		for x := 0; x < m.Width; x++ {
			lay(x, y)
		}
	}
}

// placeHouses drops 2×2 houses on grass tiles next to roads.
func placeHouses(m *Map, count int, seed int64) {
	rng := rand.New(rand.NewSource(seed + 100))
	base, decor := m.Objects[0], m.Objects[1]

	free := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < m.Width && y < m.Height &&
			m.Background[x][y] != EmptyTile && base[x][y] == EmptyTile && decor[x][y] == EmptyTile
	}

	placed := 0
	for attempt := 0; attempt < count*20 && placed < count; attempt++ {
		x := rng.Intn(m.Width - 1)
		y := rng.Intn(m.Height - 1)
		if !free(x, y) || !free(x+1, y) || !free(x, y+1) || !free(x+1, y+1) {
			continue
		}
		// Only build along a road.
		if base.At(x-1, y) == EmptyTile && base.At(x+2, y) == EmptyTile &&
			base.At(x, y-1) == EmptyTile && base.At(x, y+2) == EmptyTile {
			continue
		}
		decor[x][y], decor[x+1][y], decor[x][y+1], decor[x+1][y+1] = TileHouse, TileHouse, TileHouse, TileHouse
		placed++
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// OpenMap returns a map with no obstacles at all. Useful for tests and
// sandbox worlds.
func OpenMap(width, height int) *Map {
	return NewMap(width, height)
}
