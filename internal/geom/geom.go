// Package geom provides the point and vector math shared by pathfinding and movement.
// Coordinates are in tiles; timestamps are simulation milliseconds.
package geom

import (
	"fmt"
	"math"
)

// epsilon is the tolerance used when comparing positions.
const epsilon = 0.0001

// Point is a position on the tile map. Tiles are addressed by their integer
// coordinates; players mid-transit may sit on half-tile offsets.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector is a direction, typically unit length (facing).
type Vector struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// String returns a compact representation for logs.
func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Floor snaps a point to the tile containing it.
func (p Point) Floor() Point {
	return Point{X: math.Floor(p.X), Y: math.Floor(p.Y)}
}

// IsIntegral reports whether both coordinates sit on whole tiles.
func (p Point) IsIntegral() bool {
	return p.X == math.Floor(p.X) && p.Y == math.Floor(p.Y)
}

// IsNaN reports whether either coordinate is NaN.
func (p Point) IsNaN() bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ManhattanDistance returns |dx| + |dy|.
func ManhattanDistance(a, b Point) float64 {
	return math.Abs(a.X-b.X) + math.Abs(a.Y-b.Y)
}

// OctileDistance returns max(dx,dy) + (√2−1)·min(dx,dy).
func OctileDistance(a, b Point) float64 {
	dx := math.Abs(a.X - b.X)
	dy := math.Abs(a.Y - b.Y)
	if dx > dy {
		return dx + (math.Sqrt2-1)*dy
	}
	return dy + (math.Sqrt2-1)*dx
}

// PointsEqual compares two points within epsilon.
func PointsEqual(a, b Point) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon
}

// VectorsEqual compares two vectors within epsilon.
func VectorsEqual(a, b Vector) bool {
	return math.Abs(a.DX-b.DX) < epsilon && math.Abs(a.DY-b.DY) < epsilon
}

// Between returns the vector pointing from one point to another.
func Between(from, to Point) Vector {
	return Vector{DX: to.X - from.X, DY: to.Y - from.Y}
}

// Normalize returns the unit vector in the direction of v.
// Returns false for a zero-length vector.
func Normalize(v Vector) (Vector, bool) {
	length := math.Hypot(v.DX, v.DY)
	if length < epsilon {
		return Vector{}, false
	}
	return Vector{DX: v.DX / length, DY: v.DY / length}, true
}

// Midpoint returns the tile at the middle of two points, floored.
func Midpoint(a, b Point) Point {
	return Point{X: math.Floor((a.X + b.X) / 2), Y: math.Floor((a.Y + b.Y) / 2)}
}

// Cardinal facings, in the order used for random selection.
var Cardinals = [4]Vector{
	{DX: 1, DY: 0},
	{DX: -1, DY: 0},
	{DX: 0, DY: 1},
	{DX: 0, DY: -1},
}
