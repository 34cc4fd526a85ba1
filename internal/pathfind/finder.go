// Package pathfind plans routes across the town's half-integer tile grid.
// A Finder belongs to one world and is not safe for concurrent use.
package pathfind

import (
	"container/heap"
	"time"

	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/metrics"
	"github.com/talgya/mini-town/internal/world"
)

// Config holds pathfinding tunables.
type Config struct {
	CollisionThreshold float64       // tiles; players closer than this block each other
	MovementSpeed      float64       // tiles per second
	MaxIterations      int           // search node pops before falling back to the best candidate
	CacheTTL           time.Duration // simulation time a cached route stays valid
	CacheSize          int           // routes kept before eviction
}

// DefaultConfig returns the tunables used by a standard town.
func DefaultConfig() Config {
	return Config{
		CollisionThreshold: 0.75,
		MovementSpeed:      0.75,
		MaxIterations:      10000,
		CacheTTL:           2 * time.Second,
		CacheSize:          512,
	}
}

// Route is a planned path. NewDestination is set when the requested
// destination was unreachable and the path ends at the closest candidate instead.
type Route struct {
	Path           geom.Path
	NewDestination *geom.Point
}

// Finder plans routes and remembers recent ones.
type Finder struct {
	cfg    Config
	grids  map[string]*obstacleGrid
	routes map[routeKey]*cachedRoute
}

// New creates a Finder.
func New(cfg Config) *Finder {
	if cfg.MovementSpeed <= 0 {
		cfg.MovementSpeed = DefaultConfig().MovementSpeed
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	return &Finder{
		cfg:    cfg,
		grids:  make(map[string]*obstacleGrid),
		routes: make(map[routeKey]*cachedRoute),
	}
}

// Config returns the Finder's tunables.
func (f *Finder) Config() Config {
	return f.cfg
}

type candidate struct {
	position geom.Point
	facing   geom.Vector
	t        float64 // ms since the route started
	length   float64
	cost     float64
	prev     *candidate
	seq      int // insertion order, breaks cost ties deterministically
	index    int
}

func (c *candidate) heuristic() float64 { return c.cost - c.length }

type candidateQueue []*candidate

func (q candidateQueue) Len() int { return len(q) }

func (q candidateQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].seq < q[j].seq
}

func (q candidateQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *candidateQueue) Push(x any) {
	item := x.(*candidate)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *candidateQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// FindRoute plans a path from start to the whole tile dest, avoiding map
// obstacles and the other players' positions. Waypoint times are absolute,
// starting at now. Returns nil when dest is off the map, equals start, or
// nothing at all is reachable.
func (f *Finder) FindRoute(m *world.Map, now float64, start geom.Point, facing geom.Vector, dest geom.Point, others []geom.Point) *Route {
	if !m.InBounds(dest) || dest.IsNaN() || start.IsNaN() {
		metrics.PathfindsTotal.WithLabelValues("none").Inc()
		return nil
	}
	if geom.PointsEqual(start, dest) {
		return nil
	}

	key := makeRouteKey(start, dest, m.Signature())
	if cached, ok := f.lookup(key, start, now); ok {
		return absolute(cached, now)
	}

	rel := f.search(m, start, facing, dest, others)
	if rel == nil {
		metrics.PathfindsTotal.WithLabelValues("none").Inc()
		return nil
	}
	if rel.NewDestination != nil {
		metrics.PathfindsTotal.WithLabelValues("partial").Inc()
	} else {
		metrics.PathfindsTotal.WithLabelValues("found").Inc()
	}
	f.store(key, start, *rel, now)
	return absolute(*rel, now)
}

func absolute(rel Route, now float64) *Route {
	out := &Route{Path: rel.Path.Shift(now)}
	if rel.NewDestination != nil {
		d := *rel.NewDestination
		out.NewDestination = &d
	}
	return out
}

// neighbors snaps a mid-transit position onto the grid along its fractional
// axis; whole-tile positions get the four cardinal neighbours.
func neighbors(p geom.Point) []candidate {
	var out []candidate
	fx, fy := p.Floor().X, p.Floor().Y
	if p.X != fx {
		out = append(out,
			candidate{position: geom.Point{X: fx, Y: p.Y}, facing: geom.Vector{DX: -1}},
			candidate{position: geom.Point{X: fx + 1, Y: p.Y}, facing: geom.Vector{DX: 1}},
		)
	}
	if p.Y != fy {
		out = append(out,
			candidate{position: geom.Point{X: p.X, Y: fy}, facing: geom.Vector{DY: -1}},
			candidate{position: geom.Point{X: p.X, Y: fy + 1}, facing: geom.Vector{DY: 1}},
		)
	}
	if p.X == fx && p.Y == fy {
		out = append(out,
			candidate{position: geom.Point{X: p.X, Y: p.Y - 1}, facing: geom.Vector{DY: -1}},
			candidate{position: geom.Point{X: p.X + 1, Y: p.Y}, facing: geom.Vector{DX: 1}},
			candidate{position: geom.Point{X: p.X, Y: p.Y + 1}, facing: geom.Vector{DY: 1}},
			candidate{position: geom.Point{X: p.X - 1, Y: p.Y}, facing: geom.Vector{DX: -1}},
		)
	}
	return out
}

// search runs the bounded A* and returns a route with times relative to 0.
func (f *Finder) search(m *world.Map, start geom.Point, facing geom.Vector, dest geom.Point, others []geom.Point) *Route {
	best := map[geom.Point]*candidate{}
	open := &candidateQueue{}
	heap.Init(open)
	seq := 0

	current := &candidate{
		position: start,
		facing:   facing,
		cost:     geom.OctileDistance(start, dest),
	}
	bestCandidate := current
	reached := false

	for iterations := 0; current != nil && iterations < f.cfg.MaxIterations; iterations++ {
		if geom.PointsEqual(current.position, dest) {
			reached = true
			break
		}
		if current.heuristic() < bestCandidate.heuristic() {
			bestCandidate = current
		}

		for _, n := range neighbors(current.position) {
			if f.Blocked(m, n.position, others) != Free {
				continue
			}
			segment := geom.Distance(current.position, n.position)
			length := current.length + segment
			next := &candidate{
				position: n.position,
				facing:   n.facing,
				t:        current.t + segment/f.cfg.MovementSpeed*1000,
				length:   length,
				cost:     length + geom.OctileDistance(n.position, dest),
				prev:     current,
				seq:      seq,
			}
			if existing, ok := best[n.position]; ok && existing.cost <= next.cost {
				continue
			}
			seq++
			best[n.position] = next
			heap.Push(open, next)
		}

		current = nil
		for open.Len() > 0 {
			c := heap.Pop(open).(*candidate)
			// Skip entries superseded by a cheaper path to the same tile.
			if best[c.position] == c {
				current = c
				break
			}
		}
	}

	var newDestination *geom.Point
	if !reached {
		if bestCandidate.length == 0 {
			return nil
		}
		current = bestCandidate
		p := current.position
		newDestination = &p
	}

	// Each waypoint faces the direction of travel out of it; the last keeps
	// its arrival direction.
	var dense []geom.Waypoint
	outgoing := current.facing
	for c := current; c != nil; c = c.prev {
		dense = append(dense, geom.Waypoint{Position: c.position, Facing: outgoing, T: c.t})
		outgoing = c.facing
	}
	for i, j := 0, len(dense)-1; i < j; i, j = i+1, j-1 {
		dense[i], dense[j] = dense[j], dense[i]
	}
	return &Route{Path: geom.CompressPath(dense), NewDestination: newDestination}
}
