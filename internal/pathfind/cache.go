package pathfind

import (
	"math"
	"sort"

	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/metrics"
)

type routeKey struct {
	sx, sy, dx, dy int
	signature      string
}

// cachedRoute stores a route with timestamps relative to its start.
type cachedRoute struct {
	start   geom.Point
	route   Route
	created float64 // simulation ms
}

func makeRouteKey(start, dest geom.Point, signature string) routeKey {
	return routeKey{
		sx:        int(math.Floor(start.X)),
		sy:        int(math.Floor(start.Y)),
		dx:        int(math.Floor(dest.X)),
		dy:        int(math.Floor(dest.Y)),
		signature: signature,
	}
}

// lookup returns a cached relative route. A hit whose recorded start is not
// the caller's exact start is treated as a miss: half-tile starts share a key
// with their whole-tile neighbour but need a different first segment.
func (f *Finder) lookup(key routeKey, start geom.Point, now float64) (Route, bool) {
	entry, ok := f.routes[key]
	if !ok || now-entry.created > f.cfg.CacheTTL.Seconds()*1000 || !geom.PointsEqual(entry.start, start) {
		metrics.RouteCacheTotal.WithLabelValues("miss").Inc()
		return Route{}, false
	}
	metrics.RouteCacheTotal.WithLabelValues("hit").Inc()
	return entry.route, true
}

func (f *Finder) store(key routeKey, start geom.Point, route Route, now float64) {
	if f.cfg.CacheSize <= 0 {
		return
	}
	if len(f.routes) >= f.cfg.CacheSize {
		f.evict(now)
	}
	f.routes[key] = &cachedRoute{start: start, route: route, created: now}
}

// evict drops expired entries, then the oldest half if still at capacity.
func (f *Finder) evict(now float64) {
	ttl := f.cfg.CacheTTL.Seconds() * 1000
	for k, e := range f.routes {
		if now-e.created > ttl {
			delete(f.routes, k)
		}
	}
	if len(f.routes) < f.cfg.CacheSize {
		return
	}

	type aged struct {
		key     routeKey
		created float64
	}
	entries := make([]aged, 0, len(f.routes))
	for k, e := range f.routes {
		entries = append(entries, aged{key: k, created: e.created})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created < entries[j].created
	})
	for _, e := range entries[:len(entries)/2] {
		delete(f.routes, e.key)
	}
}

// CacheLen returns the number of cached routes.
func (f *Finder) CacheLen() int {
	return len(f.routes)
}
