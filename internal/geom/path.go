package geom

// Waypoint is a timestamped position on a path. Facing is the direction of
// travel leaving the waypoint (arrival direction for the final one).
type Waypoint struct {
	Position Point   `json:"position"`
	Facing   Vector  `json:"facing"`
	T        float64 `json:"t"`
}

// Path is a compressed route: only the waypoints where direction changes,
// plus both endpoints. Motion between consecutive waypoints is linear.
type Path []Waypoint

// Sample is the interpolated state of a mover at some instant.
type Sample struct {
	Position Point
	Facing   Vector
	Velocity float64 // tiles per second
}

// CompressPath drops every interior waypoint whose facing matches the
// previous one. Because dense paths move at constant speed, linear
// interpolation between the kept waypoints reproduces the dense path exactly.
func CompressPath(dense []Waypoint) Path {
	if len(dense) == 0 {
		return nil
	}
	out := Path{dense[0]}
	for i := 1; i < len(dense)-1; i++ {
		if !VectorsEqual(dense[i].Facing, dense[i-1].Facing) {
			out = append(out, dense[i])
		}
	}
	if len(dense) > 1 {
		out = append(out, dense[len(dense)-1])
	}
	return out
}

// Start returns the time of the first waypoint.
func (p Path) Start() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[0].T
}

// End returns the time of the last waypoint.
func (p Path) End() float64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].T
}

// Shift returns a copy of the path with every timestamp moved by dt.
func (p Path) Shift(dt float64) Path {
	out := make(Path, len(p))
	for i, w := range p {
		w.T += dt
		out[i] = w
	}
	return out
}

// PathPosition samples the path at time t. Times before the start or after
// the end clamp to the endpoints with zero velocity. Returns false when the
// path is too short or its timestamps are not monotonic around t.
func PathPosition(path Path, t float64) (Sample, bool) {
	if len(path) < 2 {
		return Sample{}, false
	}
	first := path[0]
	if t < first.T {
		return Sample{Position: first.Position, Facing: first.Facing}, true
	}
	last := path[len(path)-1]
	if last.T < t {
		return Sample{Position: last.Position, Facing: last.Facing}, true
	}
	for i := 0; i < len(path)-1; i++ {
		start, end := path[i], path[i+1]
		if start.T <= t && t <= end.T {
			span := end.T - start.T
			if span <= 0 {
				return Sample{Position: end.Position, Facing: start.Facing}, true
			}
			interp := (t - start.T) / span
			pos := Point{
				X: start.Position.X + interp*(end.Position.X-start.Position.X),
				Y: start.Position.Y + interp*(end.Position.Y-start.Position.Y),
			}
			velocity := Distance(start.Position, end.Position) / (span / 1000)
			return Sample{Position: pos, Facing: start.Facing, Velocity: velocity}, true
		}
	}
	return Sample{}, false
}
