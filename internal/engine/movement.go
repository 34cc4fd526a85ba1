package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/social"
)

var ErrInConversation = errors.New("can't move while in a conversation, leave it first")

// movePlayer starts pathing toward a whole tile. Participants in a
// conversation may only move when allowInConversation is set.
func (s *Simulation) movePlayer(p *agents.Player, now float64, dest geom.Point, allowInConversation bool) error {
	if dest.X != math.Floor(dest.X) || dest.Y != math.Floor(dest.Y) {
		return fmt.Errorf("non-integral destination %s", dest)
	}
	if geom.PointsEqual(p.Position, dest) {
		return nil
	}
	if !allowInConversation {
		if c := s.World.PlayerConversation(p.ID); c != nil {
			if m := c.Member(p.ID); m != nil && m.Status.Kind == social.Participating {
				return ErrInConversation
			}
		}
	}
	p.Pathfinding = &agents.Pathfinding{
		Destination: dest,
		Started:     now,
		State:       agents.PathState{Kind: agents.NeedsPath},
	}
	return nil
}

// stopPlayer cancels any movement.
func stopPlayer(p *agents.Player) {
	p.Pathfinding = nil
	p.Speed = 0
}

// tickPathfinding advances a player's movement request: arrival, timeout,
// backoff expiry and, budget permitting, route search.
func (s *Simulation) tickPathfinding(p *agents.Player, now float64) {
	pf := p.Pathfinding
	if pf == nil {
		return
	}

	if pf.State.Kind == agents.Moving && len(pf.State.Path) > 0 && pf.State.Path.End() < now {
		last := pf.State.Path[len(pf.State.Path)-1]
		p.Position = last.Position
		p.Facing = last.Facing
		stopPlayer(p)
		return
	}

	if pf.Started+ms(s.cfg.PathfindingTimeout) < now {
		slog.Warn("pathfinding timed out", "world", s.WorldID, "player", p.ID, "destination", pf.Destination)
		s.rescue(p)
		stopPlayer(p)
		return
	}

	if pf.State.Kind == agents.Waiting && pf.State.Until < now {
		pf.State = agents.PathState{Kind: agents.NeedsPath}
	}

	if pf.State.Kind != agents.NeedsPath || s.numPathfinds >= s.cfg.MaxPathfindsPerStep {
		return
	}
	s.numPathfinds++
	if s.numPathfinds == s.cfg.MaxPathfindsPerStep {
		slog.Warn("reached max pathfinds for this step", "world", s.WorldID, "max", s.cfg.MaxPathfindsPerStep)
	}

	route := s.finder.FindRoute(s.Map, now, p.Position, p.Facing, pf.Destination, s.World.OtherPositions(p.ID))
	if route == nil {
		slog.Debug("no route", "world", s.WorldID, "player", p.ID, "from", p.Position, "to", pf.Destination)
		stopPlayer(p)
		return
	}
	if route.NewDestination != nil {
		slog.Debug("unable to reach destination, routing to closest point",
			"world", s.WorldID, "player", p.ID, "wanted", pf.Destination, "got", *route.NewDestination)
		pf.Destination = *route.NewDestination
	}
	pf.State = agents.PathState{Kind: agents.Moving, Path: route.Path}
}

// tickPosition moves a player along its path. A sample that has become
// blocked puts the player into a randomized wait instead.
func (s *Simulation) tickPosition(p *agents.Player, now float64) {
	if p.Pathfinding == nil || p.Pathfinding.State.Kind != agents.Moving {
		p.Speed = 0
		return
	}

	sample, ok := geom.PathPosition(p.Pathfinding.State.Path, now)
	if !ok {
		slog.Warn("path out of range, repathing", "world", s.WorldID, "player", p.ID, "now", now)
		p.Pathfinding.State = agents.PathState{Kind: agents.NeedsPath}
		p.Speed = 0
		return
	}

	if reason := s.finder.Blocked(s.Map, sample.Position, s.World.OtherPositions(p.ID)); reason != pathfind.Free {
		backoff := s.rng.Float() * ms(s.cfg.PathfindingBackoff)
		slog.Debug("path blocked, waiting", "world", s.WorldID, "player", p.ID, "reason", reason, "backoff_ms", backoff)
		p.Pathfinding.State = agents.PathState{Kind: agents.Waiting, Until: now + backoff}
		p.Speed = 0
		return
	}

	p.Position = sample.Position
	p.Facing = sample.Facing
	p.Speed = sample.Velocity
}

// rescue snaps a player standing on a blocked tile to the nearest free one.
// Players overlapping each other are left alone; only the static map or an
// out-of-bounds position warrants a snap.
func (s *Simulation) rescue(p *agents.Player) {
	reason := s.finder.Blocked(s.Map, p.Position, nil)
	if reason == pathfind.Free {
		return
	}
	spot, ok := s.finder.NearestFree(s.Map, p.Position, s.World.OtherPositions(p.ID), s.cfg.RescueRadius)
	if !ok {
		slog.Warn("no free tile to rescue player", "world", s.WorldID, "player", p.ID, "position", p.Position, "reason", reason)
		return
	}
	slog.Warn("rescued stuck player", "world", s.WorldID, "player", p.ID, "from", p.Position, "to", spot, "reason", reason)
	p.Position = spot
}
