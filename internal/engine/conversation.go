package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/social"
)

// startConversation creates a conversation in which inviter invites invitee.
// Both players must exist and be free.
func (s *Simulation) startConversation(now float64, inviter, invitee agents.PlayerID) (agents.ConversationID, error) {
	if inviter == invitee {
		return 0, fmt.Errorf("can't invite yourself to a conversation")
	}
	if s.World.Players[inviter] == nil {
		return 0, fmt.Errorf("invalid player %s", inviter)
	}
	if s.World.Players[invitee] == nil {
		return 0, fmt.Errorf("invalid player %s", invitee)
	}
	if s.World.PlayerConversation(inviter) != nil {
		return 0, fmt.Errorf("player %s is already in a conversation", inviter)
	}
	if s.World.PlayerConversation(invitee) != nil {
		return 0, fmt.Errorf("player %s is already in a conversation", invitee)
	}

	id := agents.ConversationID(s.World.allocID())
	s.World.Conversations[id] = social.New(id, now, inviter, invitee)
	for _, pid := range []agents.PlayerID{inviter, invitee} {
		if p := s.World.Players[pid]; p.Activity != nil && p.Activity.Until > now {
			p.Activity.Until = now
		}
	}
	slog.Debug("conversation created", "world", s.WorldID, "conversation", id, "inviter", inviter, "invitee", invitee)
	return id, nil
}

// memberConversation looks up a conversation and checks membership.
func (s *Simulation) memberConversation(id agents.ConversationID, player agents.PlayerID) (*social.Conversation, error) {
	c := s.World.Conversations[id]
	if c == nil {
		return nil, fmt.Errorf("invalid conversation %s", id)
	}
	if !c.Has(player) {
		return nil, fmt.Errorf("player %s not in %s: %w", player, id, social.ErrNotMember)
	}
	return c, nil
}

// leaveConversation ends a conversation on behalf of one of its members.
func (s *Simulation) leaveConversation(c *social.Conversation, player agents.PlayerID, now float64) error {
	if !c.Has(player) {
		return fmt.Errorf("player %s not in %s: %w", player, c.ID, social.ErrNotMember)
	}
	s.stopConversation(c, now)
	return nil
}

// tickConversation handles typing expiry, the walk-over handshake and
// facing for a two-party conversation.
func (s *Simulation) tickConversation(c *social.Conversation, now float64) {
	if c.IsTyping != nil && c.IsTyping.Since+ms(s.cfg.TypingTimeout) < now {
		c.IsTyping = nil
	}
	if len(c.Members) != 2 {
		slog.Warn("conversation does not have two members", "world", s.WorldID, "conversation", c.ID, "members", len(c.Members))
		return
	}

	m1, m2 := c.Members[0], c.Members[1]
	p1, p2 := s.World.Players[m1.PlayerID], s.World.Players[m2.PlayerID]
	if p1 == nil || p2 == nil {
		slog.Warn("conversation references missing player", "world", s.WorldID, "conversation", c.ID)
		s.stopConversation(c, now)
		return
	}

	if m1.Status.Kind == social.WalkingOver && m2.Status.Kind == social.WalkingOver &&
		geom.Distance(p1.Position, p2.Position) < s.cfg.ConversationDistance {
		slog.Debug("starting conversation", "world", s.WorldID, "conversation", c.ID, "p1", p1.ID, "p2", p2.ID)
		stopPlayer(p1)
		stopPlayer(p2)
		c.StartParticipating(now)
		s.settleSideBySide(p1, p2, now)
	}

	if m1.Status.Kind == social.Participating && m2.Status.Kind == social.Participating {
		v, ok := geom.Normalize(geom.Between(p1.Position, p2.Position))
		if ok {
			if p1.Pathfinding == nil {
				p1.Facing = v
			}
			if p2.Pathfinding == nil {
				p2.Facing = geom.Vector{DX: -v.DX, DY: -v.DY}
			}
		}
	}
}

// settleSideBySide moves the two players onto adjacent whole tiles: the
// first to its free neighbour closest to the second, the second next to that.
func (s *Simulation) settleSideBySide(p1, p2 *agents.Player, now float64) {
	neighbors := func(p geom.Point) []geom.Point {
		out := make([]geom.Point, 0, 4)
		for _, d := range geom.Cardinals {
			out = append(out, geom.Point{X: p.X + d.DX, Y: p.Y + d.DY})
		}
		return out
	}
	free := func(pts []geom.Point, self agents.PlayerID, toward geom.Point) []geom.Point {
		var out []geom.Point
		others := s.World.OtherPositions(self)
		for _, pt := range pts {
			if s.finder.Blocked(s.Map, pt, others) == pathfind.Free {
				out = append(out, pt)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return geom.Distance(out[i], toward) < geom.Distance(out[j], toward)
		})
		return out
	}

	floor1 := geom.Point{X: math.Floor(p1.Position.X), Y: math.Floor(p1.Position.Y)}
	c1 := free(neighbors(floor1), p1.ID, p2.Position)
	if len(c1) == 0 {
		return
	}
	c2 := free(neighbors(c1[0]), p2.ID, p2.Position)
	if len(c2) == 0 {
		return
	}
	if err := s.movePlayer(p1, now, c1[0], true); err != nil {
		slog.Debug("settle failed", "world", s.WorldID, "player", p1.ID, "error", err)
	}
	if err := s.movePlayer(p2, now, c2[0], true); err != nil {
		slog.Debug("settle failed", "world", s.WorldID, "player", p2.ID, "error", err)
	}
}
