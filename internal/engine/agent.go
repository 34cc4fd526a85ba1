package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/metrics"
	"github.com/talgya/mini-town/internal/social"
)

// tickAgent runs one agent's decision loop. The first matching branch wins:
// wait on an in-flight operation, decide what to do when idle, remember a
// finished conversation, then drive the current conversation.
func (s *Simulation) tickAgent(a *agents.Agent, now float64) {
	p := s.World.Players[a.PlayerID]
	if p == nil {
		panic(fmt.Sprintf("agent %s references missing player %s", a.ID, a.PlayerID))
	}

	if op := a.InProgressOperation; op != nil {
		if now < op.Started+ms(s.cfg.OperationTimeout) {
			return
		}
		slog.Info("operation timed out", "world", s.WorldID, "agent", a.ID, "operation", op.Name, "id", op.OperationID)
		metrics.OperationTimeouts.Inc()
		a.InProgressOperation = nil
	}

	c := s.World.PlayerConversation(p.ID)
	recentlyAttemptedInvite := a.LastInviteAttempt != nil && now < *a.LastInviteAttempt+ms(s.cfg.ConversationCooldown)
	doingActivity := p.Activity != nil && p.Activity.Until > now
	if doingActivity && (c != nil || p.Pathfinding != nil) {
		p.Activity.Until = now
		doingActivity = false
	}

	// Idle, or wandering without having tried to find company for a while.
	if c == nil && !doingActivity && (p.Pathfinding == nil || !recentlyAttemptedInvite) {
		s.startAgentOperation(a, now, func(id agents.OperationID) Operation {
			return AgentDoSomething{
				OperationID:      id,
				AgentID:          a.ID,
				Player:           *p,
				Agent:            *a,
				OtherFreePlayers: s.freePlayers(p.ID),
				MapWidth:         s.Map.Width,
				MapHeight:        s.Map.Height,
				Now:              now,
			}
		})
		return
	}

	if a.ToRemember != nil {
		conversationID := *a.ToRemember
		slog.Debug("agent remembering conversation", "world", s.WorldID, "agent", a.ID, "conversation", conversationID)
		s.startAgentOperation(a, now, func(id agents.OperationID) Operation {
			return AgentRememberConversation{
				OperationID:    id,
				AgentID:        a.ID,
				PlayerID:       p.ID,
				ConversationID: conversationID,
				Now:            now,
			}
		})
		a.ToRemember = nil
		return
	}

	if c != nil {
		s.tickAgentConversation(a, p, c, now)
	}
}

func (s *Simulation) tickAgentConversation(a *agents.Agent, p *agents.Player, c *social.Conversation, now float64) {
	member := c.Member(p.ID)
	otherMember, ok := c.Other(p.ID)
	if member == nil || !ok {
		return
	}
	other := s.World.Players[otherMember.PlayerID]
	if other == nil {
		return
	}

	switch member.Status.Kind {
	case social.Invited:
		// Humans are always accepted; other agents only some of the time.
		if other.IsHuman() || s.rng.Chance(s.cfg.InviteAcceptProbability) {
			slog.Debug("agent accepting invite", "world", s.WorldID, "player", p.ID, "from", other.ID)
			if err := c.AcceptInvite(p.ID); err != nil {
				panic(err)
			}
			stopPlayer(p)
		} else {
			slog.Debug("agent rejecting invite", "world", s.WorldID, "player", p.ID, "from", other.ID)
			s.stopConversation(c, now)
		}

	case social.WalkingOver:
		if member.Invited+ms(s.cfg.InviteTimeout) < now {
			slog.Debug("giving up on invite", "world", s.WorldID, "player", p.ID, "other", other.ID)
			s.stopConversation(c, now)
			return
		}
		distance := geom.Distance(p.Position, other.Position)
		if distance < s.cfg.ConversationDistance || p.Pathfinding != nil {
			return
		}
		// Walk straight to a nearby partner; meet a distant one halfway.
		dest := other.Position.Floor()
		if distance >= s.cfg.MidpointThreshold {
			dest = geom.Midpoint(p.Position, other.Position)
		}
		if err := s.movePlayer(p, now, dest, false); err != nil {
			slog.Debug("agent can't walk over", "world", s.WorldID, "player", p.ID, "error", err)
		}

	case social.Participating:
		s.tickAgentParticipating(a, p, other, c, member, now)
	}
}

func (s *Simulation) tickAgentParticipating(a *agents.Agent, p, other *agents.Player, c *social.Conversation, member *social.Member, now float64) {
	started := member.Status.Started
	if c.IsTyping != nil && c.IsTyping.PlayerID != p.ID {
		return
	}

	if c.LastMessage == nil {
		isInitiator := c.Creator == p.ID
		if isInitiator || started+ms(s.cfg.AwkwardConversationTimeout) < now {
			s.generateMessage(a, p, other, c, MessageStart, now)
		}
		return
	}

	if started+ms(s.cfg.MaxConversationDuration) < now || c.NumMessages > s.cfg.MaxConversationMessages {
		s.generateMessage(a, p, other, c, MessageLeave, now)
		return
	}

	// Give the other side a chance to answer before speaking again.
	if c.LastMessage.Author == p.ID && now < c.LastMessage.Timestamp+ms(s.cfg.AwkwardConversationTimeout) {
		return
	}
	if now < c.LastMessage.Timestamp+ms(s.cfg.MessageCooldown) {
		return
	}
	s.generateMessage(a, p, other, c, MessageContinue, now)
}

// generateMessage grabs the typing lock and asks the worker for a line.
func (s *Simulation) generateMessage(a *agents.Agent, p, other *agents.Player, c *social.Conversation, kind MessageKind, now float64) {
	messageUUID := s.newMessageUUID()
	if err := c.SetIsTyping(now, p.ID, messageUUID); err != nil {
		panic(err)
	}
	slog.Debug("agent generating message", "world", s.WorldID, "player", p.ID, "other", other.ID, "kind", kind)
	s.startAgentOperation(a, now, func(id agents.OperationID) Operation {
		return AgentGenerateMessage{
			OperationID:    id,
			AgentID:        a.ID,
			PlayerID:       p.ID,
			OtherPlayerID:  other.ID,
			ConversationID: c.ID,
			Kind:           kind,
			MessageUUID:    messageUUID,
			Now:            now,
		}
	})
}

func (s *Simulation) startAgentOperation(a *agents.Agent, now float64, build func(id agents.OperationID) Operation) {
	if a.InProgressOperation != nil {
		panic(fmt.Sprintf("agent %s already has operation %s in progress", a.ID, a.InProgressOperation.Name))
	}
	op := s.scheduleOperation(build)
	a.StartOperation(op.OperationName(), op.ID(), now)
}
