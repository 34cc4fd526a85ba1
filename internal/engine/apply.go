package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/talgya/mini-town/internal/agents"
)

// applyInput dispatches one input. A panic inside a handler is converted to
// an error so one bad input never aborts the step.
func (s *Simulation) applyInput(now float64, in Input) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("input panicked", "world", s.WorldID, "input", in.InputName(),
				"panic", r, "stack", string(debug.Stack()))
			value, err = nil, fmt.Errorf("%s: %v", in.InputName(), r)
		}
	}()

	switch in := in.(type) {
	case Join:
		return s.join(now, in.Name, in.Character, in.Description, in.TokenIdentifier)

	case Leave:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		s.removePlayer(p, now)
		return nil, nil

	case MoveTo:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		if in.Destination == nil {
			stopPlayer(p)
			return nil, nil
		}
		return nil, s.movePlayer(p, now, *in.Destination, false)

	case StartConversation:
		if _, err := s.humanInput(in.PlayerID, now); err != nil {
			return nil, err
		}
		return s.startConversation(now, in.PlayerID, in.InviteeID)

	case AcceptInvite:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		c, err := s.memberConversation(in.ConversationID, p.ID)
		if err != nil {
			return nil, err
		}
		return nil, c.AcceptInvite(p.ID)

	case RejectInvite:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		c, err := s.memberConversation(in.ConversationID, p.ID)
		if err != nil {
			return nil, err
		}
		if err := c.CheckReject(p.ID); err != nil {
			return nil, err
		}
		s.stopConversation(c, now)
		return nil, nil

	case LeaveConversation:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		c, err := s.memberConversation(in.ConversationID, p.ID)
		if err != nil {
			return nil, err
		}
		return nil, s.leaveConversation(c, p.ID, now)

	case StartTyping:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		c, err := s.memberConversation(in.ConversationID, p.ID)
		if err != nil {
			return nil, err
		}
		return nil, c.SetIsTyping(now, p.ID, in.MessageUUID)

	case FinishSendingMessage:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		c, err := s.memberConversation(in.ConversationID, p.ID)
		if err != nil {
			return nil, err
		}
		return nil, c.FinishSendingMessage(p.ID, in.Timestamp, in.MessageUUID)

	case CreateAgent:
		return s.createAgent(now, in)

	case SetWorking:
		p, err := s.humanInput(in.PlayerID, now)
		if err != nil {
			return nil, err
		}
		if !p.IsHuman() {
			return nil, fmt.Errorf("player %s is not human-controlled", p.ID)
		}
		s.setWorking(p, in.Working, now)
		return nil, nil

	case FinishDoSomething:
		return nil, s.finishDoSomething(now, in)

	case FinishRememberConversation:
		a := s.World.Agents[in.AgentID]
		if a == nil {
			return nil, fmt.Errorf("invalid agent %s", in.AgentID)
		}
		if !a.FinishOperation(in.OperationID) {
			slog.Debug("stale completion ignored", "world", s.WorldID, "agent", a.ID, "operation", in.OperationID)
		}
		return nil, nil

	case AgentFinishSendingMessage:
		return nil, s.agentFinishSendingMessage(now, in)

	case PlayerAgentFinishDoSomething:
		p := s.World.Players[in.PlayerID]
		if p == nil {
			return nil, fmt.Errorf("invalid player %s", in.PlayerID)
		}
		if !p.FinishOperation(in.OperationID) {
			slog.Debug("stale completion ignored", "world", s.WorldID, "player", p.ID, "operation", in.OperationID)
			return nil, nil
		}
		if in.Destination != nil {
			if err := s.movePlayer(p, now, *in.Destination, false); err != nil {
				return nil, err
			}
		}
		if in.Activity != nil {
			act := *in.Activity
			p.Activity = &act
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unhandled input %T", in)
	}
}

// humanInput resolves the player an input acts on and records the activity
// so the player is not reaped as idle.
func (s *Simulation) humanInput(id agents.PlayerID, now float64) (*agents.Player, error) {
	p := s.World.Players[id]
	if p == nil {
		return nil, fmt.Errorf("invalid player %s", id)
	}
	p.LastInput = now
	return p, nil
}

func (s *Simulation) finishDoSomething(now float64, in FinishDoSomething) error {
	a := s.World.Agents[in.AgentID]
	if a == nil {
		return fmt.Errorf("invalid agent %s", in.AgentID)
	}
	if !a.FinishOperation(in.OperationID) {
		slog.Debug("stale completion ignored", "world", s.WorldID, "agent", a.ID, "operation", in.OperationID)
		return nil
	}
	p := s.World.Players[a.PlayerID]
	if p == nil {
		return fmt.Errorf("agent %s references missing player %s", a.ID, a.PlayerID)
	}

	if in.Invitee != nil {
		t := now
		a.LastInviteAttempt = &t
		if _, err := s.startConversation(now, p.ID, *in.Invitee); err != nil {
			slog.Debug("agent invite failed", "world", s.WorldID, "agent", a.ID, "invitee", *in.Invitee, "error", err)
		}
	}
	if in.Destination != nil {
		if err := s.movePlayer(p, now, *in.Destination, false); err != nil {
			return err
		}
	}
	if in.Activity != nil {
		act := *in.Activity
		p.Activity = &act
	}
	return nil
}

func (s *Simulation) agentFinishSendingMessage(now float64, in AgentFinishSendingMessage) error {
	a := s.World.Agents[in.AgentID]
	if a == nil {
		return fmt.Errorf("invalid agent %s", in.AgentID)
	}
	if !a.FinishOperation(in.OperationID) {
		slog.Debug("stale completion ignored", "world", s.WorldID, "agent", a.ID, "operation", in.OperationID)
		return nil
	}
	c := s.World.Conversations[in.ConversationID]
	if c == nil {
		// The conversation ended while the message was being written.
		slog.Debug("message for finished conversation", "world", s.WorldID, "agent", a.ID, "conversation", in.ConversationID)
		return nil
	}
	if err := c.FinishSendingMessage(a.PlayerID, in.Timestamp, in.MessageUUID); err != nil {
		return err
	}
	if in.LeaveConversation {
		return s.leaveConversation(c, a.PlayerID, now)
	}
	return nil
}
