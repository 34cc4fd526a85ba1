package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/historical"
	"github.com/talgya/mini-town/internal/metrics"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/social"
)

var (
	ErrAlreadyJoined  = errors.New("you are already in this game")
	ErrTooManyHumans  = errors.New("too many human players")
	ErrNoFreePosition = errors.New("failed to find a free position")
)

// joinAttempts bounds the random search for a starting tile.
const joinAttempts = 10

// join places a new player on a random free tile. A non-empty human token
// marks the player as human-controlled.
func (s *Simulation) join(now float64, name, character, description, human string) (agents.PlayerID, error) {
	if human != "" {
		humans := 0
		for _, p := range s.World.SortedPlayers() {
			if p.Human == human {
				return 0, ErrAlreadyJoined
			}
			if p.IsHuman() {
				humans++
			}
		}
		if humans >= s.cfg.MaxHumanPlayers {
			return 0, fmt.Errorf("only %d allowed at once: %w", s.cfg.MaxHumanPlayers, ErrTooManyHumans)
		}
	}

	var (
		position geom.Point
		found    bool
	)
	occupied := s.World.OtherPositions(0)
	for attempt := 0; attempt < joinAttempts; attempt++ {
		candidate := geom.Point{
			X: float64(s.rng.IntN(s.Map.Width)),
			Y: float64(s.rng.IntN(s.Map.Height)),
		}
		if s.finder.Blocked(s.Map, candidate, occupied) != pathfind.Free {
			continue
		}
		position, found = candidate, true
		break
	}
	if !found {
		return 0, ErrNoFreePosition
	}
	facing := geom.Cardinals[s.rng.IntN(len(geom.Cardinals))]

	id := agents.PlayerID(s.World.allocID())
	s.World.Players[id] = &agents.Player{
		ID:        id,
		Human:     human,
		LastInput: now,
		Position:  position,
		Facing:    facing,
	}
	s.PlayerDescriptions[id] = &agents.PlayerDescription{
		PlayerID:    id,
		Name:        name,
		Character:   character,
		Description: description,
	}
	s.DescriptionsModified = true
	slog.Info("player joined", "world", s.WorldID, "player", id, "name", name, "human", human != "")
	return id, nil
}

// createAgent joins a player and attaches a new agent to it.
func (s *Simulation) createAgent(now float64, in CreateAgent) (agents.AgentID, error) {
	playerID, err := s.join(now, in.Name, in.Character, in.Description, "")
	if err != nil {
		return 0, err
	}
	id := agents.AgentID(s.World.allocID())
	s.World.Agents[id] = &agents.Agent{ID: id, PlayerID: playerID}
	s.AgentDescriptions[id] = &agents.AgentDescription{AgentID: id, Identity: in.Identity, Plan: in.Plan}
	s.DescriptionsModified = true
	return id, nil
}

// tickPlayer removes humans who have gone quiet. Players handed to a
// stand-in are exempt.
func (s *Simulation) tickPlayer(p *agents.Player, now float64) {
	if !p.IsHuman() || s.World.PlayerAgents[p.ID] != nil {
		return
	}
	if p.LastInput < now-ms(s.cfg.HumanIdleTooLong) {
		slog.Info("removing idle human", "world", s.WorldID, "player", p.ID)
		s.removePlayer(p, now)
	}
}

// tickPlayerAgent keeps a stand-in player out of conversations and asks the
// worker for something to do whenever it is idle.
func (s *Simulation) tickPlayerAgent(pa *agents.PlayerAgent, now float64) {
	p := s.World.Players[pa.PlayerID]
	if p == nil {
		delete(s.World.PlayerAgents, pa.PlayerID)
		return
	}

	if op := p.InProgressOperation; op != nil {
		if now < op.Started+ms(s.cfg.OperationTimeout) {
			return
		}
		slog.Info("operation timed out", "world", s.WorldID, "player", p.ID, "operation", op.Name, "id", op.OperationID)
		metrics.OperationTimeouts.Inc()
		p.InProgressOperation = nil
	}

	if c := s.World.PlayerConversation(p.ID); c != nil {
		if m := c.Member(p.ID); m != nil && m.Status.Kind == social.Invited {
			slog.Debug("stand-in rejecting invite", "world", s.WorldID, "player", p.ID, "conversation", c.ID)
		}
		s.stopConversation(c, now)
		return
	}

	doingActivity := p.Activity != nil && p.Activity.Until > now
	if doingActivity || p.Pathfinding != nil {
		return
	}
	op := s.scheduleOperation(func(id agents.OperationID) Operation {
		return PlayerAgentDoSomething{
			OperationID: id,
			PlayerID:    p.ID,
			Player:      *p,
			MapWidth:    s.Map.Width,
			MapHeight:   s.Map.Height,
			Now:         now,
		}
	})
	p.StartOperation(op.OperationName(), op.ID(), now)
}

// setWorking hands a human's player to a stand-in or takes it back.
func (s *Simulation) setWorking(p *agents.Player, working bool, now float64) {
	p.Account.Working = working
	if working {
		if s.World.PlayerAgents[p.ID] == nil {
			s.World.PlayerAgents[p.ID] = &agents.PlayerAgent{PlayerID: p.ID, Started: now}
		}
		return
	}
	delete(s.World.PlayerAgents, p.ID)
	p.InProgressOperation = nil
}

// historyValues extracts the tracked fields in historical.PlayerFields order.
func historyValues(p *agents.Player) []float64 {
	return []float64{p.Position.X, p.Position.Y, p.Facing.DX, p.Facing.DY, p.Speed}
}

// recordHistory appends every player's state to this step's histories.
func (s *Simulation) recordHistory(now float64) {
	for _, p := range s.World.SortedPlayers() {
		h := s.histories[p.ID]
		if h == nil {
			var err error
			h, err = historical.New(historical.PlayerFields, historyValues(p), now)
			if err != nil {
				panic(err)
			}
			s.histories[p.ID] = h
			continue
		}
		h.Update(now, historyValues(p))
	}
}
