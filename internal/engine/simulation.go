package engine

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/google/uuid"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/entropy"
	"github.com/talgya/mini-town/internal/historical"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/social"
	"github.com/talgya/mini-town/internal/world"
)

// Loaded is everything a step starts from.
type Loaded struct {
	WorldID            string
	Engine             EngineState
	Snapshot           *Snapshot
	Map                *world.Map
	PlayerDescriptions []agents.PlayerDescription
	AgentDescriptions  []agents.AgentDescription
}

// Simulation is the mutable state of one world for the duration of one step.
// It is built from persisted state, advanced tick by tick, then discarded
// once its diff is taken.
type Simulation struct {
	WorldID string
	World   *World
	Map     *world.Map

	PlayerDescriptions   map[agents.PlayerID]*agents.PlayerDescription
	AgentDescriptions    map[agents.AgentID]*agents.AgentDescription
	DescriptionsModified bool

	cfg    Config
	finder *pathfind.Finder
	rng    *entropy.Source

	operations   []Operation
	histories    map[agents.PlayerID]*historical.Object
	numPathfinds int
	archive      Archive
}

// Archive collects entities removed during the step.
type Archive struct {
	Players       []ArchivedPlayer       `json:"players,omitempty"`
	Agents        []ArchivedAgent        `json:"agents,omitempty"`
	Conversations []ArchivedConversation `json:"conversations,omitempty"`
}

// Empty reports whether nothing was removed.
func (a Archive) Empty() bool {
	return len(a.Players) == 0 && len(a.Agents) == 0 && len(a.Conversations) == 0
}

// ArchivedPlayer is a player who left.
type ArchivedPlayer struct {
	Player agents.Player `json:"player"`
	Ended  float64       `json:"ended"`
}

// ArchivedAgent is an agent whose player left.
type ArchivedAgent struct {
	Agent agents.Agent `json:"agent"`
	Ended float64      `json:"ended"`
}

// ArchivedConversation is a finished conversation.
type ArchivedConversation struct {
	ID           agents.ConversationID `json:"id"`
	Creator      agents.PlayerID       `json:"creator"`
	Created      float64               `json:"created"`
	Ended        float64               `json:"ended"`
	NumMessages  int                   `json:"num_messages"`
	Participants []agents.PlayerID     `json:"participants"`
}

// NewSimulation builds a step's simulation from loaded state. The snapshot is
// deep-copied, so a failed step leaves the caller's copy untouched. The finder
// is shared across steps of the same world for its caches.
func NewSimulation(cfg Config, l *Loaded, finder *pathfind.Finder) (*Simulation, error) {
	if l.Map == nil {
		return nil, fmt.Errorf("world %s has no map", l.WorldID)
	}
	snap, err := cloneSnapshot(l.Snapshot)
	if err != nil {
		return nil, err
	}
	rng, err := entropy.Restore(snap.Entropy)
	if err != nil {
		return nil, err
	}
	if finder == nil {
		finder = pathfind.New(cfg.Pathfinding)
	}

	s := &Simulation{
		WorldID:            l.WorldID,
		World:              WorldFromSnapshot(snap),
		Map:                l.Map,
		PlayerDescriptions: make(map[agents.PlayerID]*agents.PlayerDescription, len(l.PlayerDescriptions)),
		AgentDescriptions:  make(map[agents.AgentID]*agents.AgentDescription, len(l.AgentDescriptions)),
		cfg:                cfg,
		finder:             finder,
		rng:                rng,
		histories:          make(map[agents.PlayerID]*historical.Object),
	}
	for i := range l.PlayerDescriptions {
		d := l.PlayerDescriptions[i]
		s.PlayerDescriptions[d.PlayerID] = &d
	}
	for i := range l.AgentDescriptions {
		d := l.AgentDescriptions[i]
		s.AgentDescriptions[d.AgentID] = &d
	}
	return s, nil
}

// Tick advances every entity by one tick at time now.
func (s *Simulation) Tick(now float64) {
	for _, p := range s.World.SortedPlayers() {
		s.guard("player", p.ID.String(), func() { s.tickPlayer(p, now) })
	}
	for _, p := range s.World.SortedPlayers() {
		s.guard("pathfinding", p.ID.String(), func() { s.tickPathfinding(p, now) })
	}
	for _, p := range s.World.SortedPlayers() {
		s.guard("position", p.ID.String(), func() { s.tickPosition(p, now) })
	}
	for _, c := range s.World.SortedConversations() {
		s.guard("conversation", c.ID.String(), func() { s.tickConversation(c, now) })
	}
	for _, a := range s.World.SortedAgents() {
		s.guard("agent", a.ID.String(), func() { s.tickAgent(a, now) })
	}
	for _, pa := range s.World.SortedPlayerAgents() {
		s.guard("playerAgent", pa.PlayerID.String(), func() { s.tickPlayerAgent(pa, now) })
	}
	s.recordHistory(now)
}

// guard runs one entity's tick, containing a panic to that entity.
func (s *Simulation) guard(kind, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick failed", "world", s.WorldID, "kind", kind, "id", id,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// scheduleOperation allocates an operation id and queues the operation for
// dispatch after commit.
func (s *Simulation) scheduleOperation(build func(id agents.OperationID) Operation) Operation {
	id := agents.OperationID(s.World.allocID())
	op := build(id)
	s.operations = append(s.operations, op)
	return op
}

// newMessageUUID derives a message id from the world's random source.
func (s *Simulation) newMessageUUID() string {
	id, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		// The entropy reader never fails.
		panic(err)
	}
	return id.String()
}

// stopConversation removes a conversation, points each participating agent
// at it for remembering, and archives it.
func (s *Simulation) stopConversation(c *social.Conversation, now float64) {
	c.IsTyping = nil
	participants := make([]agents.PlayerID, 0, len(c.Members))
	for _, m := range c.Members {
		participants = append(participants, m.PlayerID)
		if a := s.World.AgentForPlayer(m.PlayerID); a != nil {
			t := now
			a.LastConversation = &t
			if c.NumMessages > 0 {
				id := c.ID
				a.ToRemember = &id
			}
		}
	}
	delete(s.World.Conversations, c.ID)
	s.archive.Conversations = append(s.archive.Conversations, ArchivedConversation{
		ID:           c.ID,
		Creator:      c.Creator,
		Created:      c.Created,
		Ended:        now,
		NumMessages:  c.NumMessages,
		Participants: participants,
	})
}

// removePlayer takes a player out of the world along with its conversation,
// agent and stand-in.
func (s *Simulation) removePlayer(p *agents.Player, now float64) {
	if c := s.World.PlayerConversation(p.ID); c != nil {
		s.stopConversation(c, now)
	}
	if a := s.World.AgentForPlayer(p.ID); a != nil {
		delete(s.World.Agents, a.ID)
		s.archive.Agents = append(s.archive.Agents, ArchivedAgent{Agent: *a, Ended: now})
	}
	delete(s.World.PlayerAgents, p.ID)
	delete(s.World.Players, p.ID)
	s.archive.Players = append(s.archive.Players, ArchivedPlayer{Player: *p, Ended: now})
}

// freePlayers returns every player not in a conversation, except one.
func (s *Simulation) freePlayers(except agents.PlayerID) []agents.Player {
	var out []agents.Player
	for _, p := range s.World.SortedPlayers() {
		if p.ID == except || s.World.PlayerConversation(p.ID) != nil {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Operations returns the operations scheduled so far, in order.
func (s *Simulation) Operations() []Operation {
	return s.operations
}

// PendingArchive returns the entities removed so far this step.
func (s *Simulation) PendingArchive() Archive {
	return s.archive
}

// Stats summarizes the world for status endpoints.
type Stats struct {
	Players       int `json:"players"`
	Humans        int `json:"humans"`
	Agents        int `json:"agents"`
	Conversations int `json:"conversations"`
	Moving        int `json:"moving"`
}

// Stats counts the world's entities.
func (s *Simulation) Stats() Stats {
	st := Stats{
		Players:       len(s.World.Players),
		Agents:        len(s.World.Agents),
		Conversations: len(s.World.Conversations),
	}
	for _, p := range s.World.Players {
		if p.IsHuman() {
			st.Humans++
		}
		if p.Pathfinding != nil {
			st.Moving++
		}
	}
	return st
}

// sortedPlayerDescriptions returns descriptions in player id order.
func (s *Simulation) sortedPlayerDescriptions() []agents.PlayerDescription {
	out := make([]agents.PlayerDescription, 0, len(s.PlayerDescriptions))
	for _, d := range s.PlayerDescriptions {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// sortedAgentDescriptions returns descriptions in agent id order.
func (s *Simulation) sortedAgentDescriptions() []agents.AgentDescription {
	out := make([]agents.AgentDescription, 0, len(s.AgentDescriptions))
	for _, d := range s.AgentDescriptions {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
