package engine

import (
	"sort"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/social"
)

// World owns every live entity of one town. Entities refer to each other
// only by id; all lookups go through these maps.
type World struct {
	NextID        uint64
	Players       map[agents.PlayerID]*agents.Player
	Agents        map[agents.AgentID]*agents.Agent
	PlayerAgents  map[agents.PlayerID]*agents.PlayerAgent
	Conversations map[agents.ConversationID]*social.Conversation
}

// Snapshot is the serialized form of a World plus the step's random source.
// Collections are slices sorted by id so encoding is stable.
type Snapshot struct {
	NextID        uint64                 `json:"next_id"`
	Players       []*agents.Player       `json:"players"`
	Agents        []*agents.Agent        `json:"agents"`
	PlayerAgents  []*agents.PlayerAgent  `json:"player_agents"`
	Conversations []*social.Conversation `json:"conversations"`
	Entropy       []byte                 `json:"entropy"`
}

// NewWorld returns an empty world. Ids start at 1.
func NewWorld() *World {
	return &World{
		NextID:        1,
		Players:       make(map[agents.PlayerID]*agents.Player),
		Agents:        make(map[agents.AgentID]*agents.Agent),
		PlayerAgents:  make(map[agents.PlayerID]*agents.PlayerAgent),
		Conversations: make(map[agents.ConversationID]*social.Conversation),
	}
}

// WorldFromSnapshot rebuilds a world. The snapshot's entities are adopted, not copied.
func WorldFromSnapshot(s *Snapshot) *World {
	w := NewWorld()
	if s == nil {
		return w
	}
	if s.NextID > w.NextID {
		w.NextID = s.NextID
	}
	for _, p := range s.Players {
		w.Players[p.ID] = p
	}
	for _, a := range s.Agents {
		w.Agents[a.ID] = a
	}
	for _, pa := range s.PlayerAgents {
		w.PlayerAgents[pa.PlayerID] = pa
	}
	for _, c := range s.Conversations {
		w.Conversations[c.ID] = c
	}
	return w
}

// Snapshot serializes the world. Entropy is filled in by the caller.
func (w *World) Snapshot() *Snapshot {
	return &Snapshot{
		NextID:        w.NextID,
		Players:       w.SortedPlayers(),
		Agents:        w.SortedAgents(),
		PlayerAgents:  w.SortedPlayerAgents(),
		Conversations: w.SortedConversations(),
	}
}

// allocID hands out the next identifier. One counter serves every kind.
func (w *World) allocID() uint64 {
	id := w.NextID
	w.NextID++
	return id
}

// SortedPlayers returns players in id order. Every per-tick loop iterates
// in this order so a step is deterministic.
func (w *World) SortedPlayers() []*agents.Player {
	out := make([]*agents.Player, 0, len(w.Players))
	for _, p := range w.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedAgents returns agents in id order.
func (w *World) SortedAgents() []*agents.Agent {
	out := make([]*agents.Agent, 0, len(w.Agents))
	for _, a := range w.Agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedPlayerAgents returns player agents in player id order.
func (w *World) SortedPlayerAgents() []*agents.PlayerAgent {
	out := make([]*agents.PlayerAgent, 0, len(w.PlayerAgents))
	for _, pa := range w.PlayerAgents {
		out = append(out, pa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// SortedConversations returns conversations in id order.
func (w *World) SortedConversations() []*social.Conversation {
	out := make([]*social.Conversation, 0, len(w.Conversations))
	for _, c := range w.Conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PlayerConversation returns the conversation a player belongs to, if any.
func (w *World) PlayerConversation(id agents.PlayerID) *social.Conversation {
	for _, c := range w.SortedConversations() {
		if c.Has(id) {
			return c
		}
	}
	return nil
}

// AgentForPlayer returns the agent driving a player, if any.
func (w *World) AgentForPlayer(id agents.PlayerID) *agents.Agent {
	for _, a := range w.SortedAgents() {
		if a.PlayerID == id {
			return a
		}
	}
	return nil
}

// OtherPositions returns every player's position except the given one.
func (w *World) OtherPositions(except agents.PlayerID) []geom.Point {
	out := make([]geom.Point, 0, len(w.Players))
	for _, p := range w.SortedPlayers() {
		if p.ID != except {
			out = append(out, p.Position)
		}
	}
	return out
}

// CheckMembership verifies that no player sits in two conversations and
// that every member refers to a live player. Returns the offending player ids.
func (w *World) CheckMembership() []agents.PlayerID {
	seen := make(map[agents.PlayerID]bool)
	var bad []agents.PlayerID
	for _, c := range w.SortedConversations() {
		for _, m := range c.Members {
			if seen[m.PlayerID] || w.Players[m.PlayerID] == nil {
				bad = append(bad, m.PlayerID)
			}
			seen[m.PlayerID] = true
		}
	}
	return bad
}
