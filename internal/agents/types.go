// Package agents provides the entity data model: players, the agents that drive them,
// in-flight operations and memories.
package agents

import (
	"fmt"

	"github.com/talgya/mini-town/internal/geom"
)

// PathStateKind is the phase of a pathfinding request.
type PathStateKind uint8

const (
	NeedsPath PathStateKind = iota // waiting for a route search
	Waiting                        // blocked, retry after Until
	Moving                         // following Path
)

func (k PathStateKind) String() string {
	switch k {
	case NeedsPath:
		return "needsPath"
	case Waiting:
		return "waiting"
	case Moving:
		return "moving"
	default:
		return "unknown"
	}
}

// PathState holds the state-specific data of a pathfinding request.
type PathState struct {
	Kind  PathStateKind `json:"kind"`
	Until float64       `json:"until,omitempty"` // Waiting only
	Path  geom.Path     `json:"path,omitempty"`  // Moving only
}

// Pathfinding is an in-progress movement request toward a whole tile.
type Pathfinding struct {
	Destination geom.Point `json:"destination"`
	Started     float64    `json:"started"`
	State       PathState  `json:"state"`
}

// Activity is a bounded-duration thing a player is visibly doing.
type Activity struct {
	Description string  `json:"description"`
	Emoji       string  `json:"emoji,omitempty"`
	Until       float64 `json:"until"`
}

// InProgressOperation correlates an entity with an operation running out of process.
type InProgressOperation struct {
	Name        string      `json:"name"`
	OperationID OperationID `json:"operation_id"`
	Started     float64     `json:"started"`
}

// Account carries balance-style fields the simulation stores but never interprets.
type Account struct {
	Tokens  int64 `json:"tokens"`
	Working bool  `json:"working"`
}

// Player is anything with a body on the map: a human's avatar or an agent's.
type Player struct {
	ID        PlayerID `json:"id"`
	Human     string   `json:"human,omitempty"` // external user token, empty for agents
	LastInput float64  `json:"last_input"`

	Position geom.Point  `json:"position"`
	Facing   geom.Vector `json:"facing"`
	Speed    float64     `json:"speed"` // derived each tick, tiles/s

	Pathfinding         *Pathfinding         `json:"pathfinding,omitempty"`
	Activity            *Activity            `json:"activity,omitempty"`
	InProgressOperation *InProgressOperation `json:"in_progress_operation,omitempty"`

	Account Account `json:"account"`
}

// IsHuman reports whether a human controls this player.
func (p *Player) IsHuman() bool {
	return p.Human != ""
}

// StartOperation marks an operation as in flight. Starting a second one while
// one is pending is a programming error and panics.
func (p *Player) StartOperation(name string, id OperationID, now float64) {
	startOperation(&p.InProgressOperation, p.ID.String(), name, id, now)
}

// FinishOperation clears the in-flight operation if id matches. Returns false
// for stale or unknown completions.
func (p *Player) FinishOperation(id OperationID) bool {
	return finishOperation(&p.InProgressOperation, id)
}

// Agent is the autonomous mind that drives one player.
type Agent struct {
	ID       AgentID  `json:"id"`
	PlayerID PlayerID `json:"player_id"`

	ToRemember        *ConversationID `json:"to_remember,omitempty"`
	LastConversation  *float64        `json:"last_conversation,omitempty"`
	LastInviteAttempt *float64        `json:"last_invite_attempt,omitempty"`

	InProgressOperation *InProgressOperation `json:"in_progress_operation,omitempty"`
}

// StartOperation marks an operation as in flight; panics if one is pending.
func (a *Agent) StartOperation(name string, id OperationID, now float64) {
	startOperation(&a.InProgressOperation, a.ID.String(), name, id, now)
}

// FinishOperation clears the in-flight operation if id matches.
func (a *Agent) FinishOperation(id OperationID) bool {
	return finishOperation(&a.InProgressOperation, id)
}

// PlayerAgent stands in for a human who has stepped away: it keeps the player
// out of conversations and wanders. Its operations live on the Player.
type PlayerAgent struct {
	PlayerID PlayerID `json:"player_id"`
	Started  float64  `json:"started"`
}

func startOperation(slot **InProgressOperation, owner, name string, id OperationID, now float64) {
	if *slot != nil {
		panic(fmt.Sprintf("%s already has operation %s (%s) in progress, cannot start %s",
			owner, (*slot).Name, (*slot).OperationID, name))
	}
	*slot = &InProgressOperation{Name: name, OperationID: id, Started: now}
}

func finishOperation(slot **InProgressOperation, id OperationID) bool {
	if *slot == nil || (*slot).OperationID != id {
		return false
	}
	*slot = nil
	return true
}

// PlayerDescription is the display metadata for a player.
type PlayerDescription struct {
	PlayerID    PlayerID `json:"player_id" db:"player_id"`
	Name        string   `json:"name" db:"name"`
	Character   string   `json:"character" db:"character"` // sprite key
	Description string   `json:"description" db:"description"`
}

// AgentDescription holds the text that shapes an agent's decisions.
type AgentDescription struct {
	AgentID  AgentID `json:"agent_id" db:"agent_id"`
	Identity string  `json:"identity" db:"identity"`
	Plan     string  `json:"plan" db:"plan"`
}
