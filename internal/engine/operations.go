package engine

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/mini-town/internal/agents"
)

// Operation is long-running work executed out of process. The simulation
// starts one by recording it on an entity and collecting it for dispatch
// after the step commits; the result comes back as an ordinary input.
type Operation interface {
	OperationName() string
	ID() agents.OperationID
	isOperation()
}

// Operation names.
const (
	OpAgentDoSomething          = "agentDoSomething"
	OpAgentRememberConversation = "agentRememberConversation"
	OpAgentGenerateMessage      = "agentGenerateMessage"
	OpPlayerAgentDoSomething    = "playerAgentDoSomething"
)

// MessageKind selects the prompt used to generate an agent's message.
type MessageKind string

const (
	MessageStart    MessageKind = "start"
	MessageContinue MessageKind = "continue"
	MessageLeave    MessageKind = "leave"
)

// AgentDoSomething asks the worker what an idle agent should do next.
type AgentDoSomething struct {
	OperationID      agents.OperationID `json:"operation_id"`
	AgentID          agents.AgentID     `json:"agent_id"`
	Player           agents.Player      `json:"player"`
	Agent            agents.Agent       `json:"agent"`
	OtherFreePlayers []agents.Player    `json:"other_free_players"`
	MapWidth         int                `json:"map_width"`
	MapHeight        int                `json:"map_height"`
	Now              float64            `json:"now"`
}

// AgentRememberConversation asks the worker to summarize a finished conversation.
type AgentRememberConversation struct {
	OperationID    agents.OperationID    `json:"operation_id"`
	AgentID        agents.AgentID        `json:"agent_id"`
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
	Now            float64               `json:"now"`
}

// AgentGenerateMessage asks the worker to write the agent's next line.
type AgentGenerateMessage struct {
	OperationID    agents.OperationID    `json:"operation_id"`
	AgentID        agents.AgentID        `json:"agent_id"`
	PlayerID       agents.PlayerID       `json:"player_id"`
	OtherPlayerID  agents.PlayerID       `json:"other_player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
	Kind           MessageKind           `json:"kind"`
	MessageUUID    string                `json:"message_uuid"`
	Now            float64               `json:"now"`
}

// PlayerAgentDoSomething asks the worker what a stand-in should do next.
type PlayerAgentDoSomething struct {
	OperationID agents.OperationID `json:"operation_id"`
	PlayerID    agents.PlayerID    `json:"player_id"`
	Player      agents.Player      `json:"player"`
	MapWidth    int                `json:"map_width"`
	MapHeight   int                `json:"map_height"`
	Now         float64            `json:"now"`
}

func (AgentDoSomething) OperationName() string          { return OpAgentDoSomething }
func (AgentRememberConversation) OperationName() string { return OpAgentRememberConversation }
func (AgentGenerateMessage) OperationName() string      { return OpAgentGenerateMessage }
func (PlayerAgentDoSomething) OperationName() string    { return OpPlayerAgentDoSomething }

func (o AgentDoSomething) ID() agents.OperationID          { return o.OperationID }
func (o AgentRememberConversation) ID() agents.OperationID { return o.OperationID }
func (o AgentGenerateMessage) ID() agents.OperationID      { return o.OperationID }
func (o PlayerAgentDoSomething) ID() agents.OperationID    { return o.OperationID }

func (AgentDoSomething) isOperation()          {}
func (AgentRememberConversation) isOperation() {}
func (AgentGenerateMessage) isOperation()      {}
func (PlayerAgentDoSomething) isOperation()    {}

// EncodeOperation produces the stored representation of an operation.
func EncodeOperation(op Operation) (string, json.RawMessage, error) {
	args, err := json.Marshal(op)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", op.OperationName(), err)
	}
	return op.OperationName(), args, nil
}

// DecodeOperation parses a stored operation.
func DecodeOperation(name string, args json.RawMessage) (Operation, error) {
	switch name {
	case OpAgentDoSomething:
		return decodeOp[AgentDoSomething](name, args)
	case OpAgentRememberConversation:
		return decodeOp[AgentRememberConversation](name, args)
	case OpAgentGenerateMessage:
		return decodeOp[AgentGenerateMessage](name, args)
	case OpPlayerAgentDoSomething:
		return decodeOp[PlayerAgentDoSomething](name, args)
	default:
		return nil, fmt.Errorf("unknown operation %q", name)
	}
}

func decodeOp[T Operation](name string, args json.RawMessage) (Operation, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}
