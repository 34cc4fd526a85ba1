package engine

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
)

// Input is a queued command applied within a single tick. The set of inputs
// is closed: every kind is declared in this file and dispatched in applyInput.
type Input interface {
	InputName() string
	isInput()
}

// Input names as stored in the queue.
const (
	InputJoin                         = "join"
	InputLeave                        = "leave"
	InputMoveTo                       = "moveTo"
	InputStartConversation            = "startConversation"
	InputAcceptInvite                 = "acceptInvite"
	InputRejectInvite                 = "rejectInvite"
	InputLeaveConversation            = "leaveConversation"
	InputStartTyping                  = "startTyping"
	InputFinishSendingMessage         = "finishSendingMessage"
	InputCreateAgent                  = "createAgent"
	InputSetWorking                   = "setWorking"
	InputFinishDoSomething            = "finishDoSomething"
	InputFinishRememberConversation   = "finishRememberConversation"
	InputAgentFinishSendingMessage    = "agentFinishSendingMessage"
	InputPlayerAgentFinishDoSomething = "playerAgentFinishDoSomething"
)

// Join adds a human-controlled player.
type Join struct {
	Name            string `json:"name"`
	Character       string `json:"character"`
	Description     string `json:"description"`
	TokenIdentifier string `json:"token_identifier"`
}

// Leave removes a player from the world.
type Leave struct {
	PlayerID agents.PlayerID `json:"player_id"`
}

// MoveTo starts pathing toward a whole tile, or stops when Destination is nil.
type MoveTo struct {
	PlayerID    agents.PlayerID `json:"player_id"`
	Destination *geom.Point     `json:"destination"`
}

// StartConversation invites another player.
type StartConversation struct {
	PlayerID  agents.PlayerID `json:"player_id"`
	InviteeID agents.PlayerID `json:"invitee_id"`
}

// AcceptInvite accepts a pending invitation.
type AcceptInvite struct {
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
}

// RejectInvite rejects a pending invitation, ending the conversation.
type RejectInvite struct {
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
}

// LeaveConversation ends a conversation the player belongs to.
type LeaveConversation struct {
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
}

// StartTyping grabs the conversation's typing lock.
type StartTyping struct {
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
	MessageUUID    string                `json:"message_uuid"`
}

// FinishSendingMessage records a human's message.
type FinishSendingMessage struct {
	PlayerID       agents.PlayerID       `json:"player_id"`
	ConversationID agents.ConversationID `json:"conversation_id"`
	Timestamp      float64               `json:"timestamp"`
	MessageUUID    string                `json:"message_uuid"`
}

// CreateAgent adds an agent-driven player.
type CreateAgent struct {
	Name        string `json:"name"`
	Character   string `json:"character"`
	Description string `json:"description"`
	Identity    string `json:"identity"`
	Plan        string `json:"plan"`
}

// SetWorking hands a human's player to a PlayerAgent, or takes it back.
type SetWorking struct {
	PlayerID agents.PlayerID `json:"player_id"`
	Working  bool            `json:"working"`
}

// FinishDoSomething reports an agent's decision. At most one of the three
// outcomes is normally set.
type FinishDoSomething struct {
	OperationID agents.OperationID `json:"operation_id"`
	AgentID     agents.AgentID     `json:"agent_id"`
	Destination *geom.Point        `json:"destination,omitempty"`
	Invitee     *agents.PlayerID   `json:"invitee,omitempty"`
	Activity    *agents.Activity   `json:"activity,omitempty"`
}

// FinishRememberConversation reports that a memory was written.
type FinishRememberConversation struct {
	OperationID agents.OperationID `json:"operation_id"`
	AgentID     agents.AgentID     `json:"agent_id"`
}

// AgentFinishSendingMessage reports that an agent's message was stored.
type AgentFinishSendingMessage struct {
	OperationID       agents.OperationID    `json:"operation_id"`
	AgentID           agents.AgentID        `json:"agent_id"`
	ConversationID    agents.ConversationID `json:"conversation_id"`
	Timestamp         float64               `json:"timestamp"`
	MessageUUID       string                `json:"message_uuid"`
	LeaveConversation bool                  `json:"leave_conversation"`
}

// PlayerAgentFinishDoSomething reports a stand-in's decision.
type PlayerAgentFinishDoSomething struct {
	OperationID agents.OperationID `json:"operation_id"`
	PlayerID    agents.PlayerID    `json:"player_id"`
	Destination *geom.Point        `json:"destination,omitempty"`
	Activity    *agents.Activity   `json:"activity,omitempty"`
}

func (Join) InputName() string                         { return InputJoin }
func (Leave) InputName() string                        { return InputLeave }
func (MoveTo) InputName() string                       { return InputMoveTo }
func (StartConversation) InputName() string            { return InputStartConversation }
func (AcceptInvite) InputName() string                 { return InputAcceptInvite }
func (RejectInvite) InputName() string                 { return InputRejectInvite }
func (LeaveConversation) InputName() string            { return InputLeaveConversation }
func (StartTyping) InputName() string                  { return InputStartTyping }
func (FinishSendingMessage) InputName() string         { return InputFinishSendingMessage }
func (CreateAgent) InputName() string                  { return InputCreateAgent }
func (SetWorking) InputName() string                   { return InputSetWorking }
func (FinishDoSomething) InputName() string            { return InputFinishDoSomething }
func (FinishRememberConversation) InputName() string   { return InputFinishRememberConversation }
func (AgentFinishSendingMessage) InputName() string    { return InputAgentFinishSendingMessage }
func (PlayerAgentFinishDoSomething) InputName() string { return InputPlayerAgentFinishDoSomething }

func (Join) isInput()                         {}
func (Leave) isInput()                        {}
func (MoveTo) isInput()                       {}
func (StartConversation) isInput()            {}
func (AcceptInvite) isInput()                 {}
func (RejectInvite) isInput()                 {}
func (LeaveConversation) isInput()            {}
func (StartTyping) isInput()                  {}
func (FinishSendingMessage) isInput()         {}
func (CreateAgent) isInput()                  {}
func (SetWorking) isInput()                   {}
func (FinishDoSomething) isInput()            {}
func (FinishRememberConversation) isInput()   {}
func (AgentFinishSendingMessage) isInput()    {}
func (PlayerAgentFinishDoSomething) isInput() {}

// EncodeInput produces the queue representation of an input.
func EncodeInput(in Input) (string, json.RawMessage, error) {
	args, err := json.Marshal(in)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", in.InputName(), err)
	}
	return in.InputName(), args, nil
}

// DecodeInput parses a queued {name, args} record.
func DecodeInput(name string, args json.RawMessage) (Input, error) {
	switch name {
	case InputJoin:
		return decodeAs[Join](name, args)
	case InputLeave:
		return decodeAs[Leave](name, args)
	case InputMoveTo:
		return decodeAs[MoveTo](name, args)
	case InputStartConversation:
		return decodeAs[StartConversation](name, args)
	case InputAcceptInvite:
		return decodeAs[AcceptInvite](name, args)
	case InputRejectInvite:
		return decodeAs[RejectInvite](name, args)
	case InputLeaveConversation:
		return decodeAs[LeaveConversation](name, args)
	case InputStartTyping:
		return decodeAs[StartTyping](name, args)
	case InputFinishSendingMessage:
		return decodeAs[FinishSendingMessage](name, args)
	case InputCreateAgent:
		return decodeAs[CreateAgent](name, args)
	case InputSetWorking:
		return decodeAs[SetWorking](name, args)
	case InputFinishDoSomething:
		return decodeAs[FinishDoSomething](name, args)
	case InputFinishRememberConversation:
		return decodeAs[FinishRememberConversation](name, args)
	case InputAgentFinishSendingMessage:
		return decodeAs[AgentFinishSendingMessage](name, args)
	case InputPlayerAgentFinishDoSomething:
		return decodeAs[PlayerAgentFinishDoSomething](name, args)
	default:
		return nil, fmt.Errorf("unknown input %q", name)
	}
}

func decodeAs[T Input](name string, args json.RawMessage) (Input, error) {
	var v T
	if len(args) > 0 {
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return v, nil
}

// QueuedInput is one record of the input log.
type QueuedInput struct {
	Number   int64           `json:"number" db:"number"`
	Name     string          `json:"name" db:"name"`
	Args     json.RawMessage `json:"args" db:"args"`
	Received float64         `json:"received" db:"received"` // wall-clock ms
}

// InputResult is the recorded outcome of one input.
type InputResult struct {
	Number int64  `json:"number"`
	Value  any    `json:"value,omitempty"`
	Err    string `json:"error,omitempty"`
}

// OK reports whether the input succeeded.
func (r InputResult) OK() bool {
	return r.Err == ""
}
