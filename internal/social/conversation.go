// Package social provides conversations and their membership lifecycle.
// Behavior that needs the rest of the world (walking over, stopping,
// remembering) lives in the engine; this package keeps the membership rules.
package social

import (
	"errors"
	"fmt"

	"github.com/talgya/mini-town/internal/agents"
)

// MemberStatusKind is where a participant stands in a conversation.
type MemberStatusKind uint8

const (
	Invited       MemberStatusKind = iota // waiting to accept or reject
	WalkingOver                           // accepted, moving into range
	Participating                         // in range and talking
)

func (k MemberStatusKind) String() string {
	switch k {
	case Invited:
		return "invited"
	case WalkingOver:
		return "walkingOver"
	case Participating:
		return "participating"
	default:
		return "unknown"
	}
}

// MemberStatus is a participant's state plus when they entered it.
type MemberStatus struct {
	Kind    MemberStatusKind `json:"kind"`
	Started float64          `json:"started,omitempty"` // Participating only
}

// Member is one participant of a conversation.
type Member struct {
	PlayerID agents.PlayerID `json:"player_id"`
	Invited  float64         `json:"invited"`
	Status   MemberStatus    `json:"status"`
}

// TypingIndicator is the exclusive right to author the next message.
type TypingIndicator struct {
	PlayerID    agents.PlayerID `json:"player_id"`
	MessageUUID string          `json:"message_uuid"`
	Since       float64         `json:"since"`
}

// LastMessage records who spoke last and when.
type LastMessage struct {
	Author    agents.PlayerID `json:"author"`
	Timestamp float64         `json:"timestamp"`
}

// Conversation is a small group exchanging messages. Members are kept in
// the order they joined.
type Conversation struct {
	ID          agents.ConversationID `json:"id"`
	Creator     agents.PlayerID       `json:"creator"`
	Created     float64               `json:"created"`
	NumMessages int                   `json:"num_messages"`
	IsTyping    *TypingIndicator      `json:"is_typing,omitempty"`
	LastMessage *LastMessage          `json:"last_message,omitempty"`
	Members     []*Member             `json:"members"`
}

var (
	ErrNotMember     = errors.New("player is not in this conversation")
	ErrAlreadyTyping = errors.New("someone else is already typing")
	ErrNotInvited    = errors.New("player has not been invited")
)

// New creates a conversation between a creator and one invitee. The creator
// starts out walking over; the invitee must accept first.
func New(id agents.ConversationID, now float64, creator, invitee agents.PlayerID) *Conversation {
	return &Conversation{
		ID:      id,
		Creator: creator,
		Created: now,
		Members: []*Member{
			{PlayerID: creator, Invited: now, Status: MemberStatus{Kind: WalkingOver}},
			{PlayerID: invitee, Invited: now, Status: MemberStatus{Kind: Invited}},
		},
	}
}

// Member returns the membership record for a player, or nil.
func (c *Conversation) Member(id agents.PlayerID) *Member {
	for _, m := range c.Members {
		if m.PlayerID == id {
			return m
		}
	}
	return nil
}

// Has reports whether the player is a member.
func (c *Conversation) Has(id agents.PlayerID) bool {
	return c.Member(id) != nil
}

// Other returns the first member who is not id. Conversations are two-party
// in practice; ok is false when no other member exists.
func (c *Conversation) Other(id agents.PlayerID) (*Member, bool) {
	for _, m := range c.Members {
		if m.PlayerID != id {
			return m, true
		}
	}
	return nil, false
}

// AcceptInvite moves an invited player to walking over.
func (c *Conversation) AcceptInvite(id agents.PlayerID) error {
	m := c.Member(id)
	if m == nil {
		return fmt.Errorf("%s in %s: %w", id, c.ID, ErrNotMember)
	}
	if m.Status.Kind != Invited {
		return fmt.Errorf("%s in %s is %s: %w", id, c.ID, m.Status.Kind, ErrNotInvited)
	}
	m.Status = MemberStatus{Kind: WalkingOver}
	return nil
}

// CheckReject validates that a player may reject the invite. The caller
// stops the conversation afterwards.
func (c *Conversation) CheckReject(id agents.PlayerID) error {
	m := c.Member(id)
	if m == nil {
		return fmt.Errorf("%s in %s: %w", id, c.ID, ErrNotMember)
	}
	if m.Status.Kind != Invited {
		return fmt.Errorf("%s in %s is %s: %w", id, c.ID, m.Status.Kind, ErrNotInvited)
	}
	return nil
}

// StartParticipating marks every member as participating.
func (c *Conversation) StartParticipating(now float64) {
	for _, m := range c.Members {
		m.Status = MemberStatus{Kind: Participating, Started: now}
	}
}

// SetIsTyping grabs the typing lock for a player. Re-grabbing your own lock
// is a no-op; grabbing someone else's is an error.
func (c *Conversation) SetIsTyping(now float64, id agents.PlayerID, messageUUID string) error {
	if !c.Has(id) {
		return fmt.Errorf("%s in %s: %w", id, c.ID, ErrNotMember)
	}
	if c.IsTyping != nil {
		if c.IsTyping.PlayerID != id {
			return fmt.Errorf("%s in %s: %w", c.IsTyping.PlayerID, c.ID, ErrAlreadyTyping)
		}
		return nil
	}
	c.IsTyping = &TypingIndicator{PlayerID: id, MessageUUID: messageUUID, Since: now}
	return nil
}

// FinishSendingMessage releases the typing lock (if held for this message)
// and counts the message.
func (c *Conversation) FinishSendingMessage(id agents.PlayerID, now float64, messageUUID string) error {
	if !c.Has(id) {
		return fmt.Errorf("%s in %s: %w", id, c.ID, ErrNotMember)
	}
	if c.IsTyping != nil && c.IsTyping.PlayerID == id && c.IsTyping.MessageUUID == messageUUID {
		c.IsTyping = nil
	}
	c.LastMessage = &LastMessage{Author: id, Timestamp: now}
	c.NumMessages++
	return nil
}
