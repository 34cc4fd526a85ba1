package social

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	c := New(10, 500, 1, 2)

	require.Len(t, c.Members, 2)
	assert.Equal(t, WalkingOver, c.Member(1).Status.Kind)
	assert.Equal(t, Invited, c.Member(2).Status.Kind)
	assert.True(t, c.Has(2))
	assert.False(t, c.Has(3))

	other, ok := c.Other(1)
	require.True(t, ok)
	assert.EqualValues(t, 2, other.PlayerID)
}

func TestAcceptInvite(t *testing.T) {
	c := New(10, 0, 1, 2)

	require.NoError(t, c.AcceptInvite(2))
	assert.Equal(t, WalkingOver, c.Member(2).Status.Kind)

	assert.ErrorIs(t, c.AcceptInvite(2), ErrNotInvited)
	assert.ErrorIs(t, c.AcceptInvite(1), ErrNotInvited)
	assert.ErrorIs(t, c.AcceptInvite(7), ErrNotMember)
}

func TestCheckReject(t *testing.T) {
	c := New(10, 0, 1, 2)
	assert.NoError(t, c.CheckReject(2))
	assert.ErrorIs(t, c.CheckReject(1), ErrNotInvited)
	assert.ErrorIs(t, c.CheckReject(3), ErrNotMember)
}

func TestTypingLock(t *testing.T) {
	c := New(10, 0, 1, 2)
	c.StartParticipating(100)

	require.NoError(t, c.SetIsTyping(200, 1, "m-1"))
	assert.NoError(t, c.SetIsTyping(210, 1, "m-1"), "holder may re-grab")
	assert.ErrorIs(t, c.SetIsTyping(220, 2, "m-2"), ErrAlreadyTyping)
	assert.ErrorIs(t, c.SetIsTyping(220, 9, "m-9"), ErrNotMember)

	require.NoError(t, c.FinishSendingMessage(1, 300, "m-1"))
	assert.Nil(t, c.IsTyping)
	assert.Equal(t, 1, c.NumMessages)
	require.NotNil(t, c.LastMessage)
	assert.EqualValues(t, 1, c.LastMessage.Author)
	assert.Equal(t, 300.0, c.LastMessage.Timestamp)

	require.NoError(t, c.SetIsTyping(310, 2, "m-2"))
	// Finishing a different message leaves the lock alone.
	require.NoError(t, c.FinishSendingMessage(1, 320, "m-3"))
	require.NotNil(t, c.IsTyping)
	assert.EqualValues(t, 2, c.IsTyping.PlayerID)
}

func TestStartParticipating(t *testing.T) {
	c := New(10, 0, 1, 2)
	c.StartParticipating(42)
	for _, m := range c.Members {
		assert.Equal(t, Participating, m.Status.Kind)
		assert.Equal(t, 42.0, m.Status.Started)
	}
}
