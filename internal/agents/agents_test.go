package agents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDText(t *testing.T) {
	assert.Equal(t, "p:12", PlayerID(12).String())
	assert.Equal(t, "c:3", ConversationID(3).String())

	var id PlayerID
	require.NoError(t, id.UnmarshalText([]byte("p:42")))
	assert.Equal(t, PlayerID(42), id)

	var aid AgentID
	assert.Error(t, aid.UnmarshalText([]byte("p:42")), "kind prefix must match")
	assert.Error(t, aid.UnmarshalText([]byte("a:x")))
}

func TestIDJSONMapKeys(t *testing.T) {
	in := map[PlayerID]int{1: 10, 7: 70}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"p:1":10,"p:7":70}`, string(b))

	var out map[PlayerID]int
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestStartOperationTwicePanics(t *testing.T) {
	a := &Agent{ID: 1, PlayerID: 2}
	a.StartOperation("agentDoSomething", 5, 100)
	require.NotNil(t, a.InProgressOperation)

	assert.Panics(t, func() {
		a.StartOperation("agentRememberConversation", 6, 200)
	})
}

func TestFinishOperationMatchesID(t *testing.T) {
	p := &Player{ID: 3}
	p.StartOperation("playerAgentDoSomething", 9, 0)

	assert.False(t, p.FinishOperation(8), "stale completion is ignored")
	assert.NotNil(t, p.InProgressOperation)

	assert.True(t, p.FinishOperation(9))
	assert.Nil(t, p.InProgressOperation)
	assert.False(t, p.FinishOperation(9))
}

func TestRankMemories(t *testing.T) {
	hour := 1000.0 * 60 * 60
	now := 100 * hour
	memories := []Memory{
		{ID: 1, Importance: 2, Created: now - hour, LastAccess: now - hour},
		{ID: 2, Importance: 9, Created: now - 50*hour, LastAccess: now - 50*hour},
		{ID: 3, Importance: 8, Created: now, LastAccess: now},
	}

	top := RankMemories(memories, now, 2)
	require.Len(t, top, 2)
	assert.Equal(t, int64(3), top[0].ID)

	recent := RecentMemories(memories, 5)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].ID)
	assert.Equal(t, int64(2), recent[2].ID)

	assert.Nil(t, RankMemories(nil, now, 3))
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 9.0, ClampImportance(12))
	assert.Equal(t, 0.0, ClampImportance(-3))
	assert.Equal(t, 4.5, ClampImportance(4.5))
}

func TestSpawnerCastThenGenerated(t *testing.T) {
	cast := DefaultCast()
	s := NewSpawner(1)
	chars := s.Spawn(len(cast) + 3)
	require.Len(t, chars, len(cast)+3)

	assert.Equal(t, cast[0].Name, chars[0].Name)
	for _, c := range chars[len(cast):] {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Identity)
		assert.NotEmpty(t, c.Plan)
	}

	again := NewSpawner(1).Spawn(len(cast) + 3)
	assert.Equal(t, chars, again)
}
