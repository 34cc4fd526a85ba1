package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"modernc.org/sqlite"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "town.db"), Options{CommitRetries: 2, CommitBackoff: time.Millisecond, ArchiveBatch: 2})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createWorld(t *testing.T, db *DB) string {
	t.Helper()
	id, err := db.CreateWorld(context.Background(), world.OpenMap(16, 12), 99, 1_000_000)
	require.NoError(t, err)
	return id
}

// stepOnce runs one step against the database the way the runner does.
func stepOnce(t *testing.T, db *DB, worldID string, now float64) *engine.Diff {
	t.Helper()
	ctx := context.Background()
	l, err := db.LoadWorld(ctx, worldID)
	require.NoError(t, err)
	inputs, err := db.LoadInputs(ctx, worldID, l.Engine.ProcessedInputNumber, 32)
	require.NoError(t, err)
	sim, err := engine.NewSimulation(engine.DefaultConfig(), l, nil)
	require.NoError(t, err)
	return sim.RunStep(now, l.Engine, inputs)
}

func TestCreateAndLoadWorld(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.Engine.Running)
	assert.Zero(t, l.Engine.Generation)
	assert.Equal(t, uint64(1), l.Snapshot.NextID)
	assert.NotEmpty(t, l.Snapshot.Entropy)
	assert.Equal(t, 16, l.Map.Width)
	assert.Empty(t, l.PlayerDescriptions)

	running, err := db.RunningWorlds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, running)

	_, err = db.LoadWorld(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitStep(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	join, err := db.SendInput(ctx, id, engine.Join{Name: "Ada", Character: "f1", Description: "curious", TokenIdentifier: "ada"}, 1_000_000)
	require.NoError(t, err)
	agent, err := db.SendInput(ctx, id, engine.CreateAgent{Name: "Bob", Character: "f2", Identity: "baker", Plan: "sell bread"}, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, join+1, agent)

	res, done, err := db.InputResult(ctx, id, join)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, res)

	d := stepOnce(t, db, id, 1_001_000)
	require.NoError(t, db.Commit(ctx, d))

	res, done, err = db.InputResult(ctx, id, join)
	require.NoError(t, err)
	require.True(t, done)
	assert.Empty(t, res.Err)
	assert.JSONEq(t, `"p:1"`, string(res.Value))

	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Engine.Generation)
	assert.Equal(t, agent, l.Engine.ProcessedInputNumber)
	assert.Len(t, l.Snapshot.Players, 2)
	assert.Len(t, l.Snapshot.Agents, 1)
	require.Len(t, l.PlayerDescriptions, 2)
	assert.Equal(t, "Ada", l.PlayerDescriptions[0].Name)
	require.Len(t, l.AgentDescriptions, 1)
	assert.Equal(t, "sell bread", l.AgentDescriptions[0].Plan)

	history, err := db.History(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, history, agents.PlayerID(1))

	statuses, err := db.WorldStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 2, statuses[0].Players)
}

func TestCommitGenerationMismatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	first := stepOnce(t, db, id, 1_001_000)
	second := stepOnce(t, db, id, 1_001_000)
	require.NoError(t, db.Commit(ctx, first))
	assert.ErrorIs(t, db.Commit(ctx, second), ErrGenerationMismatch)
}

// busyError provokes a real SQLITE_BUSY: one connection holds the write
// lock while another tries to write without waiting.
func busyError(t *testing.T) error {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock.db")
	holder, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	tx, err := holder.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec("INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)

	writer, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(0)")
	require.NoError(t, err)
	defer writer.Close()
	_, err = writer.Exec("INSERT INTO t (v) VALUES (2)")
	var se *sqlite.Error
	require.ErrorAs(t, err, &se)
	require.True(t, isTransient(err))
	return err
}

func TestCommitRetriesTransientLock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)
	busy := busyError(t)

	calls := 0
	commit := db.attempt
	db.attempt = func(ctx context.Context, d *engine.Diff) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("begin: %w", busy)
		}
		return commit(ctx, d)
	}

	require.NoError(t, db.Commit(ctx, stepOnce(t, db, id, 1_001_000)))
	assert.Equal(t, 2, calls)
	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Engine.Generation)
}

func TestCommitGivesUpOnPersistentLock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)
	busy := busyError(t)

	calls := 0
	db.attempt = func(context.Context, *engine.Diff) error {
		calls++
		return busy
	}

	err := db.Commit(ctx, stepOnce(t, db, id, 1_001_000))
	var se *sqlite.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, db.opts.CommitRetries+1, calls)
	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, l.Engine.Generation)
}

func TestCommitMismatchIsNotRetried(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	first := stepOnce(t, db, id, 1_001_000)
	second := stepOnce(t, db, id, 1_001_000)
	require.NoError(t, db.Commit(ctx, first))

	calls := 0
	commit := db.attempt
	db.attempt = func(ctx context.Context, d *engine.Diff) error {
		calls++
		return commit(ctx, d)
	}
	assert.ErrorIs(t, db.Commit(ctx, second), ErrGenerationMismatch)
	assert.Equal(t, 1, calls, "the runner reruns lost races from fresh state")
}

func TestCommitIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	_, err := db.SendInput(ctx, id, engine.Join{Name: "Ada", TokenIdentifier: "ada"}, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx, stepOnce(t, db, id, 1_001_000)))

	leave, err := db.SendInput(ctx, id, engine.Leave{PlayerID: 1}, 1_001_000)
	require.NoError(t, err)
	d := stepOnce(t, db, id, 1_002_000)
	require.Len(t, d.Archive.Players, 1)

	require.NoError(t, db.Commit(ctx, d))
	require.NoError(t, db.Commit(ctx, d), "re-commit of the same step")

	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Engine.Generation)
	assert.Equal(t, leave, l.Engine.ProcessedInputNumber)
	assert.Empty(t, l.Snapshot.Players)

	var archived int
	require.NoError(t, db.conn.Get(&archived, "SELECT COUNT(*) FROM archived_players WHERE world_id = ?", id))
	assert.Equal(t, 1, archived)
	var steps int
	require.NoError(t, db.conn.Get(&steps, "SELECT COUNT(*) FROM steps WHERE world_id = ?", id))
	assert.Equal(t, 2, steps)
}

func TestStoppedWorldRejectsCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	d := stepOnce(t, db, id, 1_001_000)
	require.NoError(t, db.SetRunning(ctx, id, false))
	assert.ErrorIs(t, db.Commit(ctx, d), ErrGenerationMismatch)

	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.False(t, l.Engine.Running)

	running, err := db.RunningWorlds(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
	assert.ErrorIs(t, db.SetRunning(ctx, "nope", true), ErrNotFound)
}

func TestArchiveConversationPartners(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	d := stepOnce(t, db, id, 1_001_000)
	d.Archive.Conversations = []engine.ArchivedConversation{
		{ID: 7, Creator: 1, Created: 1_000_000, Ended: 1_000_900, NumMessages: 3, Participants: []agents.PlayerID{1, 2}},
		{ID: 8, Creator: 3, Created: 1_000_000, Ended: 1_000_950, NumMessages: 1, Participants: []agents.PlayerID{3, 1}},
		{ID: 9, Creator: 4, Created: 1_000_000, Ended: 1_000_990, NumMessages: 0, Participants: []agents.PlayerID{4, 5}},
	}
	require.NoError(t, db.Commit(ctx, d))

	partners, err := db.RecentPartners(ctx, id, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []agents.PlayerID{2, 3}, partners)

	partners, err = db.RecentPartners(ctx, id, 1, 1_000_920)
	require.NoError(t, err)
	assert.Equal(t, []agents.PlayerID{3}, partners)

	last, err := db.LastConversationWith(ctx, id, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ConversationID(7), last)
}

func TestMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	require.NoError(t, db.AddMessage(ctx, Message{WorldID: id, MessageUUID: "m1", ConversationID: 4, Author: 1, Text: "hi", Created: 10}))
	require.NoError(t, db.AddMessage(ctx, Message{WorldID: id, MessageUUID: "m2", ConversationID: 4, Author: 2, Text: "hello", Created: 20}))
	require.NoError(t, db.AddMessage(ctx, Message{WorldID: id, MessageUUID: "m1", ConversationID: 4, Author: 1, Text: "dup", Created: 30}))

	msgs, err := db.ListMessages(ctx, id, 4)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, agents.PlayerID(2), msgs[1].Author)
}

func TestMemories(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	for i, m := range []agents.Memory{
		{PlayerID: 1, ConversationID: 3, Description: "boring chat", Importance: 1, Created: 1000},
		{PlayerID: 1, ConversationID: 4, Description: "learned a secret", Importance: 9, Created: 2000},
		{PlayerID: 2, ConversationID: 4, Description: "told a secret", Importance: 12, Created: 2000},
	} {
		_, err := db.AddMemory(ctx, id, m)
		require.NoError(t, err, "memory %d", i)
	}

	got, err := db.RecallMemories(ctx, id, 1, 3000, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "learned a secret", got[0].Description)

	got, err = db.RecallMemories(ctx, id, 2, 3000, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9.0, got[0].Importance, "importance is clamped")
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.GetMeta(ctx, "default_world")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, db.SaveMeta(ctx, "default_world", "w1"))
	v, err := db.GetMeta(ctx, "default_world")
	require.NoError(t, err)
	assert.Equal(t, "w1", v)
}

func TestMovementSurvivesReload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := createWorld(t, db)

	_, err := db.SendInput(ctx, id, engine.Join{Name: "Ada", TokenIdentifier: "ada"}, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, db.Commit(ctx, stepOnce(t, db, id, 1_001_000)))

	l, err := db.LoadWorld(ctx, id)
	require.NoError(t, err)
	start := l.Snapshot.Players[0].Position
	dest := geom.Point{X: 0, Y: 0}
	if start.X < 8 {
		dest.X = 15
	}
	_, err = db.SendInput(ctx, id, engine.MoveTo{PlayerID: 1, Destination: &dest}, 1_001_000)
	require.NoError(t, err)

	for now := 1_002_000.0; now <= 1_004_000; now += 1000 {
		require.NoError(t, db.Commit(ctx, stepOnce(t, db, id, now)))
	}
	l, err = db.LoadWorld(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, start, l.Snapshot.Players[0].Position)
}
