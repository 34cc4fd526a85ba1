package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/entropy"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/social"
	"github.com/talgya/mini-town/internal/world"
)

const testWorldID = "w-test"

// memStore is an in-memory Store with the same generation rules as the
// database.
type memStore struct {
	loaded   Loaded
	inputs   []QueuedInput
	results  map[int64]InputResult
	archive  Archive
	conflict bool // reject every commit
	failNext int  // reject this many upcoming commits
	attempts int
	commits  int
}

func (m *memStore) LoadWorld(_ context.Context, _ string) (*Loaded, error) {
	l := m.loaded
	return &l, nil
}

func (m *memStore) LoadInputs(_ context.Context, _ string, after int64, limit int) ([]QueuedInput, error) {
	var out []QueuedInput
	for _, in := range m.inputs {
		if in.Number > after && len(out) < limit {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memStore) Commit(_ context.Context, d *Diff) error {
	m.attempts++
	if m.failNext > 0 {
		m.failNext--
		return ErrGenerationMismatch
	}
	if m.conflict || d.ExpectedGeneration != m.loaded.Engine.Generation {
		return ErrGenerationMismatch
	}
	m.loaded.Engine = d.Engine
	m.loaded.Engine.Generation++
	m.loaded.Snapshot = d.World
	if d.DescriptionsModified {
		m.loaded.PlayerDescriptions = d.PlayerDescriptions
		m.loaded.AgentDescriptions = d.AgentDescriptions
	}
	for _, r := range d.InputResults {
		m.results[r.Number] = r
	}
	m.archive.Players = append(m.archive.Players, d.Archive.Players...)
	m.archive.Agents = append(m.archive.Agents, d.Archive.Agents...)
	m.archive.Conversations = append(m.archive.Conversations, d.Archive.Conversations...)
	m.commits++
	return nil
}

type opRecorder struct {
	ops []Operation
}

func (r *opRecorder) Dispatch(_ context.Context, _ string, ops []Operation) {
	r.ops = append(r.ops, ops...)
}

func (r *opRecorder) drain() []Operation {
	out := r.ops
	r.ops = nil
	return out
}

type harness struct {
	t      *testing.T
	store  *memStore
	ops    *opRecorder
	runner *Runner
	clock  float64
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InviteAcceptProbability = 1
	return cfg
}

func newHarness(t *testing.T, cfg Config, w *World) *harness {
	t.Helper()
	state, err := entropy.New(7).MarshalBinary()
	require.NoError(t, err)
	snap := w.Snapshot()
	snap.Entropy = state

	store := &memStore{
		loaded: Loaded{
			WorldID:  testWorldID,
			Engine:   EngineState{Running: true},
			Snapshot: snap,
			Map:      world.OpenMap(20, 12),
		},
		results: make(map[int64]InputResult),
	}
	ops := &opRecorder{}
	h := &harness{t: t, store: store, ops: ops, clock: 1_000_000}
	h.runner = NewRunner(testWorldID, cfg, store, ops)
	h.runner.now = func() float64 { return h.clock }
	return h
}

// step advances the clock by one second and runs a step.
func (h *harness) step() *Diff {
	h.t.Helper()
	h.clock += 1000
	d, err := h.runner.Step(context.Background())
	require.NoError(h.t, err)
	return d
}

func (h *harness) send(in Input) int64 {
	h.t.Helper()
	name, args, err := EncodeInput(in)
	require.NoError(h.t, err)
	n := int64(len(h.store.inputs) + 1)
	h.store.inputs = append(h.store.inputs, QueuedInput{Number: n, Name: name, Args: args, Received: h.clock})
	return n
}

func (h *harness) world() *World {
	return WorldFromSnapshot(h.store.loaded.Snapshot)
}

// simulation builds a simulation from the harness's current state for
// tick-level tests.
func (h *harness) simulation() *Simulation {
	h.t.Helper()
	l := h.store.loaded
	s, err := NewSimulation(h.runner.cfg, &l, nil)
	require.NoError(h.t, err)
	return s
}

func addAgent(w *World, x, y float64) (*agents.Player, *agents.Agent) {
	p := &agents.Player{
		ID:       agents.PlayerID(w.allocID()),
		Position: geom.Point{X: x, Y: y},
		Facing:   geom.Vector{DX: 1},
	}
	w.Players[p.ID] = p
	a := &agents.Agent{ID: agents.AgentID(w.allocID()), PlayerID: p.ID}
	w.Agents[a.ID] = a
	return p, a
}

func addHuman(w *World, token string, x, y float64) *agents.Player {
	p := &agents.Player{
		ID:        agents.PlayerID(w.allocID()),
		Human:     token,
		LastInput: 1_000_000,
		Position:  geom.Point{X: x, Y: y},
		Facing:    geom.Vector{DX: 1},
	}
	w.Players[p.ID] = p
	return p
}

func addConversation(w *World, now float64, inviter, invitee agents.PlayerID) *social.Conversation {
	id := agents.ConversationID(w.allocID())
	c := social.New(id, now, inviter, invitee)
	w.Conversations[id] = c
	return c
}
