package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/world"
)

// eastbound is a straight path from (2,5) to (6,5) at one tile per second.
func eastbound(start float64) geom.Path {
	return geom.Path{
		{Position: geom.Point{X: 2, Y: 5}, Facing: geom.Vector{DX: 1}, T: start},
		{Position: geom.Point{X: 6, Y: 5}, Facing: geom.Vector{DX: 1}, T: start + 4000},
	}
}

func TestBlockedPathWaits(t *testing.T) {
	w := NewWorld()
	p := addHuman(w, "tok", 2, 5)
	p.Pathfinding = &agents.Pathfinding{
		Destination: geom.Point{X: 6, Y: 5},
		Started:     1_000_000,
		State:       agents.PathState{Kind: agents.Moving, Path: eastbound(1_000_000)},
	}
	addHuman(w, "other", 3, 5)
	h := newHarness(t, testConfig(), w)
	s := h.simulation()

	now := 1_000_500.0
	mover := s.World.Players[p.ID]
	s.tickPosition(mover, now)

	require.NotNil(t, mover.Pathfinding)
	assert.Equal(t, agents.Waiting, mover.Pathfinding.State.Kind)
	assert.GreaterOrEqual(t, mover.Pathfinding.State.Until, now)
	assert.LessOrEqual(t, mover.Pathfinding.State.Until, now+ms(s.cfg.PathfindingBackoff))
	assert.Equal(t, geom.Point{X: 2, Y: 5}, mover.Position, "a blocked sample is not taken")
	assert.Zero(t, mover.Speed)

	// Once the wait is over the player asks for a new route.
	s.tickPathfinding(mover, mover.Pathfinding.State.Until+1)
	assert.Equal(t, agents.Moving, mover.Pathfinding.State.Kind)
}

func TestFreePathAdvances(t *testing.T) {
	w := NewWorld()
	p := addHuman(w, "tok", 2, 5)
	p.Pathfinding = &agents.Pathfinding{
		Destination: geom.Point{X: 6, Y: 5},
		Started:     1_000_000,
		State:       agents.PathState{Kind: agents.Moving, Path: eastbound(1_000_000)},
	}
	h := newHarness(t, testConfig(), w)
	s := h.simulation()

	mover := s.World.Players[p.ID]
	s.tickPosition(mover, 1_001_000)
	assert.Equal(t, agents.Moving, mover.Pathfinding.State.Kind)
	assert.InDelta(t, 3, mover.Position.X, 1e-9)
	assert.InDelta(t, 1, mover.Speed, 1e-9)
}

func TestPathfindingTimeoutRescues(t *testing.T) {
	w := NewWorld()
	p := addHuman(w, "tok", 5, 5)
	p.Pathfinding = &agents.Pathfinding{
		Destination: geom.Point{X: 9, Y: 5},
		Started:     1_000_000,
		State:       agents.PathState{Kind: agents.NeedsPath},
	}
	h := newHarness(t, testConfig(), w)
	s := h.simulation()

	// A rock appears under the stuck player.
	m := world.OpenMap(20, 12)
	rocks := world.NewTileLayer(20, 12, world.EmptyTile)
	rocks[5][5] = world.TileRock
	m.Objects = append(m.Objects, rocks)
	s.Map = m

	stuck := s.World.Players[p.ID]
	s.tickPathfinding(stuck, 1_000_000+ms(s.cfg.PathfindingTimeout)+1)

	assert.Nil(t, stuck.Pathfinding)
	assert.NotEqual(t, geom.Point{X: 5, Y: 5}, stuck.Position)
	assert.InDelta(t, 1, geom.Distance(geom.Point{X: 5, Y: 5}, stuck.Position), 1e-9, "snapped to an adjacent tile")
	assert.Equal(t, pathfind.Free, s.finder.Blocked(s.Map, stuck.Position, nil))
}

func TestPathfindingTimeoutOnFreeTileOnlyStops(t *testing.T) {
	w := NewWorld()
	p := addHuman(w, "tok", 5, 5)
	p.Pathfinding = &agents.Pathfinding{
		Destination: geom.Point{X: 9, Y: 5},
		Started:     1_000_000,
		State:       agents.PathState{Kind: agents.NeedsPath},
	}
	h := newHarness(t, testConfig(), w)
	s := h.simulation()

	stuck := s.World.Players[p.ID]
	s.tickPathfinding(stuck, 1_000_000+ms(s.cfg.PathfindingTimeout)+1)
	assert.Nil(t, stuck.Pathfinding)
	assert.Equal(t, geom.Point{X: 5, Y: 5}, stuck.Position)
}

func TestPathfindingBudgetPerStep(t *testing.T) {
	w := NewWorld()
	var ids []agents.PlayerID
	for y := 1.0; y <= 7; y += 2 {
		p := addHuman(w, fmt.Sprintf("tok-%v", y), 1, y)
		p.Pathfinding = &agents.Pathfinding{
			Destination: geom.Point{X: 12, Y: y},
			Started:     1_000_000,
			State:       agents.PathState{Kind: agents.NeedsPath},
		}
		ids = append(ids, p.ID)
	}
	cfg := testConfig()
	cfg.MaxPathfindsPerStep = 2
	h := newHarness(t, cfg, w)

	countMoving := func() int {
		n := 0
		for _, id := range ids {
			if pf := h.world().Players[id].Pathfinding; pf != nil && pf.State.Kind == agents.Moving {
				n++
			}
		}
		return n
	}

	d := h.step()
	assert.Equal(t, 2, d.Stats.Pathfinds)
	assert.Equal(t, 2, countMoving(), "the rest wait for the next step")

	d = h.step()
	assert.Equal(t, 2, d.Stats.Pathfinds)
	assert.Equal(t, 4, countMoving())
}
