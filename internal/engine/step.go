package engine

import (
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/historical"
	"github.com/talgya/mini-town/internal/metrics"
)

// EngineState is the persisted bookkeeping of one world's engine.
type EngineState struct {
	Running              bool    `json:"running" db:"running"`
	Generation           int64   `json:"generation" db:"generation"`
	CurrentTime          float64 `json:"current_time" db:"current_ts"` // last ticked timestamp; 0 before the first step
	LastStepTs           float64 `json:"last_step_ts" db:"last_step_ts"`
	ProcessedInputNumber int64   `json:"processed_input_number" db:"processed_input_number"`
}

// Diff is everything a step changed, committed atomically.
type Diff struct {
	WorldID            string
	StepID             string
	ExpectedGeneration int64
	Engine             EngineState
	World              *Snapshot
	History            map[agents.PlayerID][]byte

	// Descriptions are only set when DescriptionsModified.
	DescriptionsModified bool
	PlayerDescriptions   []agents.PlayerDescription
	AgentDescriptions    []agents.AgentDescription

	Operations   []Operation
	InputResults []InputResult
	Archive      Archive
	Stats        StepStats
}

// StepStats summarizes one step for logging.
type StepStats struct {
	Ticks     int
	Inputs    int
	Pathfinds int
	Duration  time.Duration
}

// startTime picks the first tick's timestamp. A step resumes one tick after
// the last; an engine that fell too far behind skips ahead instead of
// replaying the gap.
func (s *Simulation) startTime(now float64, st EngineState) float64 {
	if st.CurrentTime == 0 {
		return now
	}
	start := st.CurrentTime + ms(s.cfg.TickDuration)
	maxLag := float64(s.cfg.MaxTicksPerStep) * ms(s.cfg.TickDuration)
	if now-start > maxLag {
		skipped := now - ms(s.cfg.StepDuration)
		slog.Warn("engine behind, skipping ahead", "world", s.WorldID, "from", start, "to", skipped, "lag_ms", now-start)
		return skipped
	}
	return start
}

// RunStep advances the world from its engine state up to now, applying the
// given inputs in order as their receive time comes due. Inputs received
// after the last tick are left for the next step.
func (s *Simulation) RunStep(now float64, st EngineState, inputs []QueuedInput) *Diff {
	begin := time.Now()
	tick := ms(s.cfg.TickDuration)

	diff := &Diff{
		WorldID:            s.WorldID,
		StepID:             ulid.Make().String(),
		ExpectedGeneration: st.Generation,
	}
	processed := st.ProcessedInputNumber

	current := s.startTime(now, st)
	last := current
	next := 0
	ticks := 0
	for ticks < s.cfg.MaxTicksPerStep {
		for next < len(inputs) && inputs[next].Received <= current {
			diff.InputResults = append(diff.InputResults, s.handleQueued(current, inputs[next]))
			processed = inputs[next].Number
			next++
		}
		s.Tick(current)
		ticks++
		last = current
		current += tick
		if current > now {
			break
		}
	}

	diff.Engine = EngineState{
		Running:              st.Running,
		Generation:           st.Generation,
		CurrentTime:          last,
		LastStepTs:           now,
		ProcessedInputNumber: processed,
	}

	snap := s.World.Snapshot()
	state, err := s.rng.MarshalBinary()
	if err != nil {
		// PCG state encoding cannot fail.
		panic(err)
	}
	snap.Entropy = state
	diff.World = snap
	diff.History = s.packHistory()

	if s.DescriptionsModified {
		diff.DescriptionsModified = true
		diff.PlayerDescriptions = s.sortedPlayerDescriptions()
		diff.AgentDescriptions = s.sortedAgentDescriptions()
	}
	diff.Operations = s.operations
	diff.Archive = s.archive
	diff.Stats = StepStats{
		Ticks:     ticks,
		Inputs:    next,
		Pathfinds: s.numPathfinds,
		Duration:  time.Since(begin),
	}

	metrics.StepDuration.Observe(diff.Stats.Duration.Seconds())
	metrics.TicksTotal.Add(float64(ticks))
	return diff
}

// handleQueued decodes and applies one queued input, capturing its outcome.
func (s *Simulation) handleQueued(now float64, q QueuedInput) InputResult {
	res := InputResult{Number: q.Number}
	in, err := DecodeInput(q.Name, q.Args)
	if err == nil {
		var v any
		v, err = s.applyInput(now, in)
		if err == nil {
			res.Value = v
		}
	}
	if err != nil {
		slog.Debug("input failed", "world", s.WorldID, "number", q.Number, "name", q.Name, "error", err)
		res.Err = err.Error()
		metrics.InputsTotal.WithLabelValues("error").Inc()
		return res
	}
	metrics.InputsTotal.WithLabelValues("ok").Inc()
	return res
}

// packHistory packs this step's per-player histories within the byte budget,
// humans first and idle players last.
func (s *Simulation) packHistory() map[agents.PlayerID][]byte {
	if len(s.histories) == 0 {
		return nil
	}
	entries := make([]historical.Entry, 0, len(s.histories))
	for id, h := range s.histories {
		p := s.World.Players[id]
		if p == nil {
			continue
		}
		prio := historical.PriorityIdle
		switch {
		case p.IsHuman():
			prio = historical.PriorityHuman
		case !h.Idle():
			prio = historical.PriorityMoving
		}
		entries = append(entries, historical.Entry{ID: uint64(id), Priority: prio, Object: h})
	}
	packed := historical.PackWithinBudget(entries, s.cfg.HistoryBudgetBytes)
	metrics.HistoryBytes.Observe(float64(historical.TotalSize(packed)))

	out := make(map[agents.PlayerID][]byte, len(packed))
	for id, b := range packed {
		out[agents.PlayerID(id)] = b
	}
	return out
}
