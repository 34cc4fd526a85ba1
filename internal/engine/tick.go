// Package engine provides the step-based simulation loop for a town.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/talgya/mini-town/internal/metrics"
	"github.com/talgya/mini-town/internal/pathfind"
)

var (
	// ErrGenerationMismatch means another writer committed first. The step
	// must be rerun from freshly loaded state.
	ErrGenerationMismatch = errors.New("engine generation mismatch")
	// ErrEngineStopped means the world is not marked running.
	ErrEngineStopped = errors.New("engine stopped")
)

// Store loads world state and commits step diffs.
type Store interface {
	LoadWorld(ctx context.Context, worldID string) (*Loaded, error)
	LoadInputs(ctx context.Context, worldID string, after int64, limit int) ([]QueuedInput, error)
	Commit(ctx context.Context, diff *Diff) error
}

// Dispatcher hands committed operations to workers. It must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, worldID string, ops []Operation)
}

// Runner drives one world: load, step, commit, dispatch, sleep.
type Runner struct {
	WorldID string

	cfg        Config
	store      Store
	dispatcher Dispatcher
	finder     *pathfind.Finder
	now        func() float64
}

// NewRunner creates a runner for one world. The route finder and its
// caches live as long as the runner.
func NewRunner(worldID string, cfg Config, store Store, dispatcher Dispatcher) *Runner {
	return &Runner{
		WorldID:    worldID,
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		finder:     pathfind.New(cfg.Pathfinding),
		now:        WallClock,
	}
}

// WallClock returns the current time in milliseconds.
func WallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}

// Step runs and commits a single step. Operations are only dispatched once
// the commit succeeded.
func (r *Runner) Step(ctx context.Context) (*Diff, error) {
	loaded, err := r.store.LoadWorld(ctx, r.WorldID)
	if err != nil {
		return nil, fmt.Errorf("load world: %w", err)
	}
	if !loaded.Engine.Running {
		return nil, ErrEngineStopped
	}
	inputs, err := r.store.LoadInputs(ctx, r.WorldID, loaded.Engine.ProcessedInputNumber, r.cfg.MaxInputsPerStep)
	if err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}

	sim, err := NewSimulation(r.cfg, loaded, r.finder)
	if err != nil {
		return nil, err
	}
	diff := sim.RunStep(r.now(), loaded.Engine, inputs)

	if err := r.store.Commit(ctx, diff); err != nil {
		if errors.Is(err, ErrGenerationMismatch) {
			metrics.CommitConflicts.Inc()
		}
		return nil, fmt.Errorf("commit step %s: %w", diff.StepID, err)
	}
	if len(diff.Operations) > 0 && r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, r.WorldID, diff.Operations)
	}
	return diff, nil
}

// Run steps the world until the context is cancelled or the engine is
// stopped. A step that keeps losing commit races is given up after
// ConflictRetries reruns and tried again on the next interval.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("simulation engine started", "world", r.WorldID, "step", r.cfg.StepDuration)

	for {
		start := time.Now()
		diff, err := r.stepWithRetry(ctx)
		switch {
		case errors.Is(err, ErrEngineStopped):
			slog.Info("simulation engine stopped", "world", r.WorldID)
			return nil
		case err != nil:
			if ctx.Err() != nil {
				slog.Info("simulation engine stopped", "world", r.WorldID)
				return nil
			}
			slog.Error("step failed", "world", r.WorldID, "error", err)
		default:
			slog.Debug("step committed", "world", r.WorldID, "step", diff.StepID,
				"generation", diff.ExpectedGeneration+1, "ticks", diff.Stats.Ticks,
				"inputs", diff.Stats.Inputs, "operations", len(diff.Operations),
				"pathfinds", diff.Stats.Pathfinds, "duration", diff.Stats.Duration)
		}

		// Sleep for the remainder of the step interval.
		wait := r.cfg.StepDuration - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "world", r.WorldID)
			return nil
		case <-time.After(wait):
		}
	}
}

// stepWithRetry reruns a step that lost a commit race from freshly loaded
// state, with jittered exponential backoff between attempts.
func (r *Runner) stepWithRetry(ctx context.Context) (*Diff, error) {
	backoff := r.cfg.ConflictBackoff
	for attempt := 0; ; attempt++ {
		diff, err := r.Step(ctx)
		if !errors.Is(err, ErrGenerationMismatch) || attempt >= r.cfg.ConflictRetries {
			return diff, err
		}
		wait := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
		slog.Warn("lost commit race, reloading", "world", r.WorldID, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}
