package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/metrics"
)

// Commit writes a step's diff atomically. The commit is rejected with
// ErrGenerationMismatch when the stored generation moved on since the step
// loaded its state. Re-committing a diff that already landed is a no-op.
// Transient lock errors are retried with jittered exponential backoff.
func (db *DB) Commit(ctx context.Context, d *engine.Diff) error {
	backoff := db.opts.CommitBackoff
	for attempt := 0; ; attempt++ {
		err := db.attempt(ctx, d)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= db.opts.CommitRetries {
			return err
		}
		metrics.CommitRetries.Inc()
		wait := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
		slog.Warn("commit retry", "world", d.WorldID, "step", d.StepID, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

// isTransient reports whether a storage error is worth retrying.
func isTransient(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}

func (db *DB) commitOnce(ctx context.Context, d *engine.Diff) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row, err := db.engineRow(ctx, tx, d.WorldID)
	if err != nil {
		return err
	}
	if row.LastStepID == d.StepID {
		slog.Debug("step already committed", "world", d.WorldID, "step", d.StepID)
		return nil
	}
	if row.Generation != d.ExpectedGeneration {
		return fmt.Errorf("world %s at generation %d, step expected %d: %w",
			d.WorldID, row.Generation, d.ExpectedGeneration, ErrGenerationMismatch)
	}
	if !row.Running {
		return ErrEngineStopped
	}

	generation := d.ExpectedGeneration + 1
	if _, err := tx.ExecContext(ctx, `UPDATE engines SET
		generation = ?, current_ts = ?, last_step_ts = ?, processed_input_number = ?, last_step_id = ?
		WHERE world_id = ?`,
		generation, d.Engine.CurrentTime, d.Engine.LastStepTs, d.Engine.ProcessedInputNumber, d.StepID,
		d.WorldID); err != nil {
		return fmt.Errorf("update engine: %w", err)
	}

	blob, err := db.encodeSnapshot(d.World)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_state (world_id, snapshot) VALUES (?, ?)", d.WorldID, blob); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if d.DescriptionsModified {
		if err := saveDescriptions(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := saveInputResults(ctx, tx, d); err != nil {
		return err
	}
	for id, buf := range d.History {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO history (world_id, player_id, generation, buffer) VALUES (?, ?, ?, ?)",
			d.WorldID, int64(id), generation, buf); err != nil {
			return fmt.Errorf("save history %s: %w", id, err)
		}
	}
	if err := db.saveArchive(ctx, tx, d); err != nil {
		return err
	}
	if err := saveOperations(ctx, tx, d); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO steps
		(step_id, world_id, generation, ticks, inputs, operations, duration_ms, committed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.StepID, d.WorldID, generation, d.Stats.Ticks, d.Stats.Inputs, len(d.Operations),
		float64(d.Stats.Duration)/float64(time.Millisecond), d.Engine.LastStepTs); err != nil {
		return fmt.Errorf("record step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.ArchivedTotal.WithLabelValues("player").Add(float64(len(d.Archive.Players)))
	metrics.ArchivedTotal.WithLabelValues("agent").Add(float64(len(d.Archive.Agents)))
	metrics.ArchivedTotal.WithLabelValues("conversation").Add(float64(len(d.Archive.Conversations)))
	return nil
}

func saveDescriptions(ctx context.Context, tx *sqlx.Tx, d *engine.Diff) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM player_descriptions WHERE world_id = ?", d.WorldID); err != nil {
		return err
	}
	for _, p := range d.PlayerDescriptions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO player_descriptions
			(world_id, player_id, name, character, description) VALUES (?, ?, ?, ?, ?)`,
			d.WorldID, int64(p.PlayerID), p.Name, p.Character, p.Description); err != nil {
			return fmt.Errorf("insert player description %s: %w", p.PlayerID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_descriptions WHERE world_id = ?", d.WorldID); err != nil {
		return err
	}
	for _, a := range d.AgentDescriptions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO agent_descriptions
			(world_id, agent_id, identity, plan) VALUES (?, ?, ?, ?)`,
			d.WorldID, int64(a.AgentID), a.Identity, a.Plan); err != nil {
			return fmt.Errorf("insert agent description %s: %w", a.AgentID, err)
		}
	}
	return nil
}

func saveInputResults(ctx context.Context, tx *sqlx.Tx, d *engine.Diff) error {
	if len(d.InputResults) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, "UPDATE inputs SET result = ? WHERE world_id = ? AND number = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range d.InputResults {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode result %d: %w", r.Number, err)
		}
		if _, err := stmt.ExecContext(ctx, string(b), d.WorldID, r.Number); err != nil {
			return fmt.Errorf("save result %d: %w", r.Number, err)
		}
	}
	return nil
}

// saveArchive moves removed entities into the archive tables in batches.
// Inserts are keyed by id so a repeated commit cannot archive twice.
func (db *DB) saveArchive(ctx context.Context, tx *sqlx.Tx, d *engine.Diff) error {
	a := d.Archive
	if a.Empty() {
		return nil
	}

	var players, agentRows, convs, together [][]any
	for _, p := range a.Players {
		data, err := json.Marshal(p.Player)
		if err != nil {
			return err
		}
		players = append(players, []any{d.WorldID, int64(p.Player.ID), p.Ended, string(data)})
	}
	for _, ag := range a.Agents {
		data, err := json.Marshal(ag.Agent)
		if err != nil {
			return err
		}
		agentRows = append(agentRows, []any{d.WorldID, int64(ag.Agent.ID), ag.Ended, string(data)})
	}
	for _, c := range a.Conversations {
		participants, err := json.Marshal(c.Participants)
		if err != nil {
			return err
		}
		convs = append(convs, []any{d.WorldID, int64(c.ID), int64(c.Creator), c.Created, c.Ended, c.NumMessages, string(participants)})
		for _, p := range c.Participants {
			for _, o := range c.Participants {
				if p != o {
					together = append(together, []any{d.WorldID, int64(c.ID), int64(p), int64(o), c.Ended})
				}
			}
		}
	}

	batches := []struct {
		table   string
		columns string
		rows    [][]any
	}{
		{"archived_players", "world_id, player_id, ended, data", players},
		{"archived_agents", "world_id, agent_id, ended, data", agentRows},
		{"archived_conversations", "world_id, conversation_id, creator, created, ended, num_messages, participants", convs},
		{"participated_together", "world_id, conversation_id, player_id, other_player_id, ended", together},
	}
	for _, b := range batches {
		if err := insertBatched(ctx, tx, b.table, b.columns, b.rows, db.opts.ArchiveBatch); err != nil {
			return err
		}
	}

	for _, p := range a.Players {
		if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE world_id = ? AND player_id = ?",
			d.WorldID, int64(p.Player.ID)); err != nil {
			return err
		}
	}
	return nil
}

// insertBatched inserts rows with multi-row INSERT OR IGNORE statements of
// at most batch rows each.
func insertBatched(ctx context.Context, tx *sqlx.Tx, table, columns string, rows [][]any, batch int) error {
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		chunk := rows[start:end]

		width := len(chunk[0])
		placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*width)
		for i, r := range chunk {
			values[i] = placeholder
			args = append(args, r...)
		}
		query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES %s", table, columns, strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("archive into %s: %w", table, err)
		}
	}
	return nil
}

func saveOperations(ctx context.Context, tx *sqlx.Tx, d *engine.Diff) error {
	for _, op := range d.Operations {
		_, payload, err := engine.EncodeOperation(op)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO operations
			(world_id, operation_id, name, payload, step_id) VALUES (?, ?, ?, ?, ?)`,
			d.WorldID, int64(op.ID()), op.OperationName(), string(payload), d.StepID); err != nil {
			return fmt.Errorf("record operation %s: %w", op.ID(), err)
		}
	}
	return nil
}
