package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/entropy"
	"github.com/talgya/mini-town/internal/world"
)

// engineRow is the engines table as stored.
type engineRow struct {
	engine.EngineState
	WorldID    string `db:"world_id"`
	LastStepID string `db:"last_step_id"`
}

// CreateWorld stores a new, running world with an empty snapshot and
// returns its id.
func (db *DB) CreateWorld(ctx context.Context, m *world.Map, seed uint64, now float64) (string, error) {
	id := uuid.NewString()

	snap := engine.NewWorld().Snapshot()
	state, err := entropy.New(seed).MarshalBinary()
	if err != nil {
		return "", err
	}
	snap.Entropy = state
	blob, err := db.encodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	mapJSON, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode map: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO worlds (id, created) VALUES (?, ?)", id, now); err != nil {
		return "", fmt.Errorf("insert world: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO engines (world_id, running, generation) VALUES (?, 1, 0)", id); err != nil {
		return "", fmt.Errorf("insert engine: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO world_state (world_id, snapshot) VALUES (?, ?)", id, blob); err != nil {
		return "", fmt.Errorf("insert state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO world_maps (world_id, map_json) VALUES (?, ?)", id, string(mapJSON)); err != nil {
		return "", fmt.Errorf("insert map: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	slog.Info("world created", "world", id, "width", m.Width, "height", m.Height)
	return id, nil
}

// LoadWorld reads everything a step starts from.
func (db *DB) LoadWorld(ctx context.Context, worldID string) (*engine.Loaded, error) {
	row, err := db.engineRow(ctx, db.conn, worldID)
	if err != nil {
		return nil, err
	}

	var blob []byte
	if err := db.conn.GetContext(ctx, &blob,
		"SELECT snapshot FROM world_state WHERE world_id = ?", worldID); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := db.decodeSnapshot(blob)
	if err != nil {
		return nil, err
	}

	m, err := db.LoadMap(ctx, worldID)
	if err != nil {
		return nil, err
	}

	l := &engine.Loaded{
		WorldID:  worldID,
		Engine:   row.EngineState,
		Snapshot: snap,
		Map:      m,
	}
	if err := db.conn.SelectContext(ctx, &l.PlayerDescriptions,
		`SELECT player_id, name, character, description FROM player_descriptions
		 WHERE world_id = ? ORDER BY player_id`, worldID); err != nil {
		return nil, fmt.Errorf("load player descriptions: %w", err)
	}
	if err := db.conn.SelectContext(ctx, &l.AgentDescriptions,
		`SELECT agent_id, identity, plan FROM agent_descriptions
		 WHERE world_id = ? ORDER BY agent_id`, worldID); err != nil {
		return nil, fmt.Errorf("load agent descriptions: %w", err)
	}
	return l, nil
}

// LoadMap reads a world's map.
func (db *DB) LoadMap(ctx context.Context, worldID string) (*world.Map, error) {
	var mapJSON string
	err := db.conn.GetContext(ctx, &mapJSON, "SELECT map_json FROM world_maps WHERE world_id = ?", worldID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("map for %s: %w", worldID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load map: %w", err)
	}
	var m world.Map
	if err := json.Unmarshal([]byte(mapJSON), &m); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	return &m, nil
}

func (db *DB) engineRow(ctx context.Context, q sqlx.QueryerContext, worldID string) (*engineRow, error) {
	var row engineRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT world_id, running, generation, current_ts, last_step_ts, processed_input_number, last_step_id
		 FROM engines WHERE world_id = ?`, worldID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("world %s: %w", worldID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	return &row, nil
}

// SetRunning starts or stops a world's engine. The generation is bumped so
// an in-flight step from before the change fails to commit.
func (db *DB) SetRunning(ctx context.Context, worldID string, running bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE engines SET running = ?, generation = generation + 1 WHERE world_id = ?",
		running, worldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("world %s: %w", worldID, ErrNotFound)
	}
	slog.Info("engine running flag changed", "world", worldID, "running", running)
	return nil
}

// RunningWorlds lists the ids of worlds whose engines are running.
func (db *DB) RunningWorlds(ctx context.Context) ([]string, error) {
	var ids []string
	err := db.conn.SelectContext(ctx, &ids,
		"SELECT world_id FROM engines WHERE running = 1 ORDER BY world_id")
	return ids, err
}

// WorldStatus is a summary row for status endpoints.
type WorldStatus struct {
	WorldID              string  `json:"world_id" db:"world_id"`
	Running              bool    `json:"running" db:"running"`
	Generation           int64   `json:"generation" db:"generation"`
	CurrentTime          float64 `json:"current_time" db:"current_ts"`
	LastStepTs           float64 `json:"last_step_ts" db:"last_step_ts"`
	ProcessedInputNumber int64   `json:"processed_input_number" db:"processed_input_number"`
	Players              int     `json:"players" db:"players"`
}

// WorldStatuses summarizes every world.
func (db *DB) WorldStatuses(ctx context.Context) ([]WorldStatus, error) {
	var out []WorldStatus
	err := db.conn.SelectContext(ctx, &out, `
		SELECT e.world_id, e.running, e.generation, e.current_ts, e.last_step_ts, e.processed_input_number,
		       (SELECT COUNT(*) FROM player_descriptions d
		         WHERE d.world_id = e.world_id
		           AND d.player_id NOT IN (SELECT player_id FROM archived_players a WHERE a.world_id = e.world_id)) AS players
		FROM engines e ORDER BY e.world_id`)
	return out, err
}

// PlayerDescriptions returns display metadata for a world's players.
func (db *DB) PlayerDescriptions(ctx context.Context, worldID string) (map[agents.PlayerID]agents.PlayerDescription, error) {
	var rows []agents.PlayerDescription
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT player_id, name, character, description FROM player_descriptions WHERE world_id = ?",
		worldID); err != nil {
		return nil, err
	}
	out := make(map[agents.PlayerID]agents.PlayerDescription, len(rows))
	for _, r := range rows {
		out[r.PlayerID] = r
	}
	return out, nil
}

// AgentDescription returns one agent's identity and plan.
func (db *DB) AgentDescription(ctx context.Context, worldID string, id agents.AgentID) (*agents.AgentDescription, error) {
	var d agents.AgentDescription
	err := db.conn.GetContext(ctx, &d,
		"SELECT agent_id, identity, plan FROM agent_descriptions WHERE world_id = ? AND agent_id = ?",
		worldID, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return &d, err
}

// History returns the latest packed history buffers of a world.
func (db *DB) History(ctx context.Context, worldID string) (map[agents.PlayerID][]byte, error) {
	var rows []struct {
		PlayerID agents.PlayerID `db:"player_id"`
		Buffer   []byte          `db:"buffer"`
	}
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT player_id, buffer FROM history WHERE world_id = ?", worldID); err != nil {
		return nil, err
	}
	out := make(map[agents.PlayerID][]byte, len(rows))
	for _, r := range rows {
		out[r.PlayerID] = r.Buffer
	}
	return out, nil
}

func (db *DB) encodeSnapshot(s *engine.Snapshot) ([]byte, error) {
	raw, err := engine.MarshalSnapshot(s)
	if err != nil {
		return nil, err
	}
	return db.enc.EncodeAll(raw, nil), nil
}

func (db *DB) decodeSnapshot(blob []byte) (*engine.Snapshot, error) {
	raw, err := db.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return engine.UnmarshalSnapshot(raw)
}
