package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talgya/mini-town/internal/engine"
)

// SendInput appends an input to a world's queue and returns its number.
// Numbers are strictly increasing per world.
func (db *DB) SendInput(ctx context.Context, worldID string, in engine.Input, received float64) (int64, error) {
	name, args, err := engine.EncodeInput(in)
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM engines WHERE world_id = ?", worldID); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, fmt.Errorf("world %s: %w", worldID, ErrNotFound)
	}

	var number int64
	if err := tx.GetContext(ctx, &number,
		"SELECT COALESCE(MAX(number), 0) + 1 FROM inputs WHERE world_id = ?", worldID); err != nil {
		return 0, fmt.Errorf("next input number: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO inputs (world_id, number, name, args, received) VALUES (?, ?, ?, ?, ?)",
		worldID, number, name, string(args), received); err != nil {
		return 0, fmt.Errorf("insert input: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return number, nil
}

// LoadInputs returns up to limit inputs numbered after the given one, in order.
func (db *DB) LoadInputs(ctx context.Context, worldID string, after int64, limit int) ([]engine.QueuedInput, error) {
	var rows []struct {
		Number   int64   `db:"number"`
		Name     string  `db:"name"`
		Args     string  `db:"args"`
		Received float64 `db:"received"`
	}
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT number, name, args, received FROM inputs
		 WHERE world_id = ? AND number > ? ORDER BY number LIMIT ?`,
		worldID, after, limit); err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}
	out := make([]engine.QueuedInput, len(rows))
	for i, r := range rows {
		out[i] = engine.QueuedInput{Number: r.Number, Name: r.Name, Args: json.RawMessage(r.Args), Received: r.Received}
	}
	return out, nil
}

// StoredResult is an input's recorded outcome as read back from storage.
// Value holds the raw JSON of the handler's return value.
type StoredResult struct {
	Number int64           `json:"number"`
	Value  json.RawMessage `json:"value,omitempty"`
	Err    string          `json:"error,omitempty"`
}

// InputResult returns an input's outcome. done is false while the input is
// still queued.
func (db *DB) InputResult(ctx context.Context, worldID string, number int64) (res *StoredResult, done bool, err error) {
	var raw sql.NullString
	err = db.conn.GetContext(ctx, &raw,
		"SELECT result FROM inputs WHERE world_id = ? AND number = ?", worldID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("input %d: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, false, err
	}
	if !raw.Valid {
		return nil, false, nil
	}
	var r StoredResult
	if err := json.Unmarshal([]byte(raw.String), &r); err != nil {
		return nil, false, fmt.Errorf("decode result %d: %w", number, err)
	}
	return &r, true, nil
}
