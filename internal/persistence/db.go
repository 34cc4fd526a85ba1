// Package persistence provides SQLite-based world state storage.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-town/internal/engine"
)

var (
	// ErrGenerationMismatch is returned by Commit when another writer
	// advanced the engine first.
	ErrGenerationMismatch = engine.ErrGenerationMismatch
	// ErrEngineStopped is returned when stepping a world that is not running.
	ErrEngineStopped = engine.ErrEngineStopped
	// ErrNotFound is returned for unknown worlds, inputs or messages.
	ErrNotFound = errors.New("not found")
)

// Options tunes commit behavior.
type Options struct {
	CommitRetries int           // extra attempts after a transient storage error
	CommitBackoff time.Duration // base delay, doubled per attempt, jittered
	ArchiveBatch  int           // rows per archival insert statement
}

// DefaultOptions returns the standard commit tuning.
func DefaultOptions() Options {
	return Options{
		CommitRetries: 3,
		CommitBackoff: 50 * time.Millisecond,
		ArchiveBatch:  64,
	}
}

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
	opts Options
	enc  *zstd.Encoder
	dec  *zstd.Decoder

	// attempt is one commit transaction; Commit retries it.
	attempt func(ctx context.Context, d *engine.Diff) error
}

// Open opens or creates a SQLite database at the given path.
func Open(path string, opts Options) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; sqlite serializes them anyway.
	conn.SetMaxOpenConns(1)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	if opts.ArchiveBatch <= 0 {
		opts.ArchiveBatch = DefaultOptions().ArchiveBatch
	}
	db := &DB{conn: conn, opts: opts, enc: enc, dec: dec}
	db.attempt = db.commitOnce
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.dec.Close()
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		created REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS engines (
		world_id TEXT PRIMARY KEY,
		running INTEGER NOT NULL,
		generation INTEGER NOT NULL,
		current_ts REAL NOT NULL DEFAULT 0,
		last_step_ts REAL NOT NULL DEFAULT 0,
		processed_input_number INTEGER NOT NULL DEFAULT 0,
		last_step_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS world_state (
		world_id TEXT PRIMARY KEY,
		snapshot BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_maps (
		world_id TEXT PRIMARY KEY,
		map_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS player_descriptions (
		world_id TEXT NOT NULL,
		player_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		character TEXT NOT NULL,
		description TEXT NOT NULL,
		PRIMARY KEY (world_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS agent_descriptions (
		world_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		plan TEXT NOT NULL,
		PRIMARY KEY (world_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS inputs (
		world_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		args TEXT NOT NULL,
		received REAL NOT NULL,
		result TEXT,
		PRIMARY KEY (world_id, number)
	);

	CREATE TABLE IF NOT EXISTS history (
		world_id TEXT NOT NULL,
		player_id INTEGER NOT NULL,
		generation INTEGER NOT NULL,
		buffer BLOB NOT NULL,
		PRIMARY KEY (world_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS archived_players (
		world_id TEXT NOT NULL,
		player_id INTEGER NOT NULL,
		ended REAL NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (world_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS archived_agents (
		world_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		ended REAL NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (world_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS archived_conversations (
		world_id TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		creator INTEGER NOT NULL,
		created REAL NOT NULL,
		ended REAL NOT NULL,
		num_messages INTEGER NOT NULL,
		participants TEXT NOT NULL,
		PRIMARY KEY (world_id, conversation_id)
	);

	CREATE TABLE IF NOT EXISTS participated_together (
		world_id TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		player_id INTEGER NOT NULL,
		other_player_id INTEGER NOT NULL,
		ended REAL NOT NULL,
		PRIMARY KEY (world_id, conversation_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		world_id TEXT NOT NULL,
		message_uuid TEXT NOT NULL,
		conversation_id INTEGER NOT NULL,
		author INTEGER NOT NULL,
		text TEXT NOT NULL,
		created REAL NOT NULL,
		PRIMARY KEY (world_id, message_uuid)
	);

	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		world_id TEXT NOT NULL,
		player_id INTEGER NOT NULL,
		conversation_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		importance REAL NOT NULL,
		created REAL NOT NULL,
		last_access REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		world_id TEXT NOT NULL,
		operation_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		step_id TEXT NOT NULL,
		PRIMARY KEY (world_id, operation_id)
	);

	CREATE TABLE IF NOT EXISTS steps (
		step_id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		inputs INTEGER NOT NULL,
		operations INTEGER NOT NULL,
		duration_ms REAL NOT NULL,
		committed REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(world_id, conversation_id, created);
	CREATE INDEX IF NOT EXISTS idx_memories_player ON memories(world_id, player_id);
	CREATE INDEX IF NOT EXISTS idx_together_player ON participated_together(world_id, player_id, ended);
	CREATE INDEX IF NOT EXISTS idx_steps_world ON steps(world_id, generation);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return ErrNotFound.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}
