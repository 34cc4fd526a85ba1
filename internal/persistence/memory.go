package persistence

import (
	"context"
	"fmt"

	"github.com/talgya/mini-town/internal/agents"
)

// Message is one line of a conversation.
type Message struct {
	WorldID        string                `json:"world_id" db:"world_id"`
	MessageUUID    string                `json:"message_uuid" db:"message_uuid"`
	ConversationID agents.ConversationID `json:"conversation_id" db:"conversation_id"`
	Author         agents.PlayerID       `json:"author" db:"author"`
	Text           string                `json:"text" db:"text"`
	Created        float64               `json:"created" db:"created"`
}

// AddMessage stores a message. Writing the same message uuid twice keeps
// the first copy.
func (db *DB) AddMessage(ctx context.Context, m Message) error {
	_, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO messages
		(world_id, message_uuid, conversation_id, author, text, created) VALUES (?, ?, ?, ?, ?, ?)`,
		m.WorldID, m.MessageUUID, int64(m.ConversationID), int64(m.Author), m.Text, m.Created)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in order.
func (db *DB) ListMessages(ctx context.Context, worldID string, id agents.ConversationID) ([]Message, error) {
	var out []Message
	err := db.conn.SelectContext(ctx, &out,
		`SELECT world_id, message_uuid, conversation_id, author, text, created FROM messages
		 WHERE world_id = ? AND conversation_id = ? ORDER BY created, rowid`,
		worldID, int64(id))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// AddMemory stores a memory and returns its id.
func (db *DB) AddMemory(ctx context.Context, worldID string, m agents.Memory) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `INSERT INTO memories
		(world_id, player_id, conversation_id, description, importance, created, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		worldID, int64(m.PlayerID), int64(m.ConversationID), m.Description,
		agents.ClampImportance(m.Importance), m.Created, m.Created)
	if err != nil {
		return 0, fmt.Errorf("add memory: %w", err)
	}
	return res.LastInsertId()
}

// RecallMemories returns a player's best memories by importance and
// recency, marking them accessed at now.
func (db *DB) RecallMemories(ctx context.Context, worldID string, player agents.PlayerID, now float64, count int) ([]agents.Memory, error) {
	var all []agents.Memory
	if err := db.conn.SelectContext(ctx, &all,
		`SELECT id, player_id, conversation_id, description, importance, created, last_access
		 FROM memories WHERE world_id = ? AND player_id = ?`,
		worldID, int64(player)); err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	top := agents.RankMemories(all, now, count)
	for _, m := range top {
		if _, err := db.conn.ExecContext(ctx,
			"UPDATE memories SET last_access = ? WHERE id = ?", now, m.ID); err != nil {
			return nil, fmt.Errorf("touch memory %d: %w", m.ID, err)
		}
	}
	return top, nil
}

// RecentPartners returns the players someone finished a conversation with
// at or after since.
func (db *DB) RecentPartners(ctx context.Context, worldID string, player agents.PlayerID, since float64) ([]agents.PlayerID, error) {
	var out []agents.PlayerID
	err := db.conn.SelectContext(ctx, &out,
		`SELECT DISTINCT other_player_id FROM participated_together
		 WHERE world_id = ? AND player_id = ? AND ended >= ? ORDER BY other_player_id`,
		worldID, int64(player), since)
	if err != nil {
		return nil, fmt.Errorf("recent partners: %w", err)
	}
	return out, nil
}

// LastConversationWith returns the most recent conversation two players
// shared, or zero if none.
func (db *DB) LastConversationWith(ctx context.Context, worldID string, player, other agents.PlayerID) (agents.ConversationID, error) {
	var ids []agents.ConversationID
	err := db.conn.SelectContext(ctx, &ids,
		`SELECT conversation_id FROM participated_together
		 WHERE world_id = ? AND player_id = ? AND other_player_id = ?
		 ORDER BY ended DESC LIMIT 1`,
		worldID, int64(player), int64(other))
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}
