// Agent memory stream: what a player took away from each conversation.
// Storage and retrieval live in persistence; ranking lives here.
package agents

import (
	"math"
	"sort"
)

// MaxRecalled bounds how many memories feed one prompt.
const MaxRecalled = 3

// Memory records a notable experience in a player's life.
type Memory struct {
	ID             int64          `json:"id" db:"id"`
	PlayerID       PlayerID       `json:"player_id" db:"player_id"`
	ConversationID ConversationID `json:"conversation_id" db:"conversation_id"`
	Description    string         `json:"description" db:"description"`
	Importance     float64        `json:"importance" db:"importance"` // 0–9
	Created        float64        `json:"created" db:"created"`       // simulation ms
	LastAccess     float64        `json:"last_access" db:"last_access"`
}

// recencyDecay is the per-hour decay applied to a memory's recency score.
const recencyDecay = 0.99

// score blends importance and recency, each normalized to 0–1.
func (m Memory) score(now float64) float64 {
	hours := math.Max(0, now-m.LastAccess) / (1000 * 60 * 60)
	recency := math.Pow(recencyDecay, hours)
	return m.Importance/9 + recency
}

// RankMemories returns the top count memories by importance and recency.
// Ties keep the newer memory first.
func RankMemories(memories []Memory, now float64, count int) []Memory {
	if len(memories) == 0 {
		return nil
	}

	sorted := make([]Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].score(now), sorted[j].score(now)
		if si != sj {
			return si > sj
		}
		return sorted[i].Created > sorted[j].Created
	})

	if count > len(sorted) {
		count = len(sorted)
	}
	return sorted[:count]
}

// RecentMemories returns the most recent N memories ordered by creation time descending.
func RecentMemories(memories []Memory, count int) []Memory {
	if len(memories) == 0 {
		return nil
	}

	sorted := make([]Memory, len(memories))
	copy(sorted, memories)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Created > sorted[j].Created
	})

	if count > len(sorted) {
		count = len(sorted)
	}
	return sorted[:count]
}

// ClampImportance maps a model-reported score into 0–9.
func ClampImportance(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(9, v))
}
