package behavior

import (
	"context"
	"time"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/llm"
)

// ActivityKind is one of the things a player can do on their own.
type ActivityKind struct {
	Description string
	Emoji       string
	Duration    time.Duration
}

// Activities is the fixed menu of solitary activities.
var Activities = []ActivityKind{
	{Description: "reading a book", Emoji: "📖", Duration: time.Minute},
	{Description: "daydreaming", Emoji: "🤔", Duration: time.Minute},
	{Description: "gardening", Emoji: "🥕", Duration: time.Minute},
}

func (k ActivityKind) start(now float64) agents.Activity {
	return agents.Activity{Description: k.Description, Emoji: k.Emoji, Until: now + ms(k.Duration)}
}

func (h *Handler) randomActivity(now float64) agents.Activity {
	h.mu.Lock()
	i := h.rng.IntN(len(Activities))
	h.mu.Unlock()
	return Activities[i].start(now)
}

// chooseActivity lets the model pick an activity that suits the character.
func (h *Handler) chooseActivity(ctx context.Context, worldID string, agentID agents.AgentID, playerID agents.PlayerID, now float64) agents.Activity {
	if !h.llm.Enabled() {
		return h.randomActivity(now)
	}
	descs, err := h.store.PlayerDescriptions(ctx, worldID)
	if err != nil {
		logFallback("activity choice", err, "agent", agentID)
		return h.randomActivity(now)
	}
	desc, err := h.store.AgentDescription(ctx, worldID, agentID)
	if err != nil {
		logFallback("activity choice", err, "agent", agentID)
		return h.randomActivity(now)
	}

	options := make([]string, len(Activities))
	for i, a := range Activities {
		options[i] = a.Description
	}
	i, err := llm.ChooseActivity(ctx, h.llm, descs[playerID].Name, desc.Identity, desc.Plan, options)
	if err != nil {
		logFallback("activity choice", err, "agent", agentID)
		return h.randomActivity(now)
	}
	return Activities[i].start(now)
}
