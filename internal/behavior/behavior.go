// Package behavior decides what agents do when the simulation asks: where to
// wander, whom to talk to, what to say and what to remember. Each handler
// turns one operation into the input that completes it.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/entropy"
	"github.com/talgya/mini-town/internal/geom"
	"github.com/talgya/mini-town/internal/llm"
	"github.com/talgya/mini-town/internal/persistence"
)

// Store is the slice of persistence the handlers read and write.
type Store interface {
	PlayerDescriptions(ctx context.Context, worldID string) (map[agents.PlayerID]agents.PlayerDescription, error)
	AgentDescription(ctx context.Context, worldID string, id agents.AgentID) (*agents.AgentDescription, error)
	RecentPartners(ctx context.Context, worldID string, player agents.PlayerID, since float64) ([]agents.PlayerID, error)
	ListMessages(ctx context.Context, worldID string, id agents.ConversationID) ([]persistence.Message, error)
	AddMessage(ctx context.Context, m persistence.Message) error
	AddMemory(ctx context.Context, worldID string, m agents.Memory) (int64, error)
	RecallMemories(ctx context.Context, worldID string, player agents.PlayerID, now float64, count int) ([]agents.Memory, error)
}

// Config holds the cooldowns the decisions respect.
type Config struct {
	ConversationCooldown       time.Duration
	ActivityCooldown           time.Duration
	PlayerConversationCooldown time.Duration
	MemoryCount                int // memories recalled when speaking
	MaxTokens                  int
	DefaultImportance          float64
}

// ConfigFrom derives the handler config from the game's tuning.
func ConfigFrom(c engine.Config) Config {
	return Config{
		ConversationCooldown:       c.ConversationCooldown,
		ActivityCooldown:           c.ActivityCooldown,
		PlayerConversationCooldown: c.PlayerConversationCooldown,
		MemoryCount:                3,
		MaxTokens:                  120,
		DefaultImportance:          5,
	}
}

// Handler executes operations. It is safe for concurrent use.
type Handler struct {
	cfg   Config
	store Store
	llm   llm.Completer
	now   func() float64

	mu  sync.Mutex
	rng *entropy.Source
}

// NewHandler creates a handler. A nil or disabled completer makes every
// decision fall back to canned behavior.
func NewHandler(cfg Config, store Store, completer llm.Completer, seed uint64) *Handler {
	if completer == nil {
		completer = (*llm.Client)(nil)
	}
	return &Handler{
		cfg:   cfg,
		store: store,
		llm:   completer,
		now:   engine.WallClock,
		rng:   entropy.New(seed),
	}
}

// Execute runs one operation and returns its completion input.
func (h *Handler) Execute(ctx context.Context, worldID string, op engine.Operation) (engine.Input, error) {
	switch op := op.(type) {
	case engine.AgentDoSomething:
		return h.agentDoSomething(ctx, worldID, op)
	case engine.AgentRememberConversation:
		return h.rememberConversation(ctx, worldID, op)
	case engine.AgentGenerateMessage:
		return h.generateMessage(ctx, worldID, op)
	case engine.PlayerAgentDoSomething:
		return h.playerAgentDoSomething(ctx, worldID, op)
	default:
		return nil, fmt.Errorf("unhandled operation %s", op.OperationName())
	}
}

func (h *Handler) agentDoSomething(ctx context.Context, worldID string, op engine.AgentDoSomething) (engine.Input, error) {
	p, a, now := op.Player, op.Agent, op.Now
	out := engine.FinishDoSomething{OperationID: op.OperationID, AgentID: op.AgentID}

	justLeftConversation := a.LastConversation != nil && now < *a.LastConversation+ms(h.cfg.ConversationCooldown)
	recentlyAttemptedInvite := a.LastInviteAttempt != nil && now < *a.LastInviteAttempt+ms(h.cfg.ConversationCooldown)
	recentActivity := p.Activity != nil && now < p.Activity.Until+ms(h.cfg.ActivityCooldown)

	if p.Pathfinding == nil {
		if recentActivity || justLeftConversation {
			dest := h.wanderDestination(op.MapWidth, op.MapHeight)
			out.Destination = &dest
		} else {
			activity := h.chooseActivity(ctx, worldID, op.AgentID, p.ID, now)
			out.Activity = &activity
		}
		return out, nil
	}

	if justLeftConversation || recentlyAttemptedInvite {
		return out, nil
	}
	invitee, err := h.conversationCandidate(ctx, worldID, p, op.OtherFreePlayers, now)
	if err != nil {
		return nil, err
	}
	out.Invitee = invitee
	return out, nil
}

func (h *Handler) playerAgentDoSomething(ctx context.Context, worldID string, op engine.PlayerAgentDoSomething) (engine.Input, error) {
	p, now := op.Player, op.Now
	out := engine.PlayerAgentFinishDoSomething{OperationID: op.OperationID, PlayerID: op.PlayerID}

	if p.Activity != nil && now < p.Activity.Until+ms(h.cfg.ActivityCooldown) {
		dest := h.wanderDestination(op.MapWidth, op.MapHeight)
		out.Destination = &dest
		return out, nil
	}
	activity := h.randomActivity(now)
	out.Activity = &activity
	return out, nil
}

// conversationCandidate returns the nearest free player this one hasn't
// talked to recently, or nil.
func (h *Handler) conversationCandidate(ctx context.Context, worldID string, p agents.Player, free []agents.Player, now float64) (*agents.PlayerID, error) {
	recent, err := h.store.RecentPartners(ctx, worldID, p.ID, now-ms(h.cfg.PlayerConversationCooldown))
	if err != nil {
		return nil, fmt.Errorf("recent partners of %s: %w", p.ID, err)
	}
	skip := make(map[agents.PlayerID]bool, len(recent)+1)
	skip[p.ID] = true
	for _, id := range recent {
		skip[id] = true
	}

	var best *agents.PlayerID
	bestDistance := math.Inf(1)
	for _, other := range free {
		if skip[other.ID] {
			continue
		}
		d := geom.Distance(p.Position, other.Position)
		if d < bestDistance || (d == bestDistance && other.ID < *best) {
			id := other.ID
			best, bestDistance = &id, d
		}
	}
	return best, nil
}

// wanderDestination picks a tile away from the map's edge.
func (h *Handler) wanderDestination(width, height int) geom.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return geom.Point{
		X: float64(1 + h.rng.IntN(max(1, width-2))),
		Y: float64(1 + h.rng.IntN(max(1, height-2))),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func logFallback(what string, err error, args ...any) {
	if errors.Is(err, llm.ErrDisabled) {
		return
	}
	slog.Warn(what+" fell back", append(args, "error", err)...)
}
