package behavior

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/llm"
	"github.com/talgya/mini-town/internal/persistence"
)

// generateMessage writes the agent's next line and stores it under the
// message uuid the simulation reserved with the typing lock.
func (h *Handler) generateMessage(ctx context.Context, worldID string, op engine.AgentGenerateMessage) (engine.Input, error) {
	descs, err := h.store.PlayerDescriptions(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}
	history, err := h.store.ListMessages(ctx, worldID, op.ConversationID)
	if err != nil {
		return nil, err
	}
	me, other := descs[op.PlayerID], descs[op.OtherPlayerID]

	text := fallbackLine(op.Kind, me.Name, other.Name, len(history))
	if h.llm.Enabled() {
		cc, err := h.conversationContext(ctx, worldID, op, descs, history)
		if err == nil {
			var line string
			line, err = llm.GenerateMessage(ctx, h.llm, string(op.Kind), cc, h.cfg.MaxTokens)
			if err == nil {
				text = line
			}
		}
		if err != nil {
			logFallback("message", err, "world", worldID, "player", op.PlayerID, "kind", op.Kind)
		}
	}

	now := h.now()
	if err := h.store.AddMessage(ctx, persistence.Message{
		WorldID:        worldID,
		MessageUUID:    op.MessageUUID,
		ConversationID: op.ConversationID,
		Author:         op.PlayerID,
		Text:           text,
		Created:        now,
	}); err != nil {
		return nil, err
	}

	return engine.AgentFinishSendingMessage{
		OperationID:       op.OperationID,
		AgentID:           op.AgentID,
		ConversationID:    op.ConversationID,
		Timestamp:         now,
		MessageUUID:       op.MessageUUID,
		LeaveConversation: op.Kind == engine.MessageLeave,
	}, nil
}

func (h *Handler) conversationContext(ctx context.Context, worldID string, op engine.AgentGenerateMessage,
	descs map[agents.PlayerID]agents.PlayerDescription, history []persistence.Message) (*llm.ConversationContext, error) {
	desc, err := h.store.AgentDescription(ctx, worldID, op.AgentID)
	if err != nil {
		return nil, err
	}
	memories, err := h.store.RecallMemories(ctx, worldID, op.PlayerID, op.Now, h.cfg.MemoryCount)
	if err != nil {
		return nil, err
	}

	me, other := descs[op.PlayerID], descs[op.OtherPlayerID]
	cc := &llm.ConversationContext{
		Name:      me.Name,
		Identity:  desc.Identity,
		Plan:      desc.Plan,
		OtherName: other.Name,
		OtherBio:  other.Description,
	}
	for _, m := range memories {
		cc.Memories = append(cc.Memories, m.Description)
	}
	cc.Transcript = transcript(history, descs)
	return cc, nil
}

func transcript(history []persistence.Message, descs map[agents.PlayerID]agents.PlayerDescription) []llm.Line {
	lines := make([]llm.Line, len(history))
	for i, m := range history {
		name := descs[m.Author].Name
		if name == "" {
			name = m.Author.String()
		}
		lines[i] = llm.Line{Author: name, Text: m.Text}
	}
	return lines
}

var continueLines = []string{
	"How has your day been?",
	"Have you been down by the ponds lately?",
	"I keep meaning to fix my fence.",
	"Did you hear the bakery has a new bread?",
	"It's a fine day for a walk.",
}

func fallbackLine(kind engine.MessageKind, me, other string, said int) string {
	switch kind {
	case engine.MessageStart:
		return fmt.Sprintf("Hi %s! I'm %s.", other, me)
	case engine.MessageLeave:
		return fmt.Sprintf("I should get going. Nice talking to you, %s!", other)
	default:
		return continueLines[said%len(continueLines)]
	}
}

// rememberConversation summarizes a finished conversation into a memory for
// the agent's player.
func (h *Handler) rememberConversation(ctx context.Context, worldID string, op engine.AgentRememberConversation) (engine.Input, error) {
	done := engine.FinishRememberConversation{OperationID: op.OperationID, AgentID: op.AgentID}

	history, err := h.store.ListMessages(ctx, worldID, op.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return done, nil
	}
	descs, err := h.store.PlayerDescriptions(ctx, worldID)
	if err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}
	name := descs[op.PlayerID].Name
	lines := transcript(history, descs)

	summary, err := llm.SummarizeConversation(ctx, h.llm, name, lines, h.cfg.MaxTokens)
	if err != nil {
		logFallback("summary", err, "world", worldID, "conversation", op.ConversationID)
		summary = fallbackSummary(op.PlayerID, history, descs)
	}
	importance, err := llm.RateImportance(ctx, h.llm, name, summary)
	if err != nil {
		logFallback("importance", err, "world", worldID, "conversation", op.ConversationID)
		importance = h.cfg.DefaultImportance
	}

	if _, err := h.store.AddMemory(ctx, worldID, agents.Memory{
		PlayerID:       op.PlayerID,
		ConversationID: op.ConversationID,
		Description:    summary,
		Importance:     importance,
		Created:        op.Now,
	}); err != nil {
		return nil, err
	}
	return done, nil
}

func fallbackSummary(self agents.PlayerID, history []persistence.Message, descs map[agents.PlayerID]agents.PlayerDescription) string {
	var others []string
	seen := map[agents.PlayerID]bool{self: true}
	for _, m := range history {
		if !seen[m.Author] {
			seen[m.Author] = true
			others = append(others, descs[m.Author].Name)
		}
	}
	who := "myself"
	if len(others) > 0 {
		who = strings.Join(others, " and ")
	}
	return fmt.Sprintf("I talked with %s. It started with %q.", who, history[0].Text)
}
