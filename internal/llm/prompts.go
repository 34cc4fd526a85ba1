package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Completer is anything that can answer a prompt. *Client implements it.
type Completer interface {
	Enabled() bool
	Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error)
}

// Line is one message of a transcript.
type Line struct {
	Author string
	Text   string
}

// ConversationContext is what a character knows when it speaks.
type ConversationContext struct {
	Name      string
	Identity  string
	Plan      string
	OtherName string
	OtherBio  string

	Memories   []string // most relevant first
	Transcript []Line
}

// Message kinds, matching the simulation's prompts.
const (
	KindStart    = "start"
	KindContinue = "continue"
	KindLeave    = "leave"
)

// GenerateMessage writes the next line a character says.
func GenerateMessage(ctx context.Context, c Completer, kind string, cc *ConversationContext, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	response, err := c.Complete(ctx, buildMessageSystemPrompt(cc), buildMessageUserPrompt(kind, cc), maxTokens)
	if err != nil {
		return "", fmt.Errorf("generate %s message: %w", kind, err)
	}
	line := CleanLine(response, cc.Name)
	if line == "" {
		return "", fmt.Errorf("generate %s message: empty line", kind)
	}
	return line, nil
}

func buildMessageSystemPrompt(cc *ConversationContext) string {
	return fmt.Sprintf(
		`You are %s, a resident of a small town. %s
%s

You are talking with %s. %s
Stay in character. Reply with a single short line of dialogue, no quotes, no stage directions.`,
		cc.Name, cc.Identity, cc.Plan, cc.OtherName, cc.OtherBio)
}

func buildMessageUserPrompt(kind string, cc *ConversationContext) string {
	var b strings.Builder

	if len(cc.Memories) > 0 {
		b.WriteString("Things you remember:\n")
		for _, m := range cc.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	if len(cc.Transcript) > 0 {
		b.WriteString("The conversation so far:\n")
		for _, l := range cc.Transcript {
			fmt.Fprintf(&b, "%s: %s\n", l.Author, l.Text)
		}
		b.WriteString("\n")
	}

	switch kind {
	case KindStart:
		fmt.Fprintf(&b, "You just ran into %s. Open the conversation.", cc.OtherName)
	case KindLeave:
		fmt.Fprintf(&b, "You've been talking for a while and want to go. Politely say goodbye to %s.", cc.OtherName)
	default:
		fmt.Fprintf(&b, "Say the next thing to %s.", cc.OtherName)
	}
	return b.String()
}

// SummarizeConversation condenses a transcript into a first-person memory.
func SummarizeConversation(ctx context.Context, c Completer, name string, transcript []Line, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	var b strings.Builder
	for _, l := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", l.Author, l.Text)
	}
	b.WriteString("\nSummarize this conversation in one or two sentences from your point of view, starting with \"I\".")

	system := fmt.Sprintf("You are %s, remembering a conversation you just had.", name)
	response, err := c.Complete(ctx, system, b.String(), maxTokens)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", fmt.Errorf("summarize conversation: empty summary")
	}
	return summary, nil
}

// RateImportance asks how memorable a memory is, on a 0–9 scale.
func RateImportance(ctx context.Context, c Completer, name, memory string) (float64, error) {
	if !c.Enabled() {
		return 0, ErrDisabled
	}
	system := fmt.Sprintf("You are %s.", name)
	user := fmt.Sprintf(`On a scale of 0 to 9, where 0 is purely mundane (brushing teeth, making bed) and 9 is extremely poignant (a breakup, college acceptance), rate how memorable this is to you:
%s
Answer with a single number.`, memory)
	response, err := c.Complete(ctx, system, user, 8)
	if err != nil {
		return 0, fmt.Errorf("rate importance: %w", err)
	}
	return ParseImportance(response)
}

// ChooseActivity picks one of options for a character and returns its index.
func ChooseActivity(ctx context.Context, c Completer, name, identity, plan string, options []string) (int, error) {
	if !c.Enabled() {
		return 0, ErrDisabled
	}
	var b strings.Builder
	b.WriteString("You have a moment to yourself. Which of these do you do?\n")
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	b.WriteString("Answer with the number only.")

	system := fmt.Sprintf("You are %s. %s %s", name, identity, plan)
	response, err := c.Complete(ctx, system, b.String(), 8)
	if err != nil {
		return 0, fmt.Errorf("choose activity: %w", err)
	}
	n, err := firstNumber(response)
	if err != nil {
		return 0, fmt.Errorf("choose activity: %w", err)
	}
	i := int(n) - 1
	if i < 0 || i >= len(options) {
		return 0, fmt.Errorf("choose activity: option %d out of range", i+1)
	}
	return i, nil
}

// CleanLine strips the wrapping a model tends to put around dialogue: a
// leading speaker label, surrounding quotes and anything past the first line.
func CleanLine(s, speaker string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if speaker != "" {
		s = strings.TrimSpace(strings.TrimPrefix(s, speaker+":"))
	}
	return strings.Trim(s, "\"“” ")
}

// ParseImportance reads the first number in a response, clamped to 0–9.
func ParseImportance(s string) (float64, error) {
	v, err := firstNumber(s)
	if err != nil {
		return 0, fmt.Errorf("parse importance %q: %w", s, err)
	}
	return max(0, min(9, v)), nil
}

func firstNumber(s string) (float64, error) {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0, fmt.Errorf("no number")
	}
	end := start
	for end < len(s) && (unicode.IsDigit(rune(s[end])) || s[end] == '.') {
		end++
	}
	return strconv.ParseFloat(strings.TrimSuffix(s[start:end], "."), 64)
}
