package engine

import (
	"time"

	"github.com/talgya/mini-town/internal/pathfind"
)

// Config holds the step loop limits and the game's behavioral constants.
type Config struct {
	// Step loop
	TickDuration        time.Duration // fixed simulated time per tick
	StepDuration        time.Duration // wall time between steps
	MaxTicksPerStep     int
	MaxInputsPerStep    int
	MaxPathfindsPerStep int
	HistoryBudgetBytes  int           // packed history size above which resolution is reduced
	ConflictRetries     int           // reruns of a step that lost a commit race
	ConflictBackoff     time.Duration // base delay between reruns, doubled and jittered

	// Conversations
	ConversationDistance       float64 // tiles; close enough to start talking
	MidpointThreshold          float64 // tiles; farther than this, walk to the midpoint
	TypingTimeout              time.Duration
	InviteTimeout              time.Duration
	InviteAcceptProbability    float64
	AwkwardConversationTimeout time.Duration
	MaxConversationDuration    time.Duration
	MaxConversationMessages    int
	MessageCooldown            time.Duration
	ConversationCooldown       time.Duration
	ActivityCooldown           time.Duration
	PlayerConversationCooldown time.Duration

	// Operations and movement
	OperationTimeout   time.Duration
	PathfindingTimeout time.Duration
	PathfindingBackoff time.Duration
	RescueRadius       int // tiles searched when snapping a stuck player free

	// Players
	MaxHumanPlayers  int
	HumanIdleTooLong time.Duration

	Pathfinding pathfind.Config
}

// DefaultConfig returns the standard town tuning.
func DefaultConfig() Config {
	return Config{
		TickDuration:        16 * time.Millisecond,
		StepDuration:        time.Second,
		MaxTicksPerStep:     600,
		MaxInputsPerStep:    32,
		MaxPathfindsPerStep: 16,
		HistoryBudgetBytes:  64 * 1024,
		ConflictRetries:     3,
		ConflictBackoff:     50 * time.Millisecond,

		ConversationDistance:       1.3,
		MidpointThreshold:          4,
		TypingTimeout:              15 * time.Second,
		InviteTimeout:              60 * time.Second,
		InviteAcceptProbability:    0.8,
		AwkwardConversationTimeout: 60 * time.Second,
		MaxConversationDuration:    10 * time.Minute,
		MaxConversationMessages:    8,
		MessageCooldown:            2 * time.Second,
		ConversationCooldown:       15 * time.Second,
		ActivityCooldown:           10 * time.Second,
		PlayerConversationCooldown: 60 * time.Second,

		OperationTimeout:   60 * time.Second,
		PathfindingTimeout: 60 * time.Second,
		PathfindingBackoff: time.Second,
		RescueRadius:       6,

		MaxHumanPlayers:  8,
		HumanIdleTooLong: 5 * time.Minute,

		Pathfinding: pathfind.DefaultConfig(),
	}
}

// ms converts a duration to simulation milliseconds.
func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
