// Package config loads the town's settings: a yaml file for tuning, an
// optional .env file and environment overrides for deployment values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/ops"
	"github.com/talgya/mini-town/internal/pathfind"
	"github.com/talgya/mini-town/internal/persistence"
)

// =============================================================================
// FILE LAYOUT
// =============================================================================

// Config is the complete application configuration.
type Config struct {
	Engine      EngineConfig `yaml:"engine"`
	Game        GameConfig   `yaml:"game"`
	Store       StoreConfig  `yaml:"store"`
	Workers     WorkerConfig `yaml:"workers"`
	LLM         LLMConfig    `yaml:"llm"`
	World       WorldConfig  `yaml:"world"`
	API         APIConfig    `yaml:"api"`
	MetricsAddr string       `yaml:"metrics_addr"`
	LogLevel    string       `yaml:"log_level"`
}

// EngineConfig bounds the step loop. Durations are milliseconds.
type EngineConfig struct {
	TickDurationMs      int `yaml:"tick_duration_ms"`
	StepDurationMs      int `yaml:"step_duration_ms"`
	MaxTicksPerStep     int `yaml:"max_ticks_per_step"`
	MaxInputsPerStep    int `yaml:"max_inputs_per_step"`
	MaxPathfindsPerStep int `yaml:"max_pathfinds_per_step"`
	CommitRetries       int `yaml:"commit_retries"`
	CommitBackoffMs     int `yaml:"commit_backoff_ms"`
	ArchiveBatch        int `yaml:"archive_batch"`
	HistoryBudgetBytes  int `yaml:"history_budget_bytes"`
}

// GameConfig holds the behavioral constants. Distances are tiles.
type GameConfig struct {
	ConversationDistance       float64       `yaml:"conversation_distance"`
	MidpointThreshold          float64       `yaml:"midpoint_threshold"`
	CollisionThreshold         float64       `yaml:"collision_threshold"`
	TypingTimeout              time.Duration `yaml:"typing_timeout"`
	InviteTimeout              time.Duration `yaml:"invite_timeout"`
	InviteAcceptProbability    float64       `yaml:"invite_accept_probability"`
	AwkwardConversationTimeout time.Duration `yaml:"awkward_conversation_timeout"`
	MaxConversationDuration    time.Duration `yaml:"max_conversation_duration"`
	MaxConversationMessages    int           `yaml:"max_conversation_messages"`
	MessageCooldown            time.Duration `yaml:"message_cooldown"`
	ConversationCooldown       time.Duration `yaml:"conversation_cooldown"`
	ActivityCooldown           time.Duration `yaml:"activity_cooldown"`
	PlayerConversationCooldown time.Duration `yaml:"player_conversation_cooldown"`
	OperationTimeout           time.Duration `yaml:"operation_timeout"`
	PathfindingTimeout         time.Duration `yaml:"pathfinding_timeout"`
	PathfindingBackoff         time.Duration `yaml:"pathfinding_backoff"`
	MovementSpeed              float64       `yaml:"movement_speed"` // tiles/s
	MaxHumanPlayers            int           `yaml:"max_human_players"`
	HumanIdleTooLong           time.Duration `yaml:"human_idle_too_long"`
	PathfindMaxIterations      int           `yaml:"pathfind_max_iterations"`
	RouteCacheTTL              time.Duration `yaml:"route_cache_ttl"`
	RouteCacheSize             int           `yaml:"route_cache_size"`
	RescueRadius               int           `yaml:"rescue_radius"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig sizes the operation worker pool.
type WorkerConfig struct {
	Count         int           `yaml:"count"`
	QueueSize     int           `yaml:"queue_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LLMConfig configures the text model. The key only comes from the environment.
type LLMConfig struct {
	APIKey         string `yaml:"-"`
	MaxTokens      int    `yaml:"max_tokens"`
	CallsPerMinute int    `yaml:"calls_per_minute"`
}

// APIConfig limits the HTTP surface. The admin key only comes from the environment.
type APIConfig struct {
	AdminKey   string  `yaml:"-"`
	InputRate  float64 `yaml:"input_rate"` // per client per second
	InputBurst int     `yaml:"input_burst"`
}

// WorldConfig shapes a newly created world.
type WorldConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Seed   uint64 `yaml:"seed"` // 0 picks a random seed
	Agents int    `yaml:"agents"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the configuration used when no file is given.
func Default() Config {
	e := engine.DefaultConfig()
	p := pathfind.DefaultConfig()
	w := ops.DefaultConfig()
	s := persistence.DefaultOptions()
	return Config{
		Engine: EngineConfig{
			TickDurationMs:      int(e.TickDuration / time.Millisecond),
			StepDurationMs:      int(e.StepDuration / time.Millisecond),
			MaxTicksPerStep:     e.MaxTicksPerStep,
			MaxInputsPerStep:    e.MaxInputsPerStep,
			MaxPathfindsPerStep: e.MaxPathfindsPerStep,
			CommitRetries:       s.CommitRetries,
			CommitBackoffMs:     int(s.CommitBackoff / time.Millisecond),
			ArchiveBatch:        s.ArchiveBatch,
			HistoryBudgetBytes:  e.HistoryBudgetBytes,
		},
		Game: GameConfig{
			ConversationDistance:       e.ConversationDistance,
			MidpointThreshold:          e.MidpointThreshold,
			CollisionThreshold:         p.CollisionThreshold,
			TypingTimeout:              e.TypingTimeout,
			InviteTimeout:              e.InviteTimeout,
			InviteAcceptProbability:    e.InviteAcceptProbability,
			AwkwardConversationTimeout: e.AwkwardConversationTimeout,
			MaxConversationDuration:    e.MaxConversationDuration,
			MaxConversationMessages:    e.MaxConversationMessages,
			MessageCooldown:            e.MessageCooldown,
			ConversationCooldown:       e.ConversationCooldown,
			ActivityCooldown:           e.ActivityCooldown,
			PlayerConversationCooldown: e.PlayerConversationCooldown,
			OperationTimeout:           e.OperationTimeout,
			PathfindingTimeout:         e.PathfindingTimeout,
			PathfindingBackoff:         e.PathfindingBackoff,
			MovementSpeed:              p.MovementSpeed,
			MaxHumanPlayers:            e.MaxHumanPlayers,
			HumanIdleTooLong:           e.HumanIdleTooLong,
			PathfindMaxIterations:      p.MaxIterations,
			RouteCacheTTL:              p.CacheTTL,
			RouteCacheSize:             p.CacheSize,
			RescueRadius:               e.RescueRadius,
		},
		Store: StoreConfig{Path: "data/town.db"},
		Workers: WorkerConfig{
			Count:         w.Workers,
			QueueSize:     w.QueueSize,
			RatePerSecond: w.RatePerSecond,
			Burst:         w.Burst,
			Timeout:       w.Timeout,
		},
		LLM:         LLMConfig{MaxTokens: 120, CallsPerMinute: 20},
		World:       WorldConfig{Width: 48, Height: 32, Agents: 5},
		API:         APIConfig{InputRate: 5, InputBurst: 10},
		MetricsAddr: ":8090",
		LogLevel:    "info",
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is not an error; an unreadable or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("no config file, using defaults", "path", path)
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TOWNSIM_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TOWNSIM_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("TOWNSIM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if n := getEnvInt("TOWNSIM_WORKERS", 0); n > 0 {
		cfg.Workers.Count = n
	}
	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.API.AdminKey = os.Getenv("TOWNSIM_ADMIN_KEY")
}

// Validate rejects settings the simulation cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.TickDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_duration_ms must be positive"))
	}
	if c.Engine.StepDurationMs < c.Engine.TickDurationMs {
		errs = append(errs, fmt.Errorf("engine.step_duration_ms must be at least one tick"))
	}
	if c.Engine.MaxTicksPerStep <= 0 || c.Engine.MaxInputsPerStep <= 0 {
		errs = append(errs, fmt.Errorf("engine step limits must be positive"))
	}
	if c.Engine.CommitRetries < 0 || c.Engine.CommitBackoffMs < 0 {
		errs = append(errs, fmt.Errorf("engine commit retries and backoff must not be negative"))
	}
	if p := c.Game.InviteAcceptProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("game.invite_accept_probability %v outside [0, 1]", p))
	}
	if c.Game.MovementSpeed <= 0 {
		errs = append(errs, fmt.Errorf("game.movement_speed must be positive"))
	}
	if c.World.Width < 3 || c.World.Height < 3 {
		errs = append(errs, fmt.Errorf("world must be at least 3x3 tiles"))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// EngineConfig returns the simulation tuning.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		TickDuration:        time.Duration(c.Engine.TickDurationMs) * time.Millisecond,
		StepDuration:        time.Duration(c.Engine.StepDurationMs) * time.Millisecond,
		MaxTicksPerStep:     c.Engine.MaxTicksPerStep,
		MaxInputsPerStep:    c.Engine.MaxInputsPerStep,
		MaxPathfindsPerStep: c.Engine.MaxPathfindsPerStep,
		HistoryBudgetBytes:  c.Engine.HistoryBudgetBytes,
		ConflictRetries:     c.Engine.CommitRetries,
		ConflictBackoff:     time.Duration(c.Engine.CommitBackoffMs) * time.Millisecond,

		ConversationDistance:       c.Game.ConversationDistance,
		MidpointThreshold:          c.Game.MidpointThreshold,
		TypingTimeout:              c.Game.TypingTimeout,
		InviteTimeout:              c.Game.InviteTimeout,
		InviteAcceptProbability:    c.Game.InviteAcceptProbability,
		AwkwardConversationTimeout: c.Game.AwkwardConversationTimeout,
		MaxConversationDuration:    c.Game.MaxConversationDuration,
		MaxConversationMessages:    c.Game.MaxConversationMessages,
		MessageCooldown:            c.Game.MessageCooldown,
		ConversationCooldown:       c.Game.ConversationCooldown,
		ActivityCooldown:           c.Game.ActivityCooldown,
		PlayerConversationCooldown: c.Game.PlayerConversationCooldown,

		OperationTimeout:   c.Game.OperationTimeout,
		PathfindingTimeout: c.Game.PathfindingTimeout,
		PathfindingBackoff: c.Game.PathfindingBackoff,
		RescueRadius:       c.Game.RescueRadius,

		MaxHumanPlayers:  c.Game.MaxHumanPlayers,
		HumanIdleTooLong: c.Game.HumanIdleTooLong,

		Pathfinding: pathfind.Config{
			CollisionThreshold: c.Game.CollisionThreshold,
			MovementSpeed:      c.Game.MovementSpeed,
			MaxIterations:      c.Game.PathfindMaxIterations,
			CacheTTL:           c.Game.RouteCacheTTL,
			CacheSize:          c.Game.RouteCacheSize,
		},
	}
}

// StoreOptions returns the persistence settings.
func (c Config) StoreOptions() persistence.Options {
	return persistence.Options{
		CommitRetries: c.Engine.CommitRetries,
		CommitBackoff: time.Duration(c.Engine.CommitBackoffMs) * time.Millisecond,
		ArchiveBatch:  max(1, c.Engine.ArchiveBatch),
	}
}

// WorkerOptions returns the operation pool settings.
func (c Config) WorkerOptions() ops.Config {
	return ops.Config{
		Workers:       c.Workers.Count,
		QueueSize:     c.Workers.QueueSize,
		RatePerSecond: c.Workers.RatePerSecond,
		Burst:         c.Workers.Burst,
		Timeout:       c.Workers.Timeout,
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric env var", "key", key, "value", v)
		return fallback
	}
	return n
}
