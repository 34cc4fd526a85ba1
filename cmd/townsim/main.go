// Command townsim runs the town: one engine per running world, a pool of
// agent workers and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/talgya/mini-town/internal/agents"
	"github.com/talgya/mini-town/internal/api"
	"github.com/talgya/mini-town/internal/behavior"
	"github.com/talgya/mini-town/internal/config"
	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/entropy"
	"github.com/talgya/mini-town/internal/llm"
	"github.com/talgya/mini-town/internal/ops"
	"github.com/talgya/mini-town/internal/persistence"
	"github.com/talgya/mini-town/internal/world"
)

const defaultWorldKey = "default_world"

func main() {
	configPath := flag.String("config", "townsim.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	slog.Info("townsim starting", "config", *configPath, "db", cfg.Store.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(cfg.Store.Path, cfg.StoreOptions())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// ── Default World ────────────────────────────────────────────────
	worldID, err := ensureWorld(ctx, db, cfg)
	if err != nil {
		slog.Error("failed to prepare world", "error", err)
		os.Exit(1)
	}
	slog.Info("world ready", "world", worldID)

	// ── Agent Workers ────────────────────────────────────────────────
	engineCfg := cfg.EngineConfig()
	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.CallsPerMinute)
	if client.Enabled() {
		slog.Info("language model enabled", "calls_per_minute", cfg.LLM.CallsPerMinute)
	} else {
		slog.Info("no ANTHROPIC_API_KEY set, agents use scripted behavior")
	}
	behaviorCfg := behavior.ConfigFrom(engineCfg)
	behaviorCfg.MaxTokens = cfg.LLM.MaxTokens
	handler := behavior.NewHandler(behaviorCfg, db, client, entropy.NewSeed())

	// Workers outlive the engines so in-flight completions still land.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	dispatcher := ops.NewDispatcher(cfg.WorkerOptions(), handler, db)
	dispatcher.Start(workerCtx)

	// ── HTTP API ─────────────────────────────────────────────────────
	srv := &api.Server{
		DB:         db,
		Addr:       cfg.MetricsAddr,
		AdminKey:   cfg.API.AdminKey,
		InputRate:  cfg.API.InputRate,
		InputBurst: cfg.API.InputBurst,
	}
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			slog.Error("HTTP API failed", "error", err)
		}
	}()

	// ── Engines ──────────────────────────────────────────────────────
	superviseEngines(ctx, db, engineCfg, dispatcher)

	slog.Info("shutting down workers")
	cancelWorkers()
	dispatcher.Wait()
	slog.Info("townsim stopped")
}

// ensureWorld resumes the default world, or creates and populates one.
func ensureWorld(ctx context.Context, db *persistence.DB, cfg config.Config) (string, error) {
	id, err := db.GetMeta(ctx, defaultWorldKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return "", err
	}

	seed := cfg.World.Seed
	if seed == 0 {
		seed = entropy.NewSeed()
	}
	gen := world.DefaultGenConfig()
	gen.Width, gen.Height = cfg.World.Width, cfg.World.Height
	gen.Seed = int64(seed >> 1)
	m := world.Generate(gen)

	now := engine.WallClock()
	id, err = db.CreateWorld(ctx, m, seed, now)
	if err != nil {
		return "", err
	}
	if err := db.SaveMeta(ctx, defaultWorldKey, id); err != nil {
		return "", err
	}

	for _, c := range agents.NewSpawner(gen.Seed).Spawn(cfg.World.Agents) {
		in := engine.CreateAgent{
			Name:        c.Name,
			Character:   c.Character,
			Description: c.Identity,
			Identity:    c.Identity,
			Plan:        c.Plan,
		}
		if _, err := db.SendInput(ctx, id, in, now); err != nil {
			return "", err
		}
	}
	slog.Info("created world", "world", id, "seed", seed,
		"width", m.Width, "height", m.Height, "agents", cfg.World.Agents)
	return id, nil
}

// superviseEngines keeps one runner going for every running world until ctx
// is cancelled. Worlds started through the API are picked up on the next poll.
func superviseEngines(ctx context.Context, db *persistence.DB, cfg engine.Config, d engine.Dispatcher) {
	var (
		mu      sync.Mutex
		running = make(map[string]bool)
		wg      sync.WaitGroup
	)

	poll := func() {
		ids, err := db.RunningWorlds(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("list running worlds", "error", err)
			}
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, id := range ids {
			if running[id] {
				continue
			}
			running[id] = true
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := engine.NewRunner(id, cfg, db, d).Run(ctx); err != nil {
					slog.Error("engine exited", "world", id, "error", err)
				}
				mu.Lock()
				delete(running, id)
				mu.Unlock()
			}(id)
		}
	}

	poll()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			poll()
		}
	}
}
