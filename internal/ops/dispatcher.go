// Package ops runs operations out of the simulation loop. Committed operations
// are queued as tasks, executed by a pool of workers under a shared rate
// limit, and their completions are appended to the world's input queue.
package ops

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/mini-town/internal/engine"
	"github.com/talgya/mini-town/internal/metrics"
)

// Executor turns an operation into the input that completes it.
type Executor interface {
	Execute(ctx context.Context, worldID string, op engine.Operation) (engine.Input, error)
}

// Sink accepts completion inputs. persistence.DB implements it.
type Sink interface {
	SendInput(ctx context.Context, worldID string, in engine.Input, received float64) (int64, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration // per operation
}

// DefaultConfig returns the standard pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     256,
		RatePerSecond: 5,
		Burst:         5,
		Timeout:       45 * time.Second,
	}
}

type task struct {
	worldID string
	op      engine.Operation
}

type completion struct {
	worldID string
	name    string
	input   engine.Input
}

// Dispatcher is a fire-and-forget operation queue. Results travel over a
// completion channel to a single pump that writes them to the sink, so a
// slow worker never blocks a step.
type Dispatcher struct {
	cfg     Config
	exec    Executor
	sink    Sink
	limiter *rate.Limiter
	now     func() float64

	tasks       chan task
	completions chan completion
	workers     sync.WaitGroup
	pump        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before dispatching.
func NewDispatcher(cfg Config, exec Executor, sink Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dispatcher{
		cfg:         cfg,
		exec:        exec,
		sink:        sink,
		limiter:     rate.NewLimiter(limit, max(1, cfg.Burst)),
		now:         engine.WallClock,
		tasks:       make(chan task, cfg.QueueSize),
		completions: make(chan completion, cfg.QueueSize),
	}
}

// Dispatch queues operations without blocking. When the queue is full the
// operation is dropped; the simulation times it out and asks again.
func (d *Dispatcher) Dispatch(ctx context.Context, worldID string, ops []engine.Operation) {
	for _, op := range ops {
		select {
		case d.tasks <- task{worldID: worldID, op: op}:
			metrics.OperationsTotal.WithLabelValues(op.OperationName(), "dispatched").Inc()
		default:
			metrics.OperationsTotal.WithLabelValues(op.OperationName(), "dropped").Inc()
			slog.Warn("operation queue full, dropping", "world", worldID, "operation", op.OperationName(), "id", op.ID())
		}
	}
}

// Start launches the workers and the completion pump. They run until ctx is
// cancelled; Wait blocks until they have drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.work(ctx, i)
	}
	d.pump.Add(1)
	go d.pumpCompletions()

	go func() {
		d.workers.Wait()
		close(d.completions)
	}()
	slog.Info("operation workers started", "workers", d.cfg.Workers, "queue", d.cfg.QueueSize, "rate", d.cfg.RatePerSecond)
}

// Wait blocks until every worker has stopped and every completion has been
// written.
func (d *Dispatcher) Wait() {
	d.workers.Wait()
	d.pump.Wait()
}

func (d *Dispatcher) work(ctx context.Context, n int) {
	defer d.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.run(ctx, n, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, n int, t task) {
	name := t.op.OperationName()
	defer func() {
		if r := recover(); r != nil {
			metrics.OperationsTotal.WithLabelValues(name, "failed").Inc()
			slog.Error("operation panicked", "world", t.worldID, "operation", name, "id", t.op.ID(),
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	opCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	in, err := d.exec.Execute(opCtx, t.worldID, t.op)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(name, "failed").Inc()
		slog.Warn("operation failed", "world", t.worldID, "operation", name, "id", t.op.ID(), "error", err)
		return
	}
	slog.Debug("operation done", "worker", n, "world", t.worldID, "operation", name, "id", t.op.ID(),
		"elapsed", time.Since(start))
	d.completions <- completion{worldID: t.worldID, name: name, input: in}
}

// pumpCompletions writes completions to the sink. It keeps going after the
// workers' context is cancelled so finished work is not lost.
func (d *Dispatcher) pumpCompletions() {
	defer d.pump.Done()
	for c := range d.completions {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		number, err := d.sink.SendInput(ctx, c.worldID, c.input, d.now())
		cancel()
		if err != nil {
			metrics.OperationsTotal.WithLabelValues(c.name, "failed").Inc()
			slog.Error("completion not queued", "world", c.worldID, "input", c.input.InputName(), "error", err)
			continue
		}
		metrics.OperationsTotal.WithLabelValues(c.name, "completed").Inc()
		slog.Debug("completion queued", "world", c.worldID, "input", c.input.InputName(), "number", number)
	}
}
