package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/core/plan"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
)

// =============================================================================
// Engine
// =============================================================================

// Config configures the run engine.
type Config struct {
	// MaxConcurrentRuns bounds the number of runs executing at once.
	// Default: 4.
	MaxConcurrentRuns int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns: 4,
	}
}

// Engine executes pipeline runs in the background. Runs are submitted with
// StartRun and bounded by a concurrency limit.
type Engine struct {
	store  store.Store
	runner StepRunner
	config Config
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}

	mu      sync.Mutex
	active  map[string]context.CancelFunc // run ID -> cancel
	started bool
}

// NewEngine creates a run engine.
func NewEngine(s store.Store, runner StepRunner, config Config, logger *slog.Logger) *Engine {
	if config.MaxConcurrentRuns <= 0 {
		config.MaxConcurrentRuns = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:  s,
		runner: runner,
		config: config,
		logger: logger.With("component", "engine"),
		sem:    make(chan struct{}, config.MaxConcurrentRuns),
		active: make(map[string]context.CancelFunc),
	}
}

// Start makes the engine ready to accept runs.
func (e *Engine) Start() {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.started = true
	e.mu.Unlock()

	e.logger.Info("engine started", "max_concurrent_runs", e.config.MaxConcurrentRuns)
}

// Stop cancels in-flight runs and waits for them to record their final state.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.started = false
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// =============================================================================
// Run Control
// =============================================================================

// StartRun transitions a run toward running and executes it in the
// background. Valid from pending (first start), failed and cancelled (retry).
func (e *Engine) StartRun(ctx context.Context, runID string) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	engineCtx := e.ctx
	e.mu.Unlock()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	path := plan.DetermineStartPath(run.Status)
	if !path.Valid {
		return fmt.Errorf("%w: %s", ErrRunNotStartable, path.ErrorReason)
	}

	for _, status := range path.Transitions {
		if err := run.Transition(status); err != nil {
			return err
		}
	}
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(engineCtx)
	e.mu.Lock()
	e.active[run.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.active, run.ID)
			e.mu.Unlock()
		}()

		select {
		case <-runCtx.Done():
			e.markRunCancelled(run)
			return
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		}

		e.executeRun(runCtx, run)
	}()

	return nil
}

// CancelRun cancels a run. Active runs are interrupted; queued and pending
// runs are transitioned directly.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	allowed, reason := plan.CanCancelRun(run.Status)
	if !allowed {
		return fmt.Errorf("%w: %s", ErrRunNotCancellable, reason)
	}

	e.mu.Lock()
	cancel, isActive := e.active[runID]
	e.mu.Unlock()

	if isActive {
		cancel()
		return nil
	}

	if err := run.Transition(domain.RunCancelled); err != nil {
		return err
	}
	return e.store.UpdateRun(ctx, run)
}

// ActiveRuns returns the number of runs currently executing.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
