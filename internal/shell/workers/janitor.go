// Package workers contains background workers for Conveyor.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/internal/shell/docker"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
)

// JanitorConfig configures the run retention worker.
type JanitorConfig struct {
	// Interval is the time between pruning cycles.
	// Default: 1 hour.
	Interval time.Duration

	// Retention is how long finished runs are kept before deletion.
	// Default: 30 days.
	Retention time.Duration
}

// DefaultJanitorConfig returns the default configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:  time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

// Janitor periodically deletes finished runs older than the retention window
// and removes orphaned step containers left behind by crashed runs. Job
// executions and step results are removed with their run by cascade.
type Janitor struct {
	store  store.Store
	docker docker.Client // nil disables container reaping
	config JanitorConfig
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a new retention worker. The docker client may be nil,
// which disables container reaping.
func NewJanitor(s store.Store, d docker.Client, config JanitorConfig, logger *slog.Logger) *Janitor {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.Retention == 0 {
		config.Retention = 30 * 24 * time.Hour
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:  s,
		docker: d,
		config: config,
		logger: logger.With("component", "janitor"),
	}
}

// Start begins the janitor background goroutine.
func (j *Janitor) Start() {
	j.ctx, j.cancel = context.WithCancel(context.Background())

	j.wg.Add(1)
	go j.run()

	j.logger.Info("janitor started",
		"interval", j.config.Interval,
		"retention", j.config.Retention,
	)
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

// run is the main loop that prunes runs periodically.
func (j *Janitor) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.runCycle()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.runCycle()
		}
	}
}

// runCycle deletes finished runs older than the retention window and reaps
// orphaned step containers.
func (j *Janitor) runCycle() {
	ctx, cancel := context.WithTimeout(j.ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.config.Retention)

	deleted, err := j.store.DeleteFinishedRunsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to prune finished runs", "error", err)
	} else if deleted > 0 {
		j.logger.Info("pruned finished runs", "deleted", deleted, "cutoff", cutoff)
	}

	if j.docker != nil {
		j.reapContainers()
	}
}

// reapContainers removes stopped step containers. The step runner removes
// its container when a step finishes, so anything stopped and still labelled
// is an orphan from a crashed run.
func (j *Janitor) reapContainers() {
	containers, err := j.docker.ListContainers(docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": docker.LabelManaged + "=true"},
	})
	if err != nil {
		j.logger.Error("failed to list step containers", "error", err)
		return
	}

	reaped := 0
	for _, c := range containers {
		if c.Status == docker.ContainerStatusRunning {
			continue
		}
		if err := j.docker.RemoveContainer(c.ID, docker.RemoveOptions{Force: true}); err != nil {
			j.logger.Warn("failed to remove orphaned step container",
				"container_id", c.ID, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		j.logger.Info("removed orphaned step containers", "count", reaped)
	}
}

// PruneNow runs an immediate pruning cycle. Useful after changing the
// retention window.
func (j *Janitor) PruneNow(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-j.config.Retention)
	return j.store.DeleteFinishedRunsBefore(ctx, cutoff)
}
