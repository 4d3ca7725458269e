package store

import (
	"context"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for Conveyor entities.
type Store interface {
	// Pipeline operations
	CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	GetPipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error)
	UpdatePipeline(ctx context.Context, pipeline *domain.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error
	ListPipelines(ctx context.Context, opts ListOptions) ([]domain.Pipeline, error)
	ListPublishedPipelines(ctx context.Context) ([]domain.Pipeline, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error)
	ListRunsByPipeline(ctx context.Context, pipelineID string, opts ListOptions) ([]domain.Run, error)

	// Retention (Janitor worker)
	DeleteFinishedRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Job execution operations
	CreateJobExecution(ctx context.Context, exec *domain.JobExecution) error
	GetJobExecution(ctx context.Context, id string) (*domain.JobExecution, error)
	UpdateJobExecution(ctx context.Context, exec *domain.JobExecution) error
	ListJobExecutionsByRun(ctx context.Context, runID string) ([]domain.JobExecution, error)

	// Step result operations
	CreateStepResult(ctx context.Context, result *domain.StepResult) error
	ListStepResultsByJobExecution(ctx context.Context, jobExecutionID string) ([]domain.StepResult, error)

	// Notification outbox (Notifier worker)
	CreateNotification(ctx context.Context, notification *domain.Notification) error
	GetUnsentNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkNotificationsSent(ctx context.Context, ids []string, sentAt time.Time) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
