package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Pipeline Operations
// =============================================================================

// pipelineRow represents a pipeline row in the database.
type pipelineRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Slug        string `db:"slug"`
	Description string `db:"description"`
	Version     string `db:"version"`
	Definition  string `db:"definition"`
	Published   bool   `db:"published"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *SQLiteStore) CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	return createPipeline(ctx, s.db, pipeline)
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	return getPipeline(ctx, s.db, id)
}

func (s *SQLiteStore) GetPipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error) {
	return getPipelineBySlug(ctx, s.db, slug)
}

func (s *SQLiteStore) UpdatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	return updatePipeline(ctx, s.db, pipeline)
}

func (s *SQLiteStore) DeletePipeline(ctx context.Context, id string) error {
	return deletePipeline(ctx, s.db, id)
}

func (s *SQLiteStore) ListPipelines(ctx context.Context, opts ListOptions) ([]domain.Pipeline, error) {
	return listPipelines(ctx, s.db, opts)
}

func (s *SQLiteStore) ListPublishedPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	return listPublishedPipelines(ctx, s.db)
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	PipelineID   string  `db:"pipeline_id"`
	PipelineSlug string  `db:"pipeline_slug"`
	Status       string  `db:"status"`
	Branch       string  `db:"branch"`
	CommitSHA    string  `db:"commit_sha"`
	Message      string  `db:"message"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) ListRunsByPipeline(ctx context.Context, pipelineID string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByPipeline(ctx, s.db, pipelineID, opts)
}

func (s *SQLiteStore) DeleteFinishedRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteFinishedRunsBefore(ctx, s.db, cutoff)
}

// =============================================================================
// Job Execution Operations
// =============================================================================

// jobExecutionRow represents a job execution row in the database.
type jobExecutionRow struct {
	ID           string  `db:"id"`
	RunID        string  `db:"run_id"`
	JobName      string  `db:"job_name"`
	InstanceName string  `db:"instance_name"`
	Matrix       *string `db:"matrix"`
	Status       string  `db:"status"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	return createJobExecution(ctx, s.db, exec)
}

func (s *SQLiteStore) GetJobExecution(ctx context.Context, id string) (*domain.JobExecution, error) {
	return getJobExecution(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	return updateJobExecution(ctx, s.db, exec)
}

func (s *SQLiteStore) ListJobExecutionsByRun(ctx context.Context, runID string) ([]domain.JobExecution, error) {
	return listJobExecutionsByRun(ctx, s.db, runID)
}

// =============================================================================
// Step Result Operations
// =============================================================================

// stepResultRow represents a step result row in the database.
type stepResultRow struct {
	ID             string `db:"id"`
	JobExecutionID string `db:"job_execution_id"`
	StepIndex      int    `db:"step_index"`
	Name           string `db:"name"`
	Kind           string `db:"kind"`
	Runs           int    `db:"runs"`
	Passes         int    `db:"passes"`
	Succeeded      bool   `db:"succeeded"`
	Ignored        bool   `db:"ignored"`
	Output         string `db:"output"`
	ErrorMessage   string `db:"error_message"`
	DurationMS     int64  `db:"duration_ms"`
	CreatedAt      string `db:"created_at"`
}

func (s *SQLiteStore) CreateStepResult(ctx context.Context, result *domain.StepResult) error {
	return createStepResult(ctx, s.db, result)
}

func (s *SQLiteStore) ListStepResultsByJobExecution(ctx context.Context, jobExecutionID string) ([]domain.StepResult, error) {
	return listStepResultsByJobExecution(ctx, s.db, jobExecutionID)
}

// =============================================================================
// Notification Operations
// =============================================================================

// notificationRow represents a notification row in the database.
type notificationRow struct {
	ID        string  `db:"id"`
	RunID     string  `db:"run_id"`
	Event     string  `db:"event"`
	Payload   string  `db:"payload"`
	CreatedAt string  `db:"created_at"`
	SentAt    *string `db:"sent_at"`
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, notification *domain.Notification) error {
	return createNotification(ctx, s.db, notification)
}

func (s *SQLiteStore) GetUnsentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return getUnsentNotifications(ctx, s.db, limit)
}

func (s *SQLiteStore) MarkNotificationsSent(ctx context.Context, ids []string, sentAt time.Time) error {
	return markNotificationsSent(ctx, s.db, ids, sentAt)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	return createPipeline(ctx, s.tx, pipeline)
}

func (s *txSQLiteStore) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	return getPipeline(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetPipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error) {
	return getPipelineBySlug(ctx, s.tx, slug)
}

func (s *txSQLiteStore) UpdatePipeline(ctx context.Context, pipeline *domain.Pipeline) error {
	return updatePipeline(ctx, s.tx, pipeline)
}

func (s *txSQLiteStore) DeletePipeline(ctx context.Context, id string) error {
	return deletePipeline(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListPipelines(ctx context.Context, opts ListOptions) ([]domain.Pipeline, error) {
	return listPipelines(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListPublishedPipelines(ctx context.Context) ([]domain.Pipeline, error) {
	return listPublishedPipelines(ctx, s.tx)
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListRunsByPipeline(ctx context.Context, pipelineID string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByPipeline(ctx, s.tx, pipelineID, opts)
}

func (s *txSQLiteStore) DeleteFinishedRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteFinishedRunsBefore(ctx, s.tx, cutoff)
}

func (s *txSQLiteStore) CreateJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	return createJobExecution(ctx, s.tx, exec)
}

func (s *txSQLiteStore) GetJobExecution(ctx context.Context, id string) (*domain.JobExecution, error) {
	return getJobExecution(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	return updateJobExecution(ctx, s.tx, exec)
}

func (s *txSQLiteStore) ListJobExecutionsByRun(ctx context.Context, runID string) ([]domain.JobExecution, error) {
	return listJobExecutionsByRun(ctx, s.tx, runID)
}

func (s *txSQLiteStore) CreateStepResult(ctx context.Context, result *domain.StepResult) error {
	return createStepResult(ctx, s.tx, result)
}

func (s *txSQLiteStore) ListStepResultsByJobExecution(ctx context.Context, jobExecutionID string) ([]domain.StepResult, error) {
	return listStepResultsByJobExecution(ctx, s.tx, jobExecutionID)
}

func (s *txSQLiteStore) CreateNotification(ctx context.Context, notification *domain.Notification) error {
	return createNotification(ctx, s.tx, notification)
}

func (s *txSQLiteStore) GetUnsentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	return getUnsentNotifications(ctx, s.tx, limit)
}

func (s *txSQLiteStore) MarkNotificationsSent(ctx context.Context, ids []string, sentAt time.Time) error {
	return markNotificationsSent(ctx, s.tx, ids, sentAt)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions - Pipelines
// =============================================================================

func createPipeline(ctx context.Context, exec executor, pipeline *domain.Pipeline) error {
	query := `
		INSERT INTO pipelines (
			id, name, slug, description, version, definition, published,
			created_at, updated_at
		) VALUES (
			:id, :name, :slug, :description, :version, :definition, :published,
			:created_at, :updated_at
		)`

	row := map[string]any{
		"id":          pipeline.ID,
		"name":        pipeline.Name,
		"slug":        pipeline.Slug,
		"description": pipeline.Description,
		"version":     pipeline.Version,
		"definition":  pipeline.Definition,
		"published":   pipeline.Published,
		"created_at":  pipeline.CreatedAt.Format(time.RFC3339),
		"updated_at":  pipeline.UpdatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: pipelines.id") {
			return NewStoreError("CreatePipeline", "pipeline", pipeline.ID, "pipeline with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: pipelines.slug") {
			return NewStoreError("CreatePipeline", "pipeline", pipeline.ID, "pipeline with this slug already exists", ErrDuplicateSlug)
		}
		return NewStoreError("CreatePipeline", "pipeline", pipeline.ID, err.Error(), err)
	}

	return nil
}

func getPipeline(ctx context.Context, exec executor, id string) (*domain.Pipeline, error) {
	query := `SELECT * FROM pipelines WHERE id = ?`

	var row pipelineRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPipeline", "pipeline", id, "pipeline not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPipeline", "pipeline", id, err.Error(), err)
	}

	return rowToPipeline(&row)
}

func getPipelineBySlug(ctx context.Context, exec executor, slug string) (*domain.Pipeline, error) {
	query := `SELECT * FROM pipelines WHERE slug = ?`

	var row pipelineRow
	err := exec.GetContext(ctx, &row, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPipelineBySlug", "pipeline", slug, "pipeline not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPipelineBySlug", "pipeline", slug, err.Error(), err)
	}

	return rowToPipeline(&row)
}

func updatePipeline(ctx context.Context, exec executor, pipeline *domain.Pipeline) error {
	query := `
		UPDATE pipelines SET
			name = :name,
			slug = :slug,
			description = :description,
			version = :version,
			definition = :definition,
			published = :published,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":          pipeline.ID,
		"name":        pipeline.Name,
		"slug":        pipeline.Slug,
		"description": pipeline.Description,
		"version":     pipeline.Version,
		"definition":  pipeline.Definition,
		"published":   pipeline.Published,
		"updated_at":  pipeline.UpdatedAt.Format(time.RFC3339),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdatePipeline", "pipeline", pipeline.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdatePipeline", "pipeline", pipeline.ID, "pipeline not found", ErrNotFound)
	}

	return nil
}

func deletePipeline(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM pipelines WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeletePipeline", "pipeline", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeletePipeline", "pipeline", id, "pipeline not found", ErrNotFound)
	}

	return nil
}

func listPipelines(ctx context.Context, exec executor, opts ListOptions) ([]domain.Pipeline, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM pipelines ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []pipelineRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListPipelines", "pipeline", "", err.Error(), err)
	}

	pipelines := make([]domain.Pipeline, 0, len(rows))
	for _, row := range rows {
		pipeline, err := rowToPipeline(&row)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *pipeline)
	}

	return pipelines, nil
}

func listPublishedPipelines(ctx context.Context, exec executor) ([]domain.Pipeline, error) {
	query := `SELECT * FROM pipelines WHERE published = 1 ORDER BY created_at DESC`

	var rows []pipelineRow
	err := exec.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, NewStoreError("ListPublishedPipelines", "pipeline", "", err.Error(), err)
	}

	pipelines := make([]domain.Pipeline, 0, len(rows))
	for _, row := range rows {
		pipeline, err := rowToPipeline(&row)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *pipeline)
	}

	return pipelines, nil
}

func rowToPipeline(row *pipelineRow) (*domain.Pipeline, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToPipeline", "pipeline", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToPipeline", "pipeline", row.ID, "invalid updated_at", ErrInvalidData)
	}

	return &domain.Pipeline{
		ID:          row.ID,
		Name:        row.Name,
		Slug:        row.Slug,
		Description: row.Description,
		Version:     row.Version,
		Definition:  row.Definition,
		Published:   row.Published,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// =============================================================================
// Shared Implementation Functions - Runs
// =============================================================================

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, name, pipeline_id, pipeline_slug, status, branch, commit_sha,
			message, error_message, created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :name, :pipeline_id, :pipeline_slug, :status, :branch, :commit_sha,
			:message, :error_message, :created_at, :updated_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            run.ID,
		"name":          run.Name,
		"pipeline_id":   run.PipelineID,
		"pipeline_slug": run.PipelineSlug,
		"status":        string(run.Status),
		"branch":        run.Branch,
		"commit_sha":    run.Commit,
		"message":       run.Message,
		"error_message": run.ErrorMessage,
		"created_at":    run.CreatedAt.Format(time.RFC3339),
		"updated_at":    run.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateRun", "run", run.ID, "pipeline not found", ErrForeignKey)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	return rowToRun(&row)
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			status = :status,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            run.ID,
		"status":        string(run.Status),
		"error_message": run.ErrorMessage,
		"updated_at":    run.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "run not found", ErrNotFound)
	}

	return nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows)
}

func listRunsByPipeline(ctx context.Context, exec executor, pipelineID string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs WHERE pipeline_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, pipelineID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRunsByPipeline", "run", pipelineID, err.Error(), err)
	}

	return rowsToRuns(rows)
}

func deleteFinishedRunsBefore(ctx context.Context, exec executor, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM runs
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		AND finished_at IS NOT NULL
		AND finished_at < ?`

	result, err := exec.ExecContext(ctx, query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, NewStoreError("DeleteFinishedRunsBefore", "run", "", err.Error(), err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

func rowsToRuns(rows []runRow) ([]domain.Run, error) {
	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(&row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func rowToRun(row *runRow) (*domain.Run, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid updated_at", ErrInvalidData)
	}
	startedAt, err := parseTimePtr(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid started_at", ErrInvalidData)
	}
	finishedAt, err := parseTimePtr(row.FinishedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid finished_at", ErrInvalidData)
	}

	return &domain.Run{
		ID:           row.ID,
		Name:         row.Name,
		PipelineID:   row.PipelineID,
		PipelineSlug: row.PipelineSlug,
		Status:       domain.RunStatus(row.Status),
		Branch:       row.Branch,
		Commit:       row.CommitSHA,
		Message:      row.Message,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}, nil
}

// =============================================================================
// Shared Implementation Functions - Job Executions
// =============================================================================

func createJobExecution(ctx context.Context, exec executor, jobExec *domain.JobExecution) error {
	var matrixJSON *string
	if jobExec.Matrix != nil {
		data, err := json.Marshal(jobExec.Matrix)
		if err != nil {
			return NewStoreError("CreateJobExecution", "job_execution", jobExec.ID, "failed to serialize matrix", ErrInvalidData)
		}
		s := string(data)
		matrixJSON = &s
	}

	query := `
		INSERT INTO job_executions (
			id, run_id, job_name, instance_name, matrix, status, error_message,
			created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :run_id, :job_name, :instance_name, :matrix, :status, :error_message,
			:created_at, :updated_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            jobExec.ID,
		"run_id":        jobExec.RunID,
		"job_name":      jobExec.JobName,
		"instance_name": jobExec.InstanceName,
		"matrix":        matrixJSON,
		"status":        string(jobExec.Status),
		"error_message": jobExec.ErrorMessage,
		"created_at":    jobExec.CreatedAt.Format(time.RFC3339),
		"updated_at":    jobExec.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(jobExec.StartedAt),
		"finished_at":   formatTimePtr(jobExec.FinishedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: job_executions.id") {
			return NewStoreError("CreateJobExecution", "job_execution", jobExec.ID, "job execution with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateJobExecution", "job_execution", jobExec.ID, "run not found", ErrForeignKey)
		}
		return NewStoreError("CreateJobExecution", "job_execution", jobExec.ID, err.Error(), err)
	}

	return nil
}

func getJobExecution(ctx context.Context, exec executor, id string) (*domain.JobExecution, error) {
	query := `SELECT * FROM job_executions WHERE id = ?`

	var row jobExecutionRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetJobExecution", "job_execution", id, "job execution not found", ErrNotFound)
		}
		return nil, NewStoreError("GetJobExecution", "job_execution", id, err.Error(), err)
	}

	return rowToJobExecution(&row)
}

func updateJobExecution(ctx context.Context, exec executor, jobExec *domain.JobExecution) error {
	query := `
		UPDATE job_executions SET
			status = :status,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            jobExec.ID,
		"status":        string(jobExec.Status),
		"error_message": jobExec.ErrorMessage,
		"updated_at":    jobExec.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(jobExec.StartedAt),
		"finished_at":   formatTimePtr(jobExec.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateJobExecution", "job_execution", jobExec.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateJobExecution", "job_execution", jobExec.ID, "job execution not found", ErrNotFound)
	}

	return nil
}

func listJobExecutionsByRun(ctx context.Context, exec executor, runID string) ([]domain.JobExecution, error) {
	query := `SELECT * FROM job_executions WHERE run_id = ? ORDER BY created_at ASC, instance_name ASC`

	var rows []jobExecutionRow
	err := exec.SelectContext(ctx, &rows, query, runID)
	if err != nil {
		return nil, NewStoreError("ListJobExecutionsByRun", "job_execution", runID, err.Error(), err)
	}

	execs := make([]domain.JobExecution, 0, len(rows))
	for _, row := range rows {
		jobExec, err := rowToJobExecution(&row)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *jobExec)
	}

	return execs, nil
}

func rowToJobExecution(row *jobExecutionRow) (*domain.JobExecution, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToJobExecution", "job_execution", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToJobExecution", "job_execution", row.ID, "invalid updated_at", ErrInvalidData)
	}
	startedAt, err := parseTimePtr(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToJobExecution", "job_execution", row.ID, "invalid started_at", ErrInvalidData)
	}
	finishedAt, err := parseTimePtr(row.FinishedAt)
	if err != nil {
		return nil, NewStoreError("rowToJobExecution", "job_execution", row.ID, "invalid finished_at", ErrInvalidData)
	}

	var matrix map[string]string
	if row.Matrix != nil && *row.Matrix != "" {
		if err := json.Unmarshal([]byte(*row.Matrix), &matrix); err != nil {
			return nil, NewStoreError("rowToJobExecution", "job_execution", row.ID, "invalid matrix", ErrInvalidData)
		}
	}

	return &domain.JobExecution{
		ID:           row.ID,
		RunID:        row.RunID,
		JobName:      row.JobName,
		InstanceName: row.InstanceName,
		Matrix:       matrix,
		Status:       domain.JobStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}, nil
}

// =============================================================================
// Shared Implementation Functions - Step Results
// =============================================================================

func createStepResult(ctx context.Context, exec executor, result *domain.StepResult) error {
	query := `
		INSERT INTO step_results (
			id, job_execution_id, step_index, name, kind, runs, passes,
			succeeded, ignored, output, error_message, duration_ms, created_at
		) VALUES (
			:id, :job_execution_id, :step_index, :name, :kind, :runs, :passes,
			:succeeded, :ignored, :output, :error_message, :duration_ms, :created_at
		)`

	row := map[string]any{
		"id":               result.ID,
		"job_execution_id": result.JobExecutionID,
		"step_index":       result.Index,
		"name":             result.Name,
		"kind":             result.Kind,
		"runs":             result.Runs,
		"passes":           result.Passes,
		"succeeded":        result.Succeeded,
		"ignored":          result.Ignored,
		"output":           result.Output,
		"error_message":    result.ErrorMessage,
		"duration_ms":      result.Duration.Milliseconds(),
		"created_at":       result.CreatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateStepResult", "step_result", result.ID, "job execution not found", ErrForeignKey)
		}
		return NewStoreError("CreateStepResult", "step_result", result.ID, err.Error(), err)
	}

	return nil
}

func listStepResultsByJobExecution(ctx context.Context, exec executor, jobExecutionID string) ([]domain.StepResult, error) {
	query := `SELECT * FROM step_results WHERE job_execution_id = ? ORDER BY step_index ASC`

	var rows []stepResultRow
	err := exec.SelectContext(ctx, &rows, query, jobExecutionID)
	if err != nil {
		return nil, NewStoreError("ListStepResultsByJobExecution", "step_result", jobExecutionID, err.Error(), err)
	}

	results := make([]domain.StepResult, 0, len(rows))
	for _, row := range rows {
		result, err := rowToStepResult(&row)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return results, nil
}

func rowToStepResult(row *stepResultRow) (*domain.StepResult, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToStepResult", "step_result", row.ID, "invalid created_at", ErrInvalidData)
	}

	return &domain.StepResult{
		ID:             row.ID,
		JobExecutionID: row.JobExecutionID,
		Index:          row.StepIndex,
		Name:           row.Name,
		Kind:           row.Kind,
		Runs:           row.Runs,
		Passes:         row.Passes,
		Succeeded:      row.Succeeded,
		Ignored:        row.Ignored,
		Output:         row.Output,
		ErrorMessage:   row.ErrorMessage,
		Duration:       time.Duration(row.DurationMS) * time.Millisecond,
		CreatedAt:      createdAt,
	}, nil
}

// =============================================================================
// Shared Implementation Functions - Notifications
// =============================================================================

func createNotification(ctx context.Context, exec executor, notification *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, run_id, event, payload, created_at, sent_at)
		VALUES (:id, :run_id, :event, :payload, :created_at, :sent_at)`

	row := map[string]any{
		"id":         notification.ID,
		"run_id":     notification.RunID,
		"event":      notification.Event,
		"payload":    notification.Payload,
		"created_at": notification.CreatedAt.Format(time.RFC3339),
		"sent_at":    formatTimePtr(notification.SentAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: notifications.id") {
			return NewStoreError("CreateNotification", "notification", notification.ID, "notification with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateNotification", "notification", notification.ID, err.Error(), err)
	}

	return nil
}

func getUnsentNotifications(ctx context.Context, exec executor, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM notifications WHERE sent_at IS NULL ORDER BY created_at ASC LIMIT ?`

	var rows []notificationRow
	err := exec.SelectContext(ctx, &rows, query, limit)
	if err != nil {
		return nil, NewStoreError("GetUnsentNotifications", "notification", "", err.Error(), err)
	}

	notifications := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		notification, err := rowToNotification(&row)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, *notification)
	}

	return notifications, nil
}

func markNotificationsSent(ctx context.Context, exec executor, ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE notifications SET sent_at = ? WHERE id IN (?)`, sentAt.UTC().Format(time.RFC3339), ids)
	if err != nil {
		return NewStoreError("MarkNotificationsSent", "notification", "", err.Error(), err)
	}

	_, err = exec.ExecContext(ctx, query, args...)
	if err != nil {
		return NewStoreError("MarkNotificationsSent", "notification", "", err.Error(), err)
	}

	return nil
}

func rowToNotification(row *notificationRow) (*domain.Notification, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToNotification", "notification", row.ID, "invalid created_at", ErrInvalidData)
	}
	sentAt, err := parseTimePtr(row.SentAt)
	if err != nil {
		return nil, NewStoreError("rowToNotification", "notification", row.ID, "invalid sent_at", ErrInvalidData)
	}

	return &domain.Notification{
		ID:        row.ID,
		RunID:     row.RunID,
		Event:     row.Event,
		Payload:   row.Payload,
		CreatedAt: createdAt,
		SentAt:    sentAt,
	}, nil
}

// =============================================================================
// Time Helpers
// =============================================================================

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

func parseTimePtr(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimePtr(value *time.Time) *string {
	if value == nil {
		return nil
	}
	s := value.Format(time.RFC3339)
	return &s
}
