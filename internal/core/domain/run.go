package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrPipelineNotPublished = errors.New("pipeline is not published")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// =============================================================================
// Run Status
// =============================================================================

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

// =============================================================================
// Run
// =============================================================================

// Run is a single execution of a pipeline, created either by a push event or
// a manual trigger.
type Run struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	PipelineID   string     `json:"pipeline_id"`
	PipelineSlug string     `json:"pipeline_slug"`
	Status       RunStatus  `json:"status"`
	Branch       string     `json:"branch,omitempty"`
	Commit       string     `json:"commit,omitempty"`
	Message      string     `json:"message,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a run for a published pipeline.
func NewRun(p Pipeline, branch, commit, message string) (*Run, error) {
	if !p.Published {
		return nil, ErrPipelineNotPublished
	}

	now := time.Now().UTC()
	return &Run{
		ID:           uuid.New().String(),
		Name:         GenerateRunName(p.Slug),
		PipelineID:   p.ID,
		PipelineSlug: p.Slug,
		Status:       RunPending,
		Branch:       branch,
		Commit:       commit,
		Message:      message,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition attempts to transition the run to a new status.
func (r *Run) Transition(to RunStatus) error {
	if err := ValidateRunTransition(r.Status, to); err != nil {
		return err
	}

	r.Status = to
	r.UpdatedAt = time.Now().UTC()

	// Clear the previous outcome on retry
	if to == RunRunning {
		r.ErrorMessage = ""
		r.FinishedAt = nil
		now := time.Now().UTC()
		r.StartedAt = &now
	}

	if to.Finished() {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}

	return nil
}

// TransitionToFailed transitions to failed with an error message.
func (r *Run) TransitionToFailed(errorMessage string) error {
	switch r.Status {
	case RunQueued, RunRunning:
		r.Status = RunFailed
		r.ErrorMessage = errorMessage
		r.UpdatedAt = time.Now().UTC()
		now := time.Now().UTC()
		r.FinishedAt = &now
		return nil
	default:
		return ErrInvalidTransition
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validRunTransitions defines the allowed run status transitions.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunPending:   {RunQueued, RunCancelled},
	RunQueued:    {RunRunning, RunCancelled, RunFailed},
	RunRunning:   {RunSucceeded, RunFailed, RunCancelled},
	RunSucceeded: {},
	RunFailed:    {RunRunning}, // retry
	RunCancelled: {RunRunning}, // retry
}

// ValidateRunTransition checks if a run status transition is valid.
func ValidateRunTransition(from, to RunStatus) error {
	allowed, exists := validRunTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// Name Generation
// =============================================================================

// GenerateRunName generates a unique run name from the pipeline slug.
func GenerateRunName(pipelineSlug string) string {
	suffix := make([]byte, 3)
	rand.Read(suffix)
	return fmt.Sprintf("%s-%s", pipelineSlug, hex.EncodeToString(suffix))
}
