package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Job Execution Status
// =============================================================================

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobWaiting   JobStatus = "waiting" // needs not yet satisfied
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped" // a need failed or was skipped
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// =============================================================================
// Job Execution
// =============================================================================

// JobExecution is one expanded instance of a workflow job within a run.
// A job with a matrix strategy produces one execution per matrix combination.
type JobExecution struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	JobName      string            `json:"job_name"`
	InstanceName string            `json:"instance_name"`
	Matrix       map[string]string `json:"matrix,omitempty"`
	Status       JobStatus         `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// NewJobExecution creates an execution for one job instance of a run.
func NewJobExecution(runID, jobName string, matrix map[string]string) *JobExecution {
	now := time.Now().UTC()
	return &JobExecution{
		ID:           uuid.New().String(),
		RunID:        runID,
		JobName:      jobName,
		InstanceName: InstanceName(jobName, matrix),
		Matrix:       matrix,
		Status:       JobPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Transition attempts to transition the execution to a new status.
func (j *JobExecution) Transition(to JobStatus) error {
	if err := ValidateJobTransition(j.Status, to); err != nil {
		return err
	}

	j.Status = to
	j.UpdatedAt = time.Now().UTC()

	if to == JobRunning {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	if to.Finished() {
		now := time.Now().UTC()
		j.FinishedAt = &now
	}

	return nil
}

// TransitionToFailed transitions to failed with an error message.
func (j *JobExecution) TransitionToFailed(errorMessage string) error {
	if err := j.Transition(JobFailed); err != nil {
		return err
	}
	j.ErrorMessage = errorMessage
	return nil
}

// validJobTransitions defines the allowed job execution transitions.
var validJobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobWaiting, JobRunning, JobSkipped, JobCancelled},
	JobWaiting:   {JobRunning, JobSkipped, JobCancelled},
	JobRunning:   {JobSucceeded, JobFailed, JobCancelled},
	JobSucceeded: {},
	JobFailed:    {},
	JobSkipped:   {},
	JobCancelled: {},
}

// ValidateJobTransition checks if a job status transition is valid.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, exists := validJobTransitions[from]
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
// Instance Naming
// =============================================================================

// InstanceName renders the display name of a job instance. Matrix values are
// listed in sorted axis order so the name is stable.
//
// Example:
//
//	InstanceName("test", map[string]string{"path": "unit", "os": "linux"})
//	// returns "test (os=linux, path=unit)"
func InstanceName(jobName string, matrix map[string]string) string {
	if len(matrix) == 0 {
		return jobName
	}

	axes := make([]string, 0, len(matrix))
	for axis := range matrix {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	pairs := make([]string, 0, len(axes))
	for _, axis := range axes {
		pairs = append(pairs, fmt.Sprintf("%s=%s", axis, matrix[axis]))
	}

	return fmt.Sprintf("%s (%s)", jobName, strings.Join(pairs, ", "))
}

// =============================================================================
// Step Results
// =============================================================================

// StepResult records the outcome of one step of a job execution, including
// its retry counters.
type StepResult struct {
	ID             string        `json:"id"`
	JobExecutionID string        `json:"job_execution_id"`
	Index          int           `json:"index"`
	Name           string        `json:"name"`
	Kind           string        `json:"kind"`
	Runs           int           `json:"runs"`   // attempts made
	Passes         int           `json:"passes"` // attempts that passed
	Succeeded      bool          `json:"succeeded"`
	Ignored        bool          `json:"ignored"` // failed but continue-on-error
	Output         string        `json:"output,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewStepResult creates an empty result for a step about to be executed.
func NewStepResult(jobExecutionID string, index int, name, kind string) *StepResult {
	return &StepResult{
		ID:             uuid.New().String(),
		JobExecutionID: jobExecutionID,
		Index:          index,
		Name:           name,
		Kind:           kind,
		CreatedAt:      time.Now().UTC(),
	}
}
