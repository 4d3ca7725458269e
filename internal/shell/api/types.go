package api

import (
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreatePipelineRequest is the request body for creating a pipeline.
type CreatePipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Definition  string `json:"definition"` // workflow YAML
}

// UpdatePipelineRequest is the request body for updating a draft pipeline.
type UpdatePipelineRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Definition  string `json:"definition,omitempty"`
}

// TriggerRunRequest is the request body for manually starting a run.
type TriggerRunRequest struct {
	Branch  string `json:"branch,omitempty"`
	Commit  string `json:"commit,omitempty"`
	Message string `json:"message,omitempty"`
}

// PushEventRequest is a source push delivered to the events endpoint.
type PushEventRequest struct {
	Branch  string `json:"branch"`
	Commit  string `json:"commit"`
	Message string `json:"message"`
}

// RenderManifestRequest holds deploy parameters for a manifest preview.
// Fields mirror the deploy step of a workflow definition.
type RenderManifestRequest struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace,omitempty"`
	Replicas   int32             `json:"replicas,omitempty"`
	Image      string            `json:"image"`
	PullPolicy string            `json:"pull_policy,omitempty"`
	Command    []string          `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	PortExpose int32             `json:"port_expose,omitempty"`
	PortIn     int32             `json:"port_in,omitempty"`
	PortOut    int32             `json:"port_out,omitempty"`
	PortCtrl   int32             `json:"port_ctrl,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// PipelineResponse is the API representation of a pipeline.
type PipelineResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Definition  string    `json:"definition"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListPipelinesResponse is the response for listing pipelines.
type ListPipelinesResponse struct {
	Pipelines []PipelineResponse `json:"pipelines"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// RunResponse is the API representation of a run.
type RunResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	PipelineID   string     `json:"pipeline_id"`
	PipelineSlug string     `json:"pipeline_slug"`
	Status       string     `json:"status"`
	Branch       string     `json:"branch,omitempty"`
	Commit       string     `json:"commit,omitempty"`
	Message      string     `json:"message,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []RunResponse `json:"runs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// StepResultResponse is the API representation of a step result.
type StepResultResponse struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Runs         int    `json:"runs"`
	Passes       int    `json:"passes"`
	Succeeded    bool   `json:"succeeded"`
	Ignored      bool   `json:"ignored"`
	Output       string `json:"output,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// JobExecutionResponse is the API representation of a job instance, with its
// step results.
type JobExecutionResponse struct {
	ID           string               `json:"id"`
	RunID        string               `json:"run_id"`
	JobName      string               `json:"job_name"`
	InstanceName string               `json:"instance_name"`
	Matrix       map[string]string    `json:"matrix,omitempty"`
	Status       string               `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Steps        []StepResultResponse `json:"steps"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
}

// ListJobExecutionsResponse is the response for listing a run's jobs.
type ListJobExecutionsResponse struct {
	Jobs []JobExecutionResponse `json:"jobs"`
}

// PushEventResponse reports the runs started by a push event.
type PushEventResponse struct {
	Matched int           `json:"matched"`
	Runs    []RunResponse `json:"runs"`
}

// RenderManifestResponse carries a rendered Deployment manifest.
type RenderManifestResponse struct {
	Manifest string `json:"manifest"`
}

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for the readiness endpoint.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Converters
// =============================================================================

func pipelineToResponse(p *domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Version:     p.Version,
		Definition:  p.Definition,
		Published:   p.Published,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func runToResponse(r *domain.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		Name:         r.Name,
		PipelineID:   r.PipelineID,
		PipelineSlug: r.PipelineSlug,
		Status:       string(r.Status),
		Branch:       r.Branch,
		Commit:       r.Commit,
		Message:      r.Message,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func jobExecutionToResponse(j *domain.JobExecution, steps []domain.StepResult) JobExecutionResponse {
	resp := JobExecutionResponse{
		ID:           j.ID,
		RunID:        j.RunID,
		JobName:      j.JobName,
		InstanceName: j.InstanceName,
		Matrix:       j.Matrix,
		Status:       string(j.Status),
		ErrorMessage: j.ErrorMessage,
		Steps:        make([]StepResultResponse, 0, len(steps)),
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, StepResultResponse{
			Index:        s.Index,
			Name:         s.Name,
			Kind:         s.Kind,
			Runs:         s.Runs,
			Passes:       s.Passes,
			Succeeded:    s.Succeeded,
			Ignored:      s.Ignored,
			Output:       s.Output,
			ErrorMessage: s.ErrorMessage,
			DurationMS:   s.Duration.Milliseconds(),
		})
	}
	return resp
}
