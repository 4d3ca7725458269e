// Package api provides HTTP handlers for the Conveyor API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/core/manifest"
	"github.com/conveyor-ci/conveyor/internal/core/validation"
	"github.com/conveyor-ci/conveyor/internal/core/workflow"
	"github.com/conveyor-ci/conveyor/internal/shell/api/openapi"
	"github.com/conveyor-ci/conveyor/internal/shell/docker"
	"github.com/conveyor-ci/conveyor/internal/shell/engine"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// RunController starts and cancels runs. Satisfied by *engine.Engine.
type RunController interface {
	StartRun(ctx context.Context, runID string) error
	CancelRun(ctx context.Context, runID string) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store   store.Store
	engine  RunController
	docker  docker.Client // nil skips the Docker readiness check
	logger  *slog.Logger
	openapi *openapi.Generator
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, e RunController, d docker.Client, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}

	gen := openapi.NewGenerator()
	gen.RegisterResource(openapi.ResourceInfo{
		Name:           "pipelines",
		Model:          PipelineResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		SupportsDelete: true,
	})
	gen.RegisterResource(openapi.ResourceInfo{
		Name:         "runs",
		Model:        RunResponse{},
		SupportsFind: true,
	})

	return &Handler{
		store:   s,
		engine:  e,
		docker:  d,
		logger:  l,
		openapi: gen,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.openapi.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Pipeline routes
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", h.handleCreatePipeline)
			r.Get("/", h.handleListPipelines)
			r.Get("/{id}", h.handleGetPipeline)
			r.Put("/{id}", h.handleUpdatePipeline)
			r.Delete("/{id}", h.handleDeletePipeline)
			r.Post("/{id}/publish", h.handlePublishPipeline)
			r.Get("/{id}/runs", h.handleListPipelineRuns)
			r.Post("/{id}/runs", h.handleTriggerRun)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
			r.Get("/{id}/jobs", h.handleListRunJobs)
			r.Post("/{id}/cancel", h.handleCancelRun)
		})

		// Push event ingestion
		r.Post("/events/push", h.handlePushEvent)

		// Manifest preview
		r.Post("/manifests/render", h.handleRenderManifest)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// Check database (implicit - if we got here, store was created)
	checks["database"] = "ok"

	if h.docker != nil {
		if err := h.docker.Ping(); err != nil {
			checks["docker"] = "failed"
			h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
				Status: "not_ready",
				Checks: checks,
			})
			return
		}
		checks["docker"] = "ok"
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Pipeline Handlers
// =============================================================================

func (h *Handler) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	// Version is assigned by the domain layer; validate name and definition
	if field, msg := validation.ValidateCreatePipelineFields(req.Name, "1", req.Definition); field != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	// Reject definitions that do not parse
	if _, err := workflow.Parse(req.Definition); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_definition")
		return
	}

	pipeline, err := domain.NewPipeline(req.Name, req.Description, req.Definition)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreatePipeline(r.Context(), pipeline); err != nil {
		if isDuplicate(err) {
			h.writeError(w, http.StatusConflict, "pipeline with this slug already exists", "duplicate_slug")
			return
		}
		h.logger.Error("failed to create pipeline", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create pipeline", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, pipelineToResponse(pipeline))
}

func (h *Handler) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pipelineToResponse(pipeline))
}

func (h *Handler) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	opts := h.listOptions(r)

	pipelines, err := h.store.ListPipelines(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list pipelines", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list pipelines", "internal_error")
		return
	}

	resp := ListPipelinesResponse{
		Pipelines: make([]PipelineResponse, 0, len(pipelines)),
		Total:     len(pipelines),
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}
	for i := range pipelines {
		resp.Pipelines = append(resp.Pipelines, pipelineToResponse(&pipelines[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}

	// Can't update published pipelines
	if allowed, reason := validation.CanUpdatePipeline(pipeline.Published); !allowed {
		h.writeError(w, http.StatusConflict, reason, "pipeline_published")
		return
	}

	var req UpdatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if req.Name != "" {
		pipeline.Name = req.Name
	}
	if req.Description != "" {
		pipeline.Description = req.Description
	}
	if req.Definition != "" {
		if _, err := workflow.Parse(req.Definition); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_definition")
			return
		}
		pipeline.Definition = req.Definition
		pipeline.Version = bumpVersion(pipeline.Version)
	}

	if err := h.store.UpdatePipeline(r.Context(), pipeline); err != nil {
		h.logger.Error("failed to update pipeline", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update pipeline", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, pipelineToResponse(pipeline))
}

func (h *Handler) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}

	// Runs, job executions and step results are removed by cascade
	if err := h.store.DeletePipeline(r.Context(), pipeline.ID); err != nil {
		h.logger.Error("failed to delete pipeline", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete pipeline", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePublishPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}

	if pipeline.Published {
		h.writeError(w, http.StatusConflict, "pipeline is already published", "already_published")
		return
	}

	// A publish locks the definition, so it has to parse
	if _, err := workflow.Parse(pipeline.Definition); err != nil {
		h.writeError(w, http.StatusConflict, err.Error(), "invalid_definition")
		return
	}

	pipeline.Publish()

	if err := h.store.UpdatePipeline(r.Context(), pipeline); err != nil {
		h.logger.Error("failed to publish pipeline", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to publish pipeline", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, pipelineToResponse(pipeline))
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}

	if allowed, reason := validation.CanStartRun(pipeline.Published); !allowed {
		h.writeError(w, http.StatusConflict, reason, "pipeline_not_published")
		return
	}

	var req TriggerRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
			return
		}
	}

	if req.Branch != "" {
		if msg := validation.ValidateBranchName(req.Branch); msg != "" {
			h.writeError(w, http.StatusBadRequest, msg, "validation_error")
			return
		}
	}

	run, err := domain.NewRun(*pipeline, req.Branch, req.Commit, req.Message)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error(), "pipeline_not_published")
		return
	}

	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
		return
	}

	if err := h.engine.StartRun(r.Context(), run.ID); err != nil {
		h.logger.Error("failed to start run", "run_id", run.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start run", "internal_error")
		return
	}

	h.logger.Info("run triggered", "run_id", run.ID, "pipeline_id", pipeline.ID)

	h.writeJSON(w, http.StatusCreated, runToResponse(run))
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := h.listOptions(r)

	runs, err := h.store.ListRuns(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, h.runsResponse(runs, opts))
}

func (h *Handler) handleListPipelineRuns(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.loadPipeline(w, r)
	if !ok {
		return
	}

	opts := h.listOptions(r)

	runs, err := h.store.ListRunsByPipeline(r.Context(), pipeline.ID, opts)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, h.runsResponse(runs, opts))
}

func (h *Handler) handleListRunJobs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	execs, err := h.store.ListJobExecutionsByRun(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("failed to list job executions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list job executions", "internal_error")
		return
	}

	resp := ListJobExecutionsResponse{
		Jobs: make([]JobExecutionResponse, 0, len(execs)),
	}
	for i := range execs {
		steps, err := h.store.ListStepResultsByJobExecution(r.Context(), execs[i].ID)
		if err != nil {
			h.logger.Error("failed to list step results", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to list step results", "internal_error")
			return
		}
		resp.Jobs = append(resp.Jobs, jobExecutionToResponse(&execs[i], steps))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	if err := h.engine.CancelRun(r.Context(), run.ID); err != nil {
		if errors.Is(err, engine.ErrRunNotCancellable) {
			h.writeError(w, http.StatusConflict, err.Error(), "run_finished")
			return
		}
		h.logger.Error("failed to cancel run", "run_id", run.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel run", "internal_error")
		return
	}

	// Re-read for the post-cancel status
	run, err := h.store.GetRun(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("failed to get run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

// =============================================================================
// Push Event Handler
// =============================================================================

func (h *Handler) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	var req PushEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	if msg := validation.ValidateBranchName(req.Branch); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "validation_error")
		return
	}

	pipelines, err := h.store.ListPublishedPipelines(r.Context())
	if err != nil {
		h.logger.Error("failed to list published pipelines", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list pipelines", "internal_error")
		return
	}

	event := workflow.PushEvent{
		Branch:  req.Branch,
		Commit:  req.Commit,
		Message: req.Message,
	}

	resp := PushEventResponse{Runs: make([]RunResponse, 0)}
	for i := range pipelines {
		pipeline := &pipelines[i]

		wf, err := workflow.Parse(pipeline.Definition)
		if err != nil {
			h.logger.Warn("skipping pipeline with unparseable definition",
				"pipeline_id", pipeline.ID, "error", err)
			continue
		}

		if !wf.On.Matches(event) {
			continue
		}

		run, err := domain.NewRun(*pipeline, req.Branch, req.Commit, req.Message)
		if err != nil {
			continue
		}

		if err := h.store.CreateRun(r.Context(), run); err != nil {
			h.logger.Error("failed to create run", "pipeline_id", pipeline.ID, "error", err)
			continue
		}

		if err := h.engine.StartRun(r.Context(), run.ID); err != nil {
			h.logger.Error("failed to start run", "run_id", run.ID, "error", err)
			continue
		}

		resp.Matched++
		resp.Runs = append(resp.Runs, runToResponse(run))
	}

	h.logger.Info("push event processed",
		"branch", req.Branch,
		"commit", req.Commit,
		"matched", resp.Matched,
	)

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Manifest Handler
// =============================================================================

// handleRenderManifest previews the Deployment manifest a deploy step with
// the given parameters would apply.
func (h *Handler) handleRenderManifest(w http.ResponseWriter, r *http.Request) {
	var req RenderManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}
	replicas := req.Replicas
	if replicas == 0 {
		replicas = 1
	}

	rendered, err := manifest.RenderYAML(manifest.DeploymentTemplate, manifest.Params{
		Name:       req.Name,
		Namespace:  namespace,
		Replicas:   replicas,
		Image:      req.Image,
		PullPolicy: req.PullPolicy,
		Command:    req.Command,
		Args:       req.Args,
		PortExpose: req.PortExpose,
		PortIn:     req.PortIn,
		PortOut:    req.PortOut,
		PortCtrl:   req.PortCtrl,
		Env:        req.Env,
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_manifest_params")
		return
	}

	h.writeJSON(w, http.StatusOK, RenderManifestResponse{Manifest: rendered})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) loadPipeline(w http.ResponseWriter, r *http.Request) (*domain.Pipeline, bool) {
	id := chi.URLParam(r, "id")

	pipeline, err := h.store.GetPipeline(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "pipeline not found", "pipeline_not_found")
			return nil, false
		}
		h.logger.Error("failed to get pipeline", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get pipeline", "internal_error")
		return nil, false
	}

	return pipeline, true
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*domain.Run, bool) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return nil, false
		}
		h.logger.Error("failed to get run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return nil, false
	}

	return run, true
}

func (h *Handler) listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}

	return opts.Normalize()
}

func (h *Handler) runsResponse(runs []domain.Run, opts store.ListOptions) ListRunsResponse {
	resp := ListRunsResponse{
		Runs:   make([]RunResponse, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i]))
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// bumpVersion increments a numeric version string.
func bumpVersion(version string) string {
	n, err := strconv.Atoi(version)
	if err != nil {
		return version
	}
	return strconv.Itoa(n + 1)
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// isDuplicate checks if an error is a duplicate ID or slug error.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateID) || errors.Is(err, store.ErrDuplicateSlug)
}
