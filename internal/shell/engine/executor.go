package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/core/plan"
	"github.com/conveyor-ci/conveyor/internal/core/workflow"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
)

// =============================================================================
// Run Execution
// =============================================================================

// instanceState pairs an expanded job instance with its persisted execution
// record.
type instanceState struct {
	instance plan.Instance
	exec     *domain.JobExecution
}

// runState holds everything the executor needs while driving one run.
type runState struct {
	run       *domain.Run
	wf        *workflow.Workflow
	instances map[string][]*instanceState // job name -> expanded instances
}

// executeRun drives a run to completion. The run must already be in the
// running state. Context cancellation marks the run cancelled.
func (e *Engine) executeRun(ctx context.Context, run *domain.Run) {
	logger := e.logger.With("run_id", run.ID, "run_name", run.Name)

	state, err := e.prepareRun(ctx, run)
	if err != nil {
		logger.Error("run preparation failed", "error", err)
		e.finishRun(run, fmt.Sprintf("preparation failed: %v", err))
		return
	}

	logger.Info("run started", "jobs", len(state.wf.Jobs))

	succeeded := make(map[string]bool)
	failed := make(map[string]bool)  // failed jobs and jobs skipped because a need failed
	skipped := make(map[string]bool) // jobs skipped by their condition, and their dependents

	pending := make(map[string]bool, len(state.wf.Jobs))
	for name := range state.wf.Jobs {
		pending[name] = true
	}

	for len(pending) > 0 {
		if ctx.Err() != nil {
			e.cancelRemaining(state, pending)
			e.markRunCancelled(run)
			logger.Info("run cancelled")
			return
		}

		ready, failedNow, skippedNow := e.partitionPending(state, pending, succeeded, failed, skipped)

		if len(ready) == 0 && len(failedNow) == 0 && len(skippedNow) == 0 {
			// No progress possible; cycles are rejected at parse time so
			// this indicates an internal inconsistency.
			e.finishRun(run, "no runnable jobs remain")
			return
		}

		for _, name := range failedNow {
			e.skipJob(state, name)
			failed[name] = true
			delete(pending, name)
		}
		for _, name := range skippedNow {
			e.skipJob(state, name)
			skipped[name] = true
			delete(pending, name)
		}

		// Condition gate: a ready job whose condition evaluates false is
		// skipped without failing the run.
		runnable := make([]string, 0, len(ready))
		for _, name := range ready {
			job := state.wf.Jobs[name]
			if job.If != "" && !workflow.EvaluateCondition(job.If, workflow.ConditionContext{
				Branch:      run.Branch,
				NeedsFailed: anyNeedFailed(job, failed),
			}) {
				e.skipJob(state, name)
				skipped[name] = true
				delete(pending, name)
				continue
			}
			runnable = append(runnable, name)
		}

		results := e.executeJobWave(ctx, state, runnable)
		for _, name := range runnable {
			if results[name] {
				succeeded[name] = true
			} else {
				failed[name] = true
			}
			delete(pending, name)
		}
	}

	if ctx.Err() != nil {
		e.markRunCancelled(run)
		logger.Info("run cancelled")
		return
	}

	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		e.finishRun(run, fmt.Sprintf("jobs failed or were skipped: %v", names))
		logger.Info("run failed", "failed_jobs", names)
		return
	}

	e.succeedRun(run)
	logger.Info("run succeeded")
}

// prepareRun parses the pipeline definition, expands all matrices and
// persists the job execution records.
func (e *Engine) prepareRun(ctx context.Context, run *domain.Run) (*runState, error) {
	pipeline, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return nil, err
	}

	wf, err := workflow.Parse(pipeline.Definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	state := &runState{
		run:       run,
		wf:        wf,
		instances: make(map[string][]*instanceState, len(wf.Jobs)),
	}

	// Topological order gives deterministic creation order for the records.
	// All executions are created in one transaction so a run never starts
	// with a partial job set.
	err = e.store.WithTx(ctx, func(tx store.Store) error {
		for _, job := range plan.TopologicalOrder(wf.Jobs) {
			for _, instance := range plan.ExpandMatrix(job) {
				exec := domain.NewJobExecution(run.ID, job.Name, instance.Matrix)
				if err := exec.Transition(domain.JobWaiting); err != nil {
					return err
				}
				if err := tx.CreateJobExecution(ctx, exec); err != nil {
					return err
				}
				state.instances[job.Name] = append(state.instances[job.Name], &instanceState{
					instance: instance,
					exec:     exec,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// partitionPending splits the pending jobs into those ready to run, those
// blocked by a failed need and those blocked by a condition-skipped need.
// Jobs whose condition runs after failure (always, failure) stay ready even
// when a need failed.
func (e *Engine) partitionPending(state *runState, pending, succeeded, failed, skipped map[string]bool) (ready, failedNow, skippedNow []string) {
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	unavailable := make(map[string]bool, len(failed)+len(skipped))
	for name := range failed {
		unavailable[name] = true
	}
	for name := range skipped {
		unavailable[name] = true
	}

	for _, name := range names {
		job := state.wf.Jobs[name]
		switch plan.JobReadiness(job, succeeded, unavailable) {
		case plan.Ready:
			ready = append(ready, name)
		case plan.Blocked:
			if workflow.RunsAfterFailure(job.If) {
				// always() and failure() jobs run once every need settled;
				// the condition gate decides whether they execute.
				if allNeedsSettled(job, succeeded, unavailable) {
					ready = append(ready, name)
				}
				continue
			}
			if anyNeedFailed(job, failed) {
				failedNow = append(failedNow, name)
			} else {
				skippedNow = append(skippedNow, name)
			}
		}
	}
	return ready, failedNow, skippedNow
}

// anyNeedFailed reports whether one of the job's needs is in the failed set.
func anyNeedFailed(job workflow.Job, failed map[string]bool) bool {
	for _, need := range job.Needs {
		if failed[need] {
			return true
		}
	}
	return false
}

// allNeedsSettled reports whether every need reached a terminal outcome.
func allNeedsSettled(job workflow.Job, succeeded, unavailable map[string]bool) bool {
	for _, need := range job.Needs {
		if !succeeded[need] && !unavailable[need] {
			return false
		}
	}
	return true
}

// executeJobWave runs a set of ready jobs concurrently and reports success
// per job.
func (e *Engine) executeJobWave(ctx context.Context, state *runState, ready []string) map[string]bool {
	results := make(map[string]bool, len(ready))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range ready {
		wg.Add(1)
		go func(jobName string) {
			defer wg.Done()
			ok := e.executeJob(ctx, state, jobName)
			mu.Lock()
			results[jobName] = ok
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// executeJob runs all matrix instances of one job. Returns true only when
// every instance succeeded.
func (e *Engine) executeJob(ctx context.Context, state *runState, jobName string) bool {
	job := state.wf.Jobs[jobName]
	instances := state.instances[jobName]

	failFast := job.Strategy.FailFastEnabled()

	maxParallel := 0
	if job.Strategy != nil {
		maxParallel = job.Strategy.MaxParallel
	}

	// Fail-fast cancels sibling instances through this context.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sem chan struct{}
	if maxParallel > 0 {
		sem = make(chan struct{}, maxParallel)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	allOK := true

	for _, unit := range instances {
		wg.Add(1)
		go func(unit *instanceState) {
			defer wg.Done()

			if sem != nil {
				select {
				case <-jobCtx.Done():
					e.markInstanceCancelled(unit)
					return
				case sem <- struct{}{}:
					defer func() { <-sem }()
				}
			}

			ok := e.executeInstance(jobCtx, state, job, unit)
			if !ok {
				mu.Lock()
				allOK = false
				mu.Unlock()
				if failFast {
					cancel()
				}
			}
		}(unit)
	}

	wg.Wait()
	return allOK
}

// executeInstance runs the steps of one job instance in order.
func (e *Engine) executeInstance(ctx context.Context, state *runState, job workflow.Job, unit *instanceState) bool {
	logger := e.logger.With("run_id", state.run.ID, "job", unit.exec.InstanceName)

	if ctx.Err() != nil {
		e.markInstanceCancelled(unit)
		return false
	}

	if err := unit.exec.Transition(domain.JobRunning); err != nil {
		logger.Error("failed to transition job to running", "error", err)
		return false
	}
	e.persistJobExecution(unit.exec)

	for index, step := range job.Steps {
		if ctx.Err() != nil {
			e.markInstanceCancelled(unit)
			return false
		}

		result := e.executeStep(ctx, state, job, unit, index, step)
		e.persistStepResult(result)

		if !result.Succeeded && !result.Ignored {
			msg := result.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("step %q failed", result.Name)
			}
			if err := unit.exec.TransitionToFailed(msg); err == nil {
				e.persistJobExecution(unit.exec)
			}
			logger.Info("job failed", "step", result.Name, "error", msg)
			return false
		}
	}

	if err := unit.exec.Transition(domain.JobSucceeded); err != nil {
		logger.Error("failed to transition job to succeeded", "error", err)
		return false
	}
	e.persistJobExecution(unit.exec)
	return true
}

// executeStep runs one step with its retry budget.
//
// The attempt loop stops as soon as the pass requirement is met, so a step
// with max-runs 5 and min-passes 1 stops after its first passing attempt.
func (e *Engine) executeStep(ctx context.Context, state *runState, job workflow.Job, unit *instanceState, index int, step workflow.Step) *domain.StepResult {
	kind := step.Kind()
	result := domain.NewStepResult(unit.exec.ID, index, stepDisplayName(step, kind), string(kind))

	sc := StepContext{
		RunID:          state.run.ID,
		JobExecutionID: unit.exec.ID,
		JobName:        job.Name,
		StepName:       result.Name,
		Image:          job.Image,
		Matrix:         unit.instance.Matrix,
		Env:            mergeStepEnv(state.wf.Env, job.Env, step.Env, unit.instance.Matrix),
	}

	maxRuns := step.EffectiveMaxRuns()
	minPasses := step.EffectiveMinPasses()

	start := time.Now()
	var lastOutput string
	var lastErr error

	for result.Runs < maxRuns && result.Passes < minPasses {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if step.TimeoutSeconds > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		}

		output, err := e.dispatchStep(attemptCtx, sc, step, kind)
		if cancel != nil {
			cancel()
		}

		result.Runs++
		lastOutput = output
		if err == nil {
			result.Passes++
		} else {
			lastErr = err
		}
	}

	result.Duration = time.Since(start)
	result.Output = lastOutput
	result.Succeeded = result.Passes >= minPasses

	if !result.Succeeded {
		if lastErr != nil {
			result.ErrorMessage = lastErr.Error()
		}
		if step.ContinueOnError {
			result.Ignored = true
		}
	}

	return result
}

// dispatchStep routes a step to the runner method for its kind.
func (e *Engine) dispatchStep(ctx context.Context, sc StepContext, step workflow.Step, kind workflow.StepKind) (string, error) {
	switch kind {
	case workflow.StepKindRun:
		command := plan.SubstituteMatrix(step.Run, sc.Matrix)
		return e.runner.RunCommand(ctx, sc, command)
	case workflow.StepKindBuild:
		return e.runner.Build(ctx, sc, step.Build)
	case workflow.StepKindPush:
		return e.runner.Push(ctx, sc, step.Push)
	case workflow.StepKindDeploy:
		return e.runner.Deploy(ctx, sc, step.Deploy)
	default:
		return "", fmt.Errorf("unknown step kind %q", kind)
	}
}

// =============================================================================
// Status Bookkeeping
// =============================================================================

// skipJob marks every instance of a job as skipped.
func (e *Engine) skipJob(state *runState, jobName string) {
	for _, unit := range state.instances[jobName] {
		if err := unit.exec.Transition(domain.JobSkipped); err == nil {
			e.persistJobExecution(unit.exec)
		}
	}
}

// cancelRemaining marks unfinished instances of the pending jobs cancelled.
func (e *Engine) cancelRemaining(state *runState, pending map[string]bool) {
	for name := range pending {
		for _, unit := range state.instances[name] {
			e.markInstanceCancelled(unit)
		}
	}
}

func (e *Engine) markInstanceCancelled(unit *instanceState) {
	if unit.exec.Status.Finished() {
		return
	}
	if err := unit.exec.Transition(domain.JobCancelled); err == nil {
		e.persistJobExecution(unit.exec)
	}
}

func (e *Engine) markRunCancelled(run *domain.Run) {
	if err := run.Transition(domain.RunCancelled); err == nil {
		e.persistRun(run)
	}
	e.enqueueNotification(run)
}

func (e *Engine) finishRun(run *domain.Run, errorMessage string) {
	if err := run.TransitionToFailed(errorMessage); err == nil {
		e.persistRun(run)
	}
	e.enqueueNotification(run)
}

func (e *Engine) succeedRun(run *domain.Run) {
	if err := run.Transition(domain.RunSucceeded); err == nil {
		e.persistRun(run)
	}
	e.enqueueNotification(run)
}

// enqueueNotification writes an outbox row for the run's terminal status.
// The notifier worker delivers it.
func (e *Engine) enqueueNotification(run *domain.Run) {
	event := "run." + string(run.Status)

	text := fmt.Sprintf("Run %s (%s) %s", run.Name, run.PipelineSlug, run.Status)
	if run.ErrorMessage != "" {
		text += ": " + run.ErrorMessage
	}

	payload, err := json.Marshal(map[string]string{
		"text":   text,
		"run":    run.Name,
		"status": string(run.Status),
	})
	if err != nil {
		return
	}

	notification := domain.NewNotification(run.ID, event, string(payload))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.CreateNotification(ctx, notification); err != nil {
		e.logger.Error("failed to enqueue notification", "run_id", run.ID, "error", err)
	}
}

// persistRun updates the run row, using a fresh context so final states are
// recorded even when the run context is cancelled.
func (e *Engine) persistRun(run *domain.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		e.logger.Error("failed to persist run", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) persistJobExecution(exec *domain.JobExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateJobExecution(ctx, exec); err != nil {
		e.logger.Error("failed to persist job execution", "job_execution_id", exec.ID, "error", err)
	}
}

func (e *Engine) persistStepResult(result *domain.StepResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.CreateStepResult(ctx, result); err != nil {
		e.logger.Error("failed to persist step result", "step_result_id", result.ID, "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// stepDisplayName falls back to the step kind when the step is unnamed.
func stepDisplayName(step workflow.Step, kind workflow.StepKind) string {
	if step.Name != "" {
		return step.Name
	}
	return string(kind)
}

// mergeStepEnv layers workflow, job and step environment, applying matrix
// substitution to every value. Later layers win.
func mergeStepEnv(wfEnv, jobEnv, stepEnv, matrix map[string]string) map[string]string {
	merged := make(map[string]string, len(wfEnv)+len(jobEnv)+len(stepEnv))
	for _, layer := range []map[string]string{wfEnv, jobEnv, stepEnv} {
		for k, v := range layer {
			merged[k] = plan.SubstituteMatrix(v, matrix)
		}
	}
	return merged
}
