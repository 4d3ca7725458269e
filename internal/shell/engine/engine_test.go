package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/conveyor-ci/conveyor/internal/core/workflow"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Step Runner
// =============================================================================

// fakeRunner records dispatched steps and delegates behavior to optional
// hooks. Without hooks every step succeeds.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	contexts []StepContext
	deploys  []*workflow.DeployStep

	onCommand    func(sc StepContext, command string) (string, error)
	onCommandCtx func(ctx context.Context, sc StepContext, command string) (string, error)
}

func (f *fakeRunner) RunCommand(ctx context.Context, sc StepContext, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.contexts = append(f.contexts, sc)
	f.mu.Unlock()

	if f.onCommandCtx != nil {
		return f.onCommandCtx(ctx, sc, command)
	}
	if f.onCommand != nil {
		return f.onCommand(sc, command)
	}
	return "ok\n", nil
}

func (f *fakeRunner) Build(ctx context.Context, sc StepContext, step *workflow.BuildStep) (string, error) {
	return "built\n", ctx.Err()
}

func (f *fakeRunner) Push(ctx context.Context, sc StepContext, step *workflow.PushStep) (string, error) {
	return "pushed\n", ctx.Err()
}

func (f *fakeRunner) Deploy(ctx context.Context, sc StepContext, step *workflow.DeployStep) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.deploys = append(f.deploys, step)
	f.mu.Unlock()
	return "deployed\n", nil
}

func (f *fakeRunner) commandCount(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, c := range f.commands {
		if c == command {
			count++
		}
	}
	return count
}

// =============================================================================
// Test Helpers
// =============================================================================

const releaseDefinition = `
name: release
env:
  REGISTRY: registry.example.com
jobs:
  build:
    steps:
      - name: compile
        run: make build
  test:
    needs: [build]
    strategy:
      matrix:
        path: [unit, integration]
    steps:
      - name: pytest
        run: pytest tests/{matrix.path}
        max-runs: 5
        min-passes: 1
  deploy:
    needs: [test]
    steps:
      - name: rollout
        deploy:
          name: gateway
          image: registry.example.com/gateway:1.0.0
          port-expose: 8080
`

func newTestEngine(t *testing.T, runner StepRunner) (*Engine, *store.SQLiteStore) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := NewEngine(s, runner, DefaultConfig(), slog.Default())
	return e, s
}

func createRunningRun(t *testing.T, s *store.SQLiteStore, definition string) *domain.Run {
	t.Helper()
	ctx := context.Background()

	pipeline, err := domain.NewPipeline("Release", "", definition)
	require.NoError(t, err)
	pipeline.Publish()
	require.NoError(t, s.CreatePipeline(ctx, pipeline))

	run, err := domain.NewRun(*pipeline, "master", "abc123", "feat: ship it")
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, run.Transition(domain.RunQueued))
	require.NoError(t, run.Transition(domain.RunRunning))
	require.NoError(t, s.UpdateRun(ctx, run))
	return run
}

func jobStatuses(t *testing.T, s *store.SQLiteStore, runID string) map[string]domain.JobStatus {
	t.Helper()

	execs, err := s.ListJobExecutionsByRun(context.Background(), runID)
	require.NoError(t, err)

	statuses := make(map[string]domain.JobStatus, len(execs))
	for _, e := range execs {
		statuses[e.InstanceName] = e.Status
	}
	return statuses
}

// =============================================================================
// Run Execution Tests
// =============================================================================

func TestExecuteRun_Success(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	run := createRunningRun(t, s, releaseDefinition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunSucceeded, run.Status)

	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobSucceeded, statuses["build"])
	assert.Equal(t, domain.JobSucceeded, statuses["test (path=unit)"])
	assert.Equal(t, domain.JobSucceeded, statuses["test (path=integration)"])
	assert.Equal(t, domain.JobSucceeded, statuses["deploy"])

	// Matrix substitution applied to commands
	assert.Equal(t, 1, runner.commandCount("pytest tests/unit"))
	assert.Equal(t, 1, runner.commandCount("pytest tests/integration"))
	assert.Equal(t, 1, runner.commandCount("make build"))

	require.Len(t, runner.deploys, 1)
	assert.Equal(t, "gateway", runner.deploys[0].Name)

	// Terminal notification is queued for the webhook worker
	notifications, err := s.GetUnsentNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "run.succeeded", notifications[0].Event)
}

func TestExecuteRun_FailureSkipsDependents(t *testing.T) {
	runner := &fakeRunner{
		onCommand: func(sc StepContext, command string) (string, error) {
			if command == "pytest tests/unit" {
				return "boom\n", errors.New("tests failed")
			}
			return "ok\n", nil
		},
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	run := createRunningRun(t, s, releaseDefinition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "test")

	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobSucceeded, statuses["build"])
	assert.Equal(t, domain.JobSkipped, statuses["deploy"])

	// The failing instance exhausted its attempt budget
	assert.Equal(t, 5, runner.commandCount("pytest tests/unit"))

	notifications, err := s.GetUnsentNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "run.failed", notifications[0].Event)
}

func TestExecuteRun_RetryStopsAtFirstPass(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	runner := &fakeRunner{
		onCommand: func(sc StepContext, command string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return "flaky\n", errors.New("flaky failure")
			}
			return "passed\n", nil
		},
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: flaky
jobs:
  test:
    steps:
      - name: pytest
        run: pytest tests
        max-runs: 5
        min-passes: 1
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, 3, attempts, "should stop at the first pass, not exhaust max-runs")

	execs, err := s.ListJobExecutionsByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	results, err := s.ListStepResultsByJobExecution(context.Background(), execs[0].ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Runs)
	assert.Equal(t, 1, results[0].Passes)
	assert.True(t, results[0].Succeeded)
	assert.False(t, results[0].Ignored)
}

func TestExecuteRun_ContinueOnError(t *testing.T) {
	runner := &fakeRunner{
		onCommand: func(sc StepContext, command string) (string, error) {
			if command == "upload coverage" {
				return "", errors.New("coverage service unavailable")
			}
			return "ok\n", nil
		},
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: coverage
jobs:
  test:
    steps:
      - name: pytest
        run: pytest tests
      - name: codecov
        run: upload coverage
        continue-on-error: true
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunSucceeded, run.Status)

	execs, err := s.ListJobExecutionsByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.JobSucceeded, execs[0].Status)

	results, err := s.ListStepResultsByJobExecution(context.Background(), execs[0].ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[1].Succeeded)
	assert.True(t, results[1].Ignored)
	assert.Contains(t, results[1].ErrorMessage, "coverage service unavailable")
}

func TestExecuteRun_EnvLayering(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: env-test
env:
  SHARED: workflow
  WORKFLOW_ONLY: base
jobs:
  test:
    env:
      SHARED: job
    strategy:
      matrix:
        path: [unit]
    steps:
      - name: check
        run: env
        env:
          TARGET: tests/{matrix.path}
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	require.Equal(t, domain.RunSucceeded, run.Status)
	require.Len(t, runner.contexts, 1)

	env := runner.contexts[0].Env
	assert.Equal(t, "job", env["SHARED"], "job env overrides workflow env")
	assert.Equal(t, "base", env["WORKFLOW_ONLY"])
	assert.Equal(t, "tests/unit", env["TARGET"], "matrix substitution applies to env values")
}

func TestExecuteRun_FailFastDisabledKeepsSiblings(t *testing.T) {
	runner := &fakeRunner{
		onCommand: func(sc StepContext, command string) (string, error) {
			if command == "pytest tests/bad" {
				return "boom\n", errors.New("tests failed")
			}
			return "ok\n", nil
		},
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: matrix-no-fail-fast
jobs:
  test:
    strategy:
      fail-fast: false
      matrix:
        path: [bad, ok1, ok2]
    steps:
      - run: pytest tests/{matrix.path}
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunFailed, run.Status)

	// Siblings of the failing instance run to completion
	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobFailed, statuses["test (path=bad)"])
	assert.Equal(t, domain.JobSucceeded, statuses["test (path=ok1)"])
	assert.Equal(t, domain.JobSucceeded, statuses["test (path=ok2)"])

	assert.Equal(t, 1, runner.commandCount("pytest tests/bad"))
	assert.Equal(t, 1, runner.commandCount("pytest tests/ok1"))
	assert.Equal(t, 1, runner.commandCount("pytest tests/ok2"))
}

func TestExecuteRun_FailFastCancelsSiblings(t *testing.T) {
	runner := &fakeRunner{}
	runner.onCommandCtx = func(ctx context.Context, sc StepContext, command string) (string, error) {
		if command == "pytest tests/bad" {
			return "boom\n", errors.New("tests failed")
		}
		// Siblings block until fail-fast cancels them
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "ok\n", nil
		}
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: matrix-fail-fast
jobs:
  test:
    strategy:
      matrix:
        path: [bad, ok1, ok2]
    steps:
      - run: pytest tests/{matrix.path}
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunFailed, run.Status)

	// fail-fast defaults to true: no sibling finishes successfully
	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobFailed, statuses["test (path=bad)"])
	assert.NotEqual(t, domain.JobSucceeded, statuses["test (path=ok1)"])
	assert.NotEqual(t, domain.JobSucceeded, statuses["test (path=ok2)"])
}

func TestExecuteRun_MaxParallelBoundsInstances(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	runner := &fakeRunner{}
	runner.onCommandCtx = func(ctx context.Context, sc StepContext, command string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok\n", nil
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: matrix-bounded
jobs:
  test:
    strategy:
      max-parallel: 2
      matrix:
        path: [a, b, c, d]
    steps:
      - run: pytest tests/{matrix.path}
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunSucceeded, run.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "max-parallel must bound concurrent instances")

	statuses := jobStatuses(t, s, run.ID)
	for _, path := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, domain.JobSucceeded, statuses["test (path="+path+")"])
	}
}

func TestExecuteRun_ConditionSkipsJob(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: conditional
jobs:
  build:
    steps:
      - run: make build
  publish:
    needs: [build]
    if: branch == 'main'
    steps:
      - run: make publish
`
	// createRunningRun uses branch master, so publish must not run
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunSucceeded, run.Status)

	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobSucceeded, statuses["build"])
	assert.Equal(t, domain.JobSkipped, statuses["publish"])

	assert.Equal(t, 1, runner.commandCount("make build"))
	assert.Equal(t, 0, runner.commandCount("make publish"))
}

func TestExecuteRun_AlwaysRunsAfterFailure(t *testing.T) {
	runner := &fakeRunner{
		onCommand: func(sc StepContext, command string) (string, error) {
			if command == "pytest tests" {
				return "boom\n", errors.New("tests failed")
			}
			return "ok\n", nil
		},
	}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	definition := `
name: cleanup
jobs:
  test:
    steps:
      - run: pytest tests
        max-runs: 1
  report:
    needs: [test]
    steps:
      - run: make report
  cleanup:
    needs: [test]
    if: always()
    steps:
      - run: make clean
`
	run := createRunningRun(t, s, definition)
	e.executeRun(context.Background(), run)

	assert.Equal(t, domain.RunFailed, run.Status)

	statuses := jobStatuses(t, s, run.ID)
	assert.Equal(t, domain.JobFailed, statuses["test"])
	assert.Equal(t, domain.JobSkipped, statuses["report"])
	assert.Equal(t, domain.JobSucceeded, statuses["cleanup"])

	assert.Equal(t, 0, runner.commandCount("make report"))
	assert.Equal(t, 1, runner.commandCount("make clean"))
}

// =============================================================================
// StartRun / CancelRun Tests
// =============================================================================

func TestStartRun_EndToEnd(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	run := func() *domain.Run {
		ctx := context.Background()
		pipeline, err := domain.NewPipeline("Release", "", releaseDefinition)
		require.NoError(t, err)
		pipeline.Publish()
		require.NoError(t, s.CreatePipeline(ctx, pipeline))

		r, err := domain.NewRun(*pipeline, "master", "abc", "feat: go")
		require.NoError(t, err)
		require.NoError(t, s.CreateRun(ctx, r))
		return r
	}()

	require.NoError(t, e.StartRun(context.Background(), run.ID))

	require.Eventually(t, func() bool {
		got, err := s.GetRun(context.Background(), run.ID)
		return err == nil && got.Status.Finished()
	}, 5*time.Second, 20*time.Millisecond)

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
}

func TestStartRun_InvalidState(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	run := createRunningRun(t, s, releaseDefinition)

	err := e.StartRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotStartable))
}

func TestStartRun_WhenStopped(t *testing.T) {
	runner := &fakeRunner{}
	e, _ := newTestEngine(t, runner)

	err := e.StartRun(context.Background(), "any")
	assert.True(t, errors.Is(err, ErrEngineStopped))
}

func TestCancelRun_Pending(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	ctx := context.Background()
	pipeline, err := domain.NewPipeline("Release", "", releaseDefinition)
	require.NoError(t, err)
	pipeline.Publish()
	require.NoError(t, s.CreatePipeline(ctx, pipeline))

	run, err := domain.NewRun(*pipeline, "master", "abc", "msg")
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, e.CancelRun(ctx, run.ID))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, got.Status)
}

func TestCancelRun_Finished(t *testing.T) {
	runner := &fakeRunner{}
	e, s := newTestEngine(t, runner)
	e.Start()
	defer e.Stop()

	run := createRunningRun(t, s, releaseDefinition)
	e.executeRun(context.Background(), run)
	require.Equal(t, domain.RunSucceeded, run.Status)

	err := e.CancelRun(context.Background(), run.ID)
	assert.True(t, errors.Is(err, ErrRunNotCancellable))
}
