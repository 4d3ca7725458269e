package plan

import (
	"testing"

	"github.com/conveyor-ci/conveyor/internal/core/workflow"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// TopologicalOrder Tests
// =============================================================================

func jobMap(jobs ...workflow.Job) map[string]workflow.Job {
	m := make(map[string]workflow.Job, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	return m
}

func names(jobs []workflow.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestTopologicalOrder_Empty(t *testing.T) {
	assert.Empty(t, TopologicalOrder(nil))
	assert.Empty(t, TopologicalOrder(map[string]workflow.Job{}))
}

func TestTopologicalOrder_SingleJob(t *testing.T) {
	result := TopologicalOrder(jobMap(workflow.Job{Name: "build"}))
	assert.Equal(t, []string{"build"}, names(result))
}

func TestTopologicalOrder_LinearChain(t *testing.T) {
	// deploy needs test, test needs build
	result := TopologicalOrder(jobMap(
		workflow.Job{Name: "deploy", Needs: []string{"test"}},
		workflow.Job{Name: "test", Needs: []string{"build"}},
		workflow.Job{Name: "build"},
	))
	assert.Equal(t, []string{"build", "test", "deploy"}, names(result))
}

func TestTopologicalOrder_Diamond(t *testing.T) {
	//      release
	//      /     \
	//   docker   docs
	//      \     /
	//      build
	result := TopologicalOrder(jobMap(
		workflow.Job{Name: "release", Needs: []string{"docker", "docs"}},
		workflow.Job{Name: "docker", Needs: []string{"build"}},
		workflow.Job{Name: "docs", Needs: []string{"build"}},
		workflow.Job{Name: "build"},
	))

	indices := make(map[string]int)
	for i, name := range names(result) {
		indices[name] = i
	}

	assert.Equal(t, 0, indices["build"], "build should be first")
	assert.Equal(t, 3, indices["release"], "release should be last")
	assert.Less(t, indices["build"], indices["docker"])
	assert.Less(t, indices["build"], indices["docs"])
}

func TestTopologicalOrder_DeterministicTieBreak(t *testing.T) {
	// Independent roots come out in name order
	result := TopologicalOrder(jobMap(
		workflow.Job{Name: "zeta"},
		workflow.Job{Name: "alpha"},
		workflow.Job{Name: "mid"},
	))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names(result))
}

func TestTopologicalOrder_CycleFallback(t *testing.T) {
	// Cycles are rejected at parse time; ordering still returns everything
	result := TopologicalOrder(jobMap(
		workflow.Job{Name: "a", Needs: []string{"b"}},
		workflow.Job{Name: "b", Needs: []string{"a"}},
		workflow.Job{Name: "c"},
	))
	assert.Len(t, result, 3)
	assert.Equal(t, "c", result[0].Name)
}

// =============================================================================
// JobReadiness Tests
// =============================================================================

func TestJobReadiness_NoNeeds(t *testing.T) {
	job := workflow.Job{Name: "build"}
	assert.Equal(t, Ready, JobReadiness(job, nil, nil))
}

func TestJobReadiness_WaitingOnNeed(t *testing.T) {
	job := workflow.Job{Name: "test", Needs: []string{"build"}}
	assert.Equal(t, NotReady, JobReadiness(job, map[string]bool{}, map[string]bool{}))
}

func TestJobReadiness_AllNeedsSucceeded(t *testing.T) {
	job := workflow.Job{Name: "deploy", Needs: []string{"build", "test"}}
	succeeded := map[string]bool{"build": true, "test": true}
	assert.Equal(t, Ready, JobReadiness(job, succeeded, nil))
}

func TestJobReadiness_BlockedByFailedNeed(t *testing.T) {
	job := workflow.Job{Name: "deploy", Needs: []string{"build", "test"}}
	succeeded := map[string]bool{"build": true}
	blocked := map[string]bool{"test": true}
	assert.Equal(t, Blocked, JobReadiness(job, succeeded, blocked))
}

func TestJobReadiness_BlockedWinsOverNotReady(t *testing.T) {
	// One need failed, another still running: job is blocked immediately
	job := workflow.Job{Name: "deploy", Needs: []string{"a", "b"}}
	blocked := map[string]bool{"a": true}
	assert.Equal(t, Blocked, JobReadiness(job, map[string]bool{}, blocked))
}
