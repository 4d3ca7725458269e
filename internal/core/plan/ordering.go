package plan

import (
	"sort"

	"github.com/conveyor-ci/conveyor/internal/core/workflow"
)

// =============================================================================
// Job Ordering Functions
// =============================================================================

// TopologicalOrder sorts jobs by their `needs` edges using Kahn's algorithm.
// Jobs with no dependencies come first; ties are broken by name so the
// order is deterministic.
//
// If a cycle exists (which is caught at parse time), remaining jobs are
// appended to the result as a fallback.
func TopologicalOrder(jobs map[string]workflow.Job) []workflow.Job {
	if len(jobs) == 0 {
		return nil
	}

	// Build dependency graph
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name, job := range jobs {
		inDegree[name] = len(job.Needs)
		for _, need := range job.Needs {
			dependents[need] = append(dependents[need], name)
		}
	}

	// Start with jobs that have no dependencies
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	// Process queue (BFS)
	var result []workflow.Job
	seen := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if job, ok := jobs[name]; ok {
			result = append(result, job)
			seen[name] = true
		}

		// Reduce in-degree for dependents
		var released []string
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	// If we didn't get all jobs there's a cycle; append the remainder
	if len(result) < len(jobs) {
		var rest []string
		for name := range jobs {
			if !seen[name] {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		for _, name := range rest {
			result = append(result, jobs[name])
		}
	}

	return result
}

// =============================================================================
// Readiness
// =============================================================================

// Readiness classifies a job relative to the state of its needs.
type Readiness int

const (
	// NotReady means at least one need has not finished yet.
	NotReady Readiness = iota

	// Ready means every need succeeded.
	Ready

	// Blocked means a need failed, was skipped or was cancelled; the job
	// must be skipped.
	Blocked
)

// JobReadiness determines whether a job can start given the sets of
// succeeded and blocked job names. A job is blocked as soon as any of its
// needs is blocked, even if other needs are still running.
func JobReadiness(job workflow.Job, succeeded, blocked map[string]bool) Readiness {
	for _, need := range job.Needs {
		if blocked[need] {
			return Blocked
		}
	}
	for _, need := range job.Needs {
		if !succeeded[need] {
			return NotReady
		}
	}
	return Ready
}
