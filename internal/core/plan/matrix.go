package plan

import (
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/internal/core/workflow"
)

// =============================================================================
// Matrix Expansion
// =============================================================================

// Instance is one expanded occurrence of a workflow job. A job without a
// matrix strategy expands to a single instance with nil Matrix.
type Instance struct {
	Job    workflow.Job
	Matrix map[string]string
}

// ExpandMatrix expands a job into its matrix instances: the cartesian
// product of all axis values. Axes are iterated in sorted name order and
// values in definition order, so the result is deterministic.
//
// Example:
//
//	// matrix: {os: [linux], path: [unit, e2e]}
//	// expands to [{os:linux, path:unit}, {os:linux, path:e2e}]
func ExpandMatrix(job workflow.Job) []Instance {
	if job.Strategy == nil || len(job.Strategy.Matrix) == 0 {
		return []Instance{{Job: job}}
	}

	axes := make([]string, 0, len(job.Strategy.Matrix))
	for axis := range job.Strategy.Matrix {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	combos := []map[string]string{{}}
	for _, axis := range axes {
		values := job.Strategy.Matrix[axis]
		next := make([]map[string]string, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, value := range values {
				expanded := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					expanded[k] = v
				}
				expanded[axis] = value
				next = append(next, expanded)
			}
		}
		combos = next
	}

	instances := make([]Instance, 0, len(combos))
	for _, combo := range combos {
		instances = append(instances, Instance{Job: job, Matrix: combo})
	}

	return instances
}

// SubstituteMatrix replaces {matrix.axis} tokens in a string with the
// instance's matrix values. Unknown tokens are left unchanged.
func SubstituteMatrix(s string, matrix map[string]string) string {
	if len(matrix) == 0 {
		return s
	}
	for axis, value := range matrix {
		s = strings.ReplaceAll(s, "{matrix."+axis+"}", value)
	}
	return s
}
