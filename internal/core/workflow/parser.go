package workflow

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses workflow YAML into a Workflow.
// This is a pure function - no I/O, no side effects.
// Input: raw YAML string
// Output: Workflow struct or error
func Parse(yamlContent string) (*Workflow, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	// Strict decoding so a misspelled key fails instead of being ignored
	dec := yaml.NewDecoder(strings.NewReader(yamlContent))
	dec.KnownFields(true)

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, NewParseError("", fmt.Sprintf("invalid YAML: %v", err), ErrInvalidYAML)
	}

	if wf.Name == "" {
		return nil, NewParseError("name", "workflow must have a name", ErrNoName)
	}

	if len(wf.Jobs) == 0 {
		return nil, NewParseError("jobs", "workflow must define at least one job", ErrNoJobs)
	}

	// Fill job names from map keys
	for name, job := range wf.Jobs {
		job.Name = name
		wf.Jobs[name] = job
	}

	if err := validateJobs(wf.Jobs); err != nil {
		return nil, err
	}

	if err := detectCircularDependencies(wf.Jobs); err != nil {
		return nil, err
	}

	return &wf, nil
}

// validateJobs checks per-job structure: needs targets, matrix axes and steps.
func validateJobs(jobs map[string]Job) error {
	for name, job := range jobs {
		for _, need := range job.Needs {
			if _, ok := jobs[need]; !ok {
				return NewParseError(
					"jobs."+name+".needs",
					fmt.Sprintf("job depends on undefined job %q", need),
					ErrUnknownNeed,
				)
			}
			if need == name {
				return NewParseError(
					"jobs."+name+".needs",
					"job cannot depend on itself",
					ErrCircularDependency,
				)
			}
		}

		if err := ValidateCondition(job.If); err != nil {
			return NewParseError(
				"jobs."+name+".if",
				fmt.Sprintf("unsupported condition %q", job.If),
				ErrInvalidCondition,
			)
		}

		if job.Strategy != nil {
			for axis, values := range job.Strategy.Matrix {
				if len(values) == 0 {
					return NewParseError(
						"jobs."+name+".strategy.matrix."+axis,
						"matrix axis must have at least one value",
						ErrEmptyMatrixAxis,
					)
				}
			}
		}

		if len(job.Steps) == 0 {
			return NewParseError(
				"jobs."+name+".steps",
				"job must define at least one step",
				ErrNoSteps,
			)
		}

		for i, step := range job.Steps {
			field := fmt.Sprintf("jobs.%s.steps[%d]", name, i)
			if step.Kind() == "" {
				return NewParseError(field, "step must define exactly one of run, build, push, deploy", ErrStepNoAction)
			}
			if step.MaxRuns < 0 || step.MinPasses < 0 {
				return NewParseError(field, "retry counters cannot be negative", ErrInvalidRetry)
			}
			if step.EffectiveMinPasses() > step.EffectiveMaxRuns() {
				return NewParseError(field, "min-passes cannot exceed max-runs", ErrInvalidRetry)
			}
			if step.TimeoutSeconds < 0 {
				return NewParseError(field, "timeout cannot be negative", ErrInvalidTimeout)
			}
		}
	}

	return nil
}

// detectCircularDependencies detects cycles in the job `needs` graph.
func detectCircularDependencies(jobs map[string]Job) error {
	// Build adjacency list
	deps := make(map[string][]string)
	for name, job := range jobs {
		deps[name] = job.Needs
	}

	// Track visited and recursion stack for DFS
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	// Iterate in sorted order so the error is deterministic
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !visited[name] {
			if hasCycle(name) {
				return NewParseError("jobs."+name, "circular dependency detected", ErrCircularDependency)
			}
		}
	}

	return nil
}

// JobNames returns all job names in sorted order.
func (w *Workflow) JobNames() []string {
	names := make([]string, 0, len(w.Jobs))
	for name := range w.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
