// Package engine executes pipeline runs: it expands the workflow into job
// instances, schedules them according to their needs edges, and dispatches
// steps to Docker and Kubernetes.
package engine

import "errors"

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrRunNotStartable is returned when the run's current status does not
	// allow starting.
	ErrRunNotStartable = errors.New("run cannot be started")

	// ErrRunNotCancellable is returned when the run has already finished.
	ErrRunNotCancellable = errors.New("run cannot be cancelled")

	// ErrInvalidDefinition is returned when the stored pipeline definition
	// fails to parse.
	ErrInvalidDefinition = errors.New("invalid pipeline definition")

	// ErrEngineStopped is returned when a run is submitted after Stop.
	ErrEngineStopped = errors.New("engine is stopped")
)
