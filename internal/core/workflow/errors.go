// Package workflow contains pure functions for parsing pipeline workflow
// definitions. This is part of the Functional Core - all functions are pure
// with no I/O.
package workflow

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("workflow definition is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Workflow structure errors
	ErrNoJobs   = errors.New("workflow must define at least one job")
	ErrNoSteps  = errors.New("job must define at least one step")
	ErrNoName   = errors.New("workflow must have a name")

	// Job validation errors
	ErrUnknownNeed        = errors.New("job depends on an undefined job")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrEmptyMatrixAxis    = errors.New("matrix axis must have at least one value")
	ErrInvalidCondition   = errors.New("unsupported job condition")

	// Step validation errors
	ErrStepNoAction    = errors.New("step must define exactly one action")
	ErrInvalidRetry    = errors.New("invalid retry configuration")
	ErrInvalidTimeout  = errors.New("invalid timeout")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "jobs.test.steps[2]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
