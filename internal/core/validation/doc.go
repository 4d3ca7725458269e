// Package validation provides pure validation functions for API handlers.
//
// This package contains the functional core logic for validating API requests
// and checking business rules. All functions are pure (no I/O, no side effects)
// and comply with ADR-002 "Values as Boundaries".
//
// # Functions
//
//   - ValidateCreatePipelineFields: Validate required fields for pipeline creation
//   - CanUpdatePipeline: Check if a pipeline can be updated
//   - CanStartRun: Check if a run can be started from a pipeline
//   - ValidateImageRef: Check a container image reference
//
// # Usage
//
// The API handlers use these functions to validate requests before processing:
//
//	if field, msg := validation.ValidateCreatePipelineFields(name, version, def); field != "" {
//	    // Return 400 Bad Request with msg
//	}
package validation
