package validation

import (
	"regexp"
	"strings"
)

// =============================================================================
// Pipeline Validation Functions
// =============================================================================

// imageRefRegex accepts "repo[:tag]" and "registry[:port]/repo[:tag][@sha256:...]"
// style references, including host:port registries like "localhost:5000/app".
// It is deliberately looser than the full distribution grammar; the registry
// rejects anything it cannot resolve.
var imageRefRegex = regexp.MustCompile(`^([a-z0-9.\-]+(:[0-9]+)?/)?[a-z0-9]+([._\-/][a-z0-9]+)*(:[A-Za-z0-9._\-]+)?(@sha256:[a-f0-9]{64})?$`)

// branchRegex validates git branch names for trigger events.
var branchRegex = regexp.MustCompile(`^[A-Za-z0-9._\-/]+$`)

// ValidateCreatePipelineFields validates required fields for pipeline creation.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
//
// Example:
//
//	field, msg := ValidateCreatePipelineFields("Release", "1.0.0", "name: release")
//	if field != "" {
//	    // Handle validation error
//	}
func ValidateCreatePipelineFields(name, version, definition string) (field, message string) {
	if name == "" {
		return "name", "name is required"
	}
	if version == "" {
		return "version", "version is required"
	}
	if definition == "" {
		return "definition", "definition is required"
	}
	return "", ""
}

// CanUpdatePipeline checks if a pipeline can be updated based on its published
// status. Published pipelines cannot be modified.
// Returns whether the update is allowed and an optional reason if not.
//
// Example:
//
//	allowed, reason := CanUpdatePipeline(pipeline.Published)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanUpdatePipeline(published bool) (allowed bool, reason string) {
	if published {
		return false, "published pipelines cannot be modified"
	}
	return true, ""
}

// CanStartRun checks if a run can be started from a pipeline.
// Only published pipelines can be run.
// Returns whether run creation is allowed and an optional reason if not.
//
// Example:
//
//	allowed, reason := CanStartRun(pipeline.Published)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanStartRun(pipelinePublished bool) (allowed bool, reason string) {
	if !pipelinePublished {
		return false, "pipeline is not published"
	}
	return true, ""
}

// ValidateImageRef checks that an image reference looks resolvable.
// Returns an error message, or empty if the reference is acceptable.
func ValidateImageRef(ref string) string {
	if ref == "" {
		return "image reference is required"
	}
	if strings.ContainsAny(ref, " \t\n") {
		return "image reference must not contain whitespace"
	}
	if !imageRefRegex.MatchString(ref) {
		return "invalid image reference"
	}
	return ""
}

// ValidateBranchName checks a git branch name from a push event.
// Returns an error message, or empty if the name is acceptable.
func ValidateBranchName(branch string) string {
	if branch == "" {
		return "branch is required"
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") {
		return "branch must not start or end with a slash"
	}
	if strings.Contains(branch, "..") {
		return "branch must not contain '..'"
	}
	if !branchRegex.MatchString(branch) {
		return "invalid branch name"
	}
	return ""
}
