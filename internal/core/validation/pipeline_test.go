package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ValidateCreatePipelineFields Tests
// =============================================================================

func TestValidateCreatePipelineFields_Valid(t *testing.T) {
	field, msg := ValidateCreatePipelineFields("Release", "1.0.0", "name: release")
	assert.Empty(t, field)
	assert.Empty(t, msg)
}

func TestValidateCreatePipelineFields_Missing(t *testing.T) {
	tests := []struct {
		name, version, definition string
		wantField                 string
	}{
		{"", "1.0.0", "name: x", "name"},
		{"Release", "", "name: x", "version"},
		{"Release", "1.0.0", "", "definition"},
	}

	for _, tt := range tests {
		field, msg := ValidateCreatePipelineFields(tt.name, tt.version, tt.definition)
		assert.Equal(t, tt.wantField, field)
		assert.NotEmpty(t, msg)
	}
}

// =============================================================================
// Publish Gate Tests
// =============================================================================

func TestCanUpdatePipeline(t *testing.T) {
	allowed, reason := CanUpdatePipeline(false)
	assert.True(t, allowed)
	assert.Empty(t, reason)

	allowed, reason = CanUpdatePipeline(true)
	assert.False(t, allowed)
	assert.Equal(t, "published pipelines cannot be modified", reason)
}

func TestCanStartRun(t *testing.T) {
	allowed, _ := CanStartRun(true)
	assert.True(t, allowed)

	allowed, reason := CanStartRun(false)
	assert.False(t, allowed)
	assert.Equal(t, "pipeline is not published", reason)
}

// =============================================================================
// ValidateImageRef Tests
// =============================================================================

func TestValidateImageRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"golang:1.24", ""},
		{"registry.example.com/team/app:v1.2.3", ""},
		{"alpine", ""},
		{"app@sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", ""},
		{"localhost:5000/app:dev", ""},
		{"registry.example.com:443/team/app:v1", ""},
		{"", "image reference is required"},
		{"bad ref:tag", "image reference must not contain whitespace"},
		{"UPPER:tag", "invalid image reference"},
		{"app::", "invalid image reference"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateImageRef(tt.ref))
		})
	}
}

// =============================================================================
// ValidateBranchName Tests
// =============================================================================

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"master", ""},
		{"feature/retry-loop", ""},
		{"release-1.0", ""},
		{"", "branch is required"},
		{"/leading", "branch must not start or end with a slash"},
		{"trailing/", "branch must not start or end with a slash"},
		{"a..b", "branch must not contain '..'"},
		{"bad branch", "invalid branch name"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateBranchName(tt.branch), tt.branch)
	}
}
