package plan

import (
	"testing"

	"github.com/conveyor-ci/conveyor/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// DetermineStartPath Tests
// =============================================================================

func TestDetermineStartPath_Pending(t *testing.T) {
	path := DetermineStartPath(domain.RunPending)

	assert.True(t, path.Valid)
	assert.Equal(t, []domain.RunStatus{domain.RunQueued, domain.RunRunning}, path.Transitions)
	assert.Empty(t, path.ErrorReason)
}

func TestDetermineStartPath_FailedRetry(t *testing.T) {
	path := DetermineStartPath(domain.RunFailed)

	assert.True(t, path.Valid)
	assert.Equal(t, []domain.RunStatus{domain.RunRunning}, path.Transitions)
}

func TestDetermineStartPath_CancelledRetry(t *testing.T) {
	path := DetermineStartPath(domain.RunCancelled)

	assert.True(t, path.Valid)
	assert.Equal(t, []domain.RunStatus{domain.RunRunning}, path.Transitions)
}

func TestDetermineStartPath_InvalidStates(t *testing.T) {
	tests := []struct {
		status domain.RunStatus
		reason string
	}{
		{domain.RunQueued, "run is already queued"},
		{domain.RunRunning, "run is already running"},
		{domain.RunSucceeded, "run has already succeeded"},
		{domain.RunStatus("bogus"), "cannot start run in current state"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			path := DetermineStartPath(tt.status)
			assert.False(t, path.Valid)
			assert.Empty(t, path.Transitions)
			assert.Equal(t, tt.reason, path.ErrorReason)
		})
	}
}

// =============================================================================
// CanCancelRun Tests
// =============================================================================

func TestCanCancelRun(t *testing.T) {
	allowed, _ := CanCancelRun(domain.RunRunning)
	assert.True(t, allowed)

	allowed, _ = CanCancelRun(domain.RunPending)
	assert.True(t, allowed)

	allowed, reason := CanCancelRun(domain.RunSucceeded)
	assert.False(t, allowed)
	assert.Equal(t, "run has already finished", reason)

	allowed, _ = CanCancelRun(domain.RunCancelled)
	assert.False(t, allowed)
}
