package plan

import "github.com/conveyor-ci/conveyor/internal/core/domain"

// =============================================================================
// Run State Transition Planning
// =============================================================================

// StartPath represents the result of planning a run start operation.
// It contains the sequence of state transitions needed to start a run.
type StartPath struct {
	// Valid indicates whether the start operation can proceed.
	Valid bool

	// Transitions is the sequence of states to transition through.
	// Empty if Valid is false.
	Transitions []domain.RunStatus

	// ErrorReason contains the reason why the start is not allowed.
	// Empty if Valid is true.
	ErrorReason string
}

// DetermineStartPath determines the sequence of state transitions needed to
// start a run from its current status.
//
// This is a pure function that encapsulates the state machine logic for
// starting runs.
//
// Valid start paths:
//   - pending → queued → running
//   - failed → running (retry)
//   - cancelled → running (retry)
//
// Invalid states for starting:
//   - queued/running: already in progress
//   - succeeded: terminal
func DetermineStartPath(currentStatus domain.RunStatus) StartPath {
	switch currentStatus {
	case domain.RunPending:
		// First-time start: needs to go through queued
		return StartPath{
			Valid:       true,
			Transitions: []domain.RunStatus{domain.RunQueued, domain.RunRunning},
		}

	case domain.RunFailed, domain.RunCancelled:
		// Retry: direct to running
		return StartPath{
			Valid:       true,
			Transitions: []domain.RunStatus{domain.RunRunning},
		}

	case domain.RunQueued:
		return StartPath{
			Valid:       false,
			ErrorReason: "run is already queued",
		}

	case domain.RunRunning:
		return StartPath{
			Valid:       false,
			ErrorReason: "run is already running",
		}

	case domain.RunSucceeded:
		return StartPath{
			Valid:       false,
			ErrorReason: "run has already succeeded",
		}

	default:
		return StartPath{
			Valid:       false,
			ErrorReason: "cannot start run in current state",
		}
	}
}

// CanCancelRun checks if a run can be cancelled from its current status.
//
// Returns whether the cancel is allowed and an optional reason if not.
func CanCancelRun(currentStatus domain.RunStatus) (bool, string) {
	if currentStatus.Finished() {
		return false, "run has already finished"
	}
	return true, ""
}
