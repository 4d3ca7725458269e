// Package kube applies rendered Deployment manifests to a Kubernetes cluster.
package kube

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectionFailed is returned when no cluster configuration works.
	ErrConnectionFailed = errors.New("kubernetes connection failed")

	// ErrDeploymentNotFound is returned when a deployment does not exist.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrApplyFailed is returned when create and update both fail.
	ErrApplyFailed = errors.New("deployment apply failed")

	// ErrRolloutTimeout is returned when a rollout does not become available
	// within the wait window.
	ErrRolloutTimeout = errors.New("rollout timed out")
)

// KubeError wraps errors with additional context.
type KubeError struct {
	Op        string // Operation that failed (e.g., "ApplyDeployment")
	Namespace string
	Name      string
	Message   string
	Err       error
}

func (e *KubeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s/%s: %s", e.Op, e.Namespace, e.Name, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *KubeError) Unwrap() error {
	return e.Err
}

// NewKubeError creates a new KubeError.
func NewKubeError(op, namespace, name, message string, err error) *KubeError {
	return &KubeError{
		Op:        op,
		Namespace: namespace,
		Name:      name,
		Message:   message,
		Err:       err,
	}
}
