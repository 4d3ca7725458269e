// Package docker provides a Docker client for running workflow steps and
// building and pushing images.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a step container.
type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Entrypoint []string
	Env        map[string]string
	WorkingDir string
	Labels     map[string]string
	Volumes    []VolumeMount
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated ContainerStatus = "created"
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusExited  ContainerStatus = "exited"
	ContainerStatusDead    ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	ExitCode   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Labels     map[string]string
}

// =============================================================================
// Image Types
// =============================================================================

// BuildSpec defines the specification for building an image.
type BuildSpec struct {
	ContextDir string            // Build context directory
	Dockerfile string            // Relative to ContextDir, defaults to "Dockerfile"
	Tags       []string          // Image tags to apply
	Args       map[string]string // Build arguments
	Labels     map[string]string
	NoCache    bool
}

// RegistryAuth holds credentials for a registry push or pull.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.conveyor.run=xyz"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Timestamps bool
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
	Auth     *RegistryAuth
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface used by the engine.
type Client interface {
	// Container operations
	CreateContainer(spec ContainerSpec) (containerID string, err error)
	StartContainer(containerID string) error
	WaitContainer(ctx context.Context, containerID string) (exitCode int64, err error)
	StopContainer(containerID string, timeout *time.Duration) error
	RemoveContainer(containerID string, opts RemoveOptions) error
	ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error)
	ListContainers(opts ListOptions) ([]ContainerInfo, error)

	// Image operations
	PullImage(ctx context.Context, image string, opts PullOptions) error
	ImageExists(image string) (bool, error)
	BuildImage(ctx context.Context, spec BuildSpec) (output string, err error)
	TagImage(ctx context.Context, source, target string) error
	PushImage(ctx context.Context, image string, auth *RegistryAuth) (output string, err error)

	// Health operations
	Ping() error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.conveyor.managed"
	LabelRun     = "com.conveyor.run"
	LabelJob     = "com.conveyor.job"
	LabelStep    = "com.conveyor.step"
)
