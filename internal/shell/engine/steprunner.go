package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/manifest"
	"github.com/conveyor-ci/conveyor/internal/core/plan"
	"github.com/conveyor-ci/conveyor/internal/core/validation"
	"github.com/conveyor-ci/conveyor/internal/core/workflow"
	"github.com/conveyor-ci/conveyor/internal/shell/docker"
	"github.com/conveyor-ci/conveyor/internal/shell/kube"
	"github.com/google/uuid"
)

// =============================================================================
// Step Runner Interface
// =============================================================================

// StepContext carries the identity and environment of the job instance a
// step belongs to.
type StepContext struct {
	RunID          string
	JobExecutionID string
	JobName        string
	StepName       string
	Image          string            // job container image
	Matrix         map[string]string // nil for non-matrix jobs
	Env            map[string]string // merged workflow, job and step env
}

// StepRunner dispatches step actions to the outside world. The engine only
// talks to this interface, so tests can substitute a fake.
type StepRunner interface {
	RunCommand(ctx context.Context, sc StepContext, command string) (output string, err error)
	Build(ctx context.Context, sc StepContext, step *workflow.BuildStep) (output string, err error)
	Push(ctx context.Context, sc StepContext, step *workflow.PushStep) (output string, err error)
	Deploy(ctx context.Context, sc StepContext, step *workflow.DeployStep) (output string, err error)
}

// =============================================================================
// Docker Step Runner
// =============================================================================

// DockerStepRunnerConfig configures the production step runner.
type DockerStepRunnerConfig struct {
	// WorkspaceDir is the host directory mounted into run-step containers
	// and used as the root for build contexts.
	WorkspaceDir string

	// DefaultImage is the container image for run steps of jobs that do not
	// declare one. Default: "alpine:3".
	DefaultImage string

	// RegistryAuth is used for image pushes. Nil pushes anonymously.
	RegistryAuth *docker.RegistryAuth

	// RolloutInterval is the poll interval for deploy steps that wait.
	// Default: 2 seconds.
	RolloutInterval time.Duration

	// RolloutTimeout bounds deploy-step rollout waits. Default: 5 minutes.
	RolloutTimeout time.Duration
}

// DockerStepRunner executes steps against a Docker daemon and a Kubernetes
// cluster.
type DockerStepRunner struct {
	docker docker.Client
	kube   *kube.Client
	config DockerStepRunnerConfig
}

// NewDockerStepRunner creates the production step runner.
func NewDockerStepRunner(dockerClient docker.Client, kubeClient *kube.Client, config DockerStepRunnerConfig) *DockerStepRunner {
	if config.DefaultImage == "" {
		config.DefaultImage = "alpine:3"
	}
	if config.RolloutInterval == 0 {
		config.RolloutInterval = 2 * time.Second
	}
	if config.RolloutTimeout == 0 {
		config.RolloutTimeout = 5 * time.Minute
	}

	return &DockerStepRunner{
		docker: dockerClient,
		kube:   kubeClient,
		config: config,
	}
}

// RunCommand executes a shell command in a fresh container and returns its
// combined output. A non-zero exit code is an error.
func (r *DockerStepRunner) RunCommand(ctx context.Context, sc StepContext, command string) (string, error) {
	image := sc.Image
	if image == "" {
		image = r.config.DefaultImage
	}

	exists, err := r.docker.ImageExists(image)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := r.docker.PullImage(ctx, image, docker.PullOptions{}); err != nil {
			return "", err
		}
	}

	spec := docker.ContainerSpec{
		Name:       fmt.Sprintf("conveyor-%s-%s", sc.JobName, uuid.New().String()[:8]),
		Image:      image,
		Entrypoint: []string{"/bin/sh", "-c"},
		Command:    []string{command},
		Env:        sc.Env,
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelRun:     sc.RunID,
			docker.LabelJob:     sc.JobExecutionID,
			docker.LabelStep:    sc.StepName,
		},
	}

	if r.config.WorkspaceDir != "" {
		spec.WorkingDir = "/workspace"
		spec.Volumes = []docker.VolumeMount{
			{Source: r.config.WorkspaceDir, Target: "/workspace"},
		}
	}

	containerID, err := r.docker.CreateContainer(spec)
	if err != nil {
		return "", err
	}
	defer r.docker.RemoveContainer(containerID, docker.RemoveOptions{Force: true})

	if err := r.docker.StartContainer(containerID); err != nil {
		return "", err
	}

	exitCode, waitErr := r.docker.WaitContainer(ctx, containerID)

	if waitErr != nil && ctx.Err() != nil {
		// Cancelled mid-step. Give the process a termination window; the
		// deferred forced remove is the backstop.
		stopTimeout := 5 * time.Second
		if err := r.docker.StopContainer(containerID, &stopTimeout); err != nil {
			return "", waitErr
		}
	}

	output := r.collectLogs(containerID)

	if waitErr != nil {
		return output, waitErr
	}
	if exitCode != 0 {
		return output, fmt.Errorf("command exited with code %d", exitCode)
	}

	return output, nil
}

// collectLogs reads the full log output of a stopped container. Log errors
// are not fatal for the step.
func (r *DockerStepRunner) collectLogs(containerID string) string {
	reader, err := r.docker.ContainerLogs(containerID, docker.LogOptions{Tail: "all"})
	if err != nil {
		return ""
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return ""
	}
	return string(data)
}

// Build builds an image from the step's build context.
func (r *DockerStepRunner) Build(ctx context.Context, sc StepContext, step *workflow.BuildStep) (string, error) {
	contextDir := step.Context
	if contextDir == "" {
		contextDir = "."
	}
	if !filepath.IsAbs(contextDir) {
		contextDir = filepath.Join(r.config.WorkspaceDir, contextDir)
	}

	tags := make([]string, len(step.Tags))
	for i, tag := range step.Tags {
		tags[i] = plan.SubstituteMatrix(tag, sc.Matrix)
	}

	return r.docker.BuildImage(ctx, docker.BuildSpec{
		ContextDir: contextDir,
		Dockerfile: step.Dockerfile,
		Tags:       tags,
		Args:       sc.Env,
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelRun:     sc.RunID,
		},
	})
}

// Push pushes the step's tags to their registries, retagging from the source
// image first when one is set.
func (r *DockerStepRunner) Push(ctx context.Context, sc StepContext, step *workflow.PushStep) (string, error) {
	source := plan.SubstituteMatrix(step.Source, sc.Matrix)

	var out strings.Builder
	for _, tag := range step.Tags {
		tag = plan.SubstituteMatrix(tag, sc.Matrix)
		if source != "" {
			if err := r.docker.TagImage(ctx, source, tag); err != nil {
				return out.String(), err
			}
		}
		output, err := r.docker.PushImage(ctx, tag, r.config.RegistryAuth)
		out.WriteString(output)
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// Deploy renders a Deployment from the step parameters and applies it.
func (r *DockerStepRunner) Deploy(ctx context.Context, sc StepContext, step *workflow.DeployStep) (string, error) {
	if r.kube == nil {
		return "", fmt.Errorf("kubernetes is not configured")
	}

	namespace := step.Namespace
	if namespace == "" {
		namespace = "default"
	}
	replicas := step.Replicas
	if replicas == 0 {
		replicas = 1
	}

	image := plan.SubstituteMatrix(step.Image, sc.Matrix)
	if msg := validation.ValidateImageRef(image); msg != "" {
		return "", fmt.Errorf("deploy image: %s", msg)
	}

	env := make(map[string]string, len(step.Env))
	for k, v := range step.Env {
		env[k] = plan.SubstituteMatrix(v, sc.Matrix)
	}

	deployment, err := manifest.RenderDeployment(manifest.Params{
		Name:       step.Name,
		Namespace:  namespace,
		Replicas:   replicas,
		Image:      image,
		PullPolicy: step.PullPolicy,
		Command:    step.Command,
		Args:       step.Args,
		PortExpose: step.PortExpose,
		PortIn:     step.PortIn,
		PortOut:    step.PortOut,
		PortCtrl:   step.PortCtrl,
		Env:        env,
	})
	if err != nil {
		return "", err
	}

	applied, err := r.kube.ApplyDeployment(ctx, deployment)
	if err != nil {
		return "", err
	}

	if step.Wait {
		if err := r.kube.WaitForRollout(ctx, namespace, step.Name, r.config.RolloutInterval, r.config.RolloutTimeout); err != nil {
			return fmt.Sprintf("applied deployment %s/%s", namespace, applied.Name), err
		}
	}

	return fmt.Sprintf("applied deployment %s/%s", namespace, applied.Name), nil
}
