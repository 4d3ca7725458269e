package workflow

// =============================================================================
// Workflow Types
// =============================================================================

// Workflow is a parsed pipeline definition: a set of named jobs connected by
// `needs` edges, plus the trigger that decides when the pipeline runs.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Trigger           `yaml:"on,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	Jobs map[string]Job    `yaml:"jobs"`
}

// Trigger describes the events that start a workflow.
type Trigger struct {
	Push *PushTrigger `yaml:"push,omitempty"`
}

// PushTrigger filters push events by branch and by head-commit message.
//
// Skip markers always win: a message matching any skip prefix/suffix
// suppresses the run even if it also matches an only-prefix.
type PushTrigger struct {
	Branches     []string `yaml:"branches,omitempty"`
	SkipPrefixes []string `yaml:"skip-prefixes,omitempty"`
	SkipSuffixes []string `yaml:"skip-suffixes,omitempty"`
	OnlyPrefixes []string `yaml:"only-prefixes,omitempty"`
}

// Job is a named unit of work. Jobs with satisfied `needs` run concurrently.
type Job struct {
	// Name is filled from the map key during parsing.
	Name string `yaml:"-"`

	Needs    []string          `yaml:"needs,omitempty"`
	If       string            `yaml:"if,omitempty"`
	Image    string            `yaml:"image,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Strategy *Strategy         `yaml:"strategy,omitempty"`
	Steps    []Step            `yaml:"steps"`
}

// Strategy controls matrix expansion and failure behavior of a job.
type Strategy struct {
	// FailFast cancels remaining matrix instances when one fails.
	// Defaults to true when unset.
	FailFast *bool `yaml:"fail-fast,omitempty"`

	// MaxParallel bounds concurrent matrix instances. 0 means unbounded.
	MaxParallel int `yaml:"max-parallel,omitempty"`

	// Matrix maps axis name to its values. The job expands to the cartesian
	// product of all axes.
	Matrix map[string][]string `yaml:"matrix,omitempty"`
}

// FailFastEnabled reports the effective fail-fast setting.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// =============================================================================
// Steps
// =============================================================================

// StepKind identifies the action a step performs.
type StepKind string

const (
	StepKindRun    StepKind = "run"
	StepKindBuild  StepKind = "build"
	StepKindPush   StepKind = "push"
	StepKindDeploy StepKind = "deploy"
)

// Step is a single action inside a job. Exactly one of Run, Build, Push or
// Deploy must be set.
type Step struct {
	Name string            `yaml:"name,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`

	// Run executes a shell command in the job container.
	Run string `yaml:"run,omitempty"`

	// Build builds a Docker image.
	Build *BuildStep `yaml:"build,omitempty"`

	// Push pushes a Docker image to a registry.
	Push *PushStep `yaml:"push,omitempty"`

	// Deploy renders a Deployment manifest and applies it to the cluster.
	Deploy *DeployStep `yaml:"deploy,omitempty"`

	// MaxRuns is the attempt budget for the step. Defaults to 1.
	MaxRuns int `yaml:"max-runs,omitempty"`

	// MinPasses is the number of passing attempts required for the step to
	// succeed. Defaults to 1.
	MinPasses int `yaml:"min-passes,omitempty"`

	// ContinueOnError records a failure without failing the job.
	ContinueOnError bool `yaml:"continue-on-error,omitempty"`

	// TimeoutSeconds bounds a single attempt. 0 means no timeout.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty"`
}

// Kind returns the step kind based on which action field is set.
// Returns "" when no action (or more than one) is set.
func (s Step) Kind() StepKind {
	var kind StepKind
	count := 0
	if s.Run != "" {
		kind = StepKindRun
		count++
	}
	if s.Build != nil {
		kind = StepKindBuild
		count++
	}
	if s.Push != nil {
		kind = StepKindPush
		count++
	}
	if s.Deploy != nil {
		kind = StepKindDeploy
		count++
	}
	if count != 1 {
		return ""
	}
	return kind
}

// EffectiveMaxRuns returns the attempt budget with the default applied.
func (s Step) EffectiveMaxRuns() int {
	if s.MaxRuns <= 0 {
		return 1
	}
	return s.MaxRuns
}

// EffectiveMinPasses returns the pass requirement with the default applied.
func (s Step) EffectiveMinPasses() int {
	if s.MinPasses <= 0 {
		return 1
	}
	return s.MinPasses
}

// BuildStep builds a Docker image from a build context.
type BuildStep struct {
	Context    string            `yaml:"context,omitempty"`
	Dockerfile string            `yaml:"dockerfile,omitempty"`
	Tags       []string          `yaml:"tags"`
	Args       map[string]string `yaml:"args,omitempty"`
}

// PushStep pushes image tags to a registry. When Source is set, each tag is
// created from the source image before it is pushed.
type PushStep struct {
	Source string   `yaml:"source,omitempty"`
	Tags   []string `yaml:"tags"`
}

// DeployStep renders a Kubernetes Deployment from the manifest template and
// applies it. Field names mirror the template placeholder tokens.
type DeployStep struct {
	Name       string            `yaml:"name"`
	Namespace  string            `yaml:"namespace,omitempty"`
	Replicas   int32             `yaml:"replicas,omitempty"`
	Image      string            `yaml:"image"`
	PullPolicy string            `yaml:"pull-policy,omitempty"`
	Command    []string          `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	PortExpose int32             `yaml:"port-expose,omitempty"`
	PortIn     int32             `yaml:"port-in,omitempty"`
	PortOut    int32             `yaml:"port-out,omitempty"`
	PortCtrl   int32             `yaml:"port-ctrl,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`

	// Wait blocks the step until the rollout completes.
	Wait bool `yaml:"wait,omitempty"`
}
