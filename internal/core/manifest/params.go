package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// Deployment Parameters
// =============================================================================

// dns1123Regex validates Kubernetes object names (DNS-1123 labels).
var dns1123Regex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Valid image pull policies. Empty string renders as IfNotPresent.
var validPullPolicies = map[string]bool{
	"":             true,
	"Always":       true,
	"IfNotPresent": true,
	"Never":        true,
}

// Params holds the values substituted into a Deployment template. Each field
// maps to one placeholder token in the stock template.
type Params struct {
	// Name is the Deployment name and the value of the "app" label.
	// Must be a valid DNS-1123 label.
	Name string

	// Namespace is the target namespace. Must be a valid DNS-1123 label.
	Namespace string

	// Replicas is the desired pod count. Must be >= 0.
	Replicas int32

	// Image is the container image reference, e.g. "registry/app:1.2.3".
	Image string

	// PullPolicy is the image pull policy: Always, IfNotPresent or Never.
	// Empty defaults to IfNotPresent.
	PullPolicy string

	// Command overrides the container entrypoint. Nil keeps the image default.
	Command []string

	// Args are the container arguments. Nil keeps the image default.
	Args []string

	// PortExpose is the public-facing port. 0 omits the port.
	PortExpose int32

	// PortIn is the inbound data port. 0 omits the port.
	PortIn int32

	// PortOut is the outbound data port. 0 omits the port.
	PortOut int32

	// PortCtrl is the control-plane port. 0 omits the port.
	PortCtrl int32

	// Env holds extra container environment variables.
	Env map[string]string
}

// Validate checks that the parameters can produce a valid Deployment.
//
// Rules:
//   - Name and Namespace are required DNS-1123 labels (max 63 chars)
//   - Image is required
//   - Replicas >= 0
//   - Each port is 0 (omitted) or in [1, 65535]
//   - Non-zero ports must be distinct
//   - PullPolicy must be one of Always, IfNotPresent, Never or empty
func (p Params) Validate() error {
	if err := validateDNSLabel("name", p.Name); err != nil {
		return err
	}
	if err := validateDNSLabel("namespace", p.Namespace); err != nil {
		return err
	}
	if strings.TrimSpace(p.Image) == "" {
		return fmt.Errorf("image is required")
	}
	if p.Replicas < 0 {
		return fmt.Errorf("replicas must be >= 0, got %d", p.Replicas)
	}
	if !validPullPolicies[p.PullPolicy] {
		return fmt.Errorf("invalid pull policy %q (want Always, IfNotPresent or Never)", p.PullPolicy)
	}

	ports := map[string]int32{
		"port_expose": p.PortExpose,
		"port_in":     p.PortIn,
		"port_out":    p.PortOut,
		"port_ctrl":   p.PortCtrl,
	}
	seen := make(map[int32]string)
	for _, role := range []string{"port_expose", "port_in", "port_out", "port_ctrl"} {
		port := ports[role]
		if port == 0 {
			continue
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be in [1, 65535], got %d", role, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s both use port %d", other, role, port)
		}
		seen[port] = role
	}

	return nil
}

func validateDNSLabel(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > 63 {
		return fmt.Errorf("%s must be at most 63 characters, got %d", field, len(value))
	}
	if !dns1123Regex.MatchString(value) {
		return fmt.Errorf("%s %q must be a lowercase DNS-1123 label", field, value)
	}
	return nil
}

// TokenValues converts the parameters to the substitution map consumed by
// Substitute. Command and Args render as JSON arrays so they drop into YAML
// flow-sequence position.
func (p Params) TokenValues() map[string]string {
	values := map[string]string{
		"name":        p.Name,
		"namespace":   p.Namespace,
		"replicas":    strconv.Itoa(int(p.Replicas)),
		"image":       p.Image,
		"pull_policy": p.effectivePullPolicy(),
		"command":     jsonArray(p.Command),
		"args":        jsonArray(p.Args),
		"port_expose": strconv.Itoa(int(p.PortExpose)),
		"port_in":     strconv.Itoa(int(p.PortIn)),
		"port_out":    strconv.Itoa(int(p.PortOut)),
		"port_ctrl":   strconv.Itoa(int(p.PortCtrl)),
	}
	return values
}

// effectivePullPolicy returns the pull policy with the default applied. Both
// render paths use it so the YAML and typed outputs agree.
func (p Params) effectivePullPolicy() string {
	if p.PullPolicy == "" {
		return "IfNotPresent"
	}
	return p.PullPolicy
}

// sortedEnv returns the Env map as sorted key/value pairs for deterministic
// output.
func (p Params) sortedEnv() [][2]string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, p.Env[k]})
	}
	return pairs
}

func jsonArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	out, _ := json.Marshal(items)
	return string(out)
}
