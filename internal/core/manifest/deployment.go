package manifest

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// =============================================================================
// Stock Deployment Template
// =============================================================================

// DeploymentTemplate is the stock Deployment manifest with {token}
// placeholders. RenderYAML substitutes Params into it; RenderDeployment
// builds the equivalent typed object directly.
const DeploymentTemplate = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {name}
  namespace: {namespace}
spec:
  replicas: {replicas}
  selector:
    matchLabels:
      app: {name}
  template:
    metadata:
      labels:
        app: {name}
    spec:
      containers:
      - name: {name}
        image: {image}
        imagePullPolicy: {pull_policy}
        command: {command}
        args: {args}
        ports:
        - containerPort: {port_expose}
        - containerPort: {port_in}
        - containerPort: {port_out}
        - containerPort: {port_ctrl}
        env:
        - name: LOG_LEVEL
          value: "INFO"
        - name: PYTHONUNBUFFERED
          value: "1"
`

// portRole names the container ports in template order.
type portRole struct {
	name string
	port int32
}

// RenderYAML substitutes Params into a Deployment template. It validates the
// parameters first and fails if the template still contains unresolved tokens
// after substitution.
//
// Pass DeploymentTemplate for the stock manifest, or a custom template using
// the same token names.
func RenderYAML(template string, params Params) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	values := params.TokenValues()
	rendered := Substitute(template, values)

	if missing := UnresolvedTokens(rendered, values); len(missing) > 0 {
		return "", fmt.Errorf("template has unresolved tokens: %v", missing)
	}

	return rendered, nil
}

// RenderDeployment builds a typed Deployment from the parameters.
//
// The object mirrors the stock template: "app" label selector, a single
// container carrying the four named ports (omitting zero-valued ones), and
// the caller's environment merged over the defaults.
func RenderDeployment(params Params) (*appsv1.Deployment, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	labels := map[string]string{"app": params.Name}
	replicas := params.Replicas

	container := corev1.Container{
		Name:            params.Name,
		Image:           params.Image,
		ImagePullPolicy: corev1.PullPolicy(params.effectivePullPolicy()),
		Command:         params.Command,
		Args:            params.Args,
		Ports:           containerPorts(params),
		Env:             containerEnv(params),
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name,
			Namespace: params.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}, nil
}

func containerPorts(params Params) []corev1.ContainerPort {
	roles := []portRole{
		{"expose", params.PortExpose},
		{"in", params.PortIn},
		{"out", params.PortOut},
		{"ctrl", params.PortCtrl},
	}

	var ports []corev1.ContainerPort
	for _, r := range roles {
		if r.port == 0 {
			continue
		}
		ports = append(ports, corev1.ContainerPort{
			Name:          r.name,
			ContainerPort: r.port,
			Protocol:      corev1.ProtocolTCP,
		})
	}
	return ports
}

// containerEnv merges Params.Env over the template defaults. Caller values
// win; output order is defaults first, then remaining keys sorted.
func containerEnv(params Params) []corev1.EnvVar {
	defaults := []corev1.EnvVar{
		{Name: "LOG_LEVEL", Value: "INFO"},
		{Name: "PYTHONUNBUFFERED", Value: "1"},
	}

	overridden := make(map[string]bool)
	var env []corev1.EnvVar
	for _, d := range defaults {
		if val, ok := params.Env[d.Name]; ok {
			env = append(env, corev1.EnvVar{Name: d.Name, Value: val})
			overridden[d.Name] = true
		} else {
			env = append(env, d)
		}
	}

	for _, pair := range params.sortedEnv() {
		if overridden[pair[0]] {
			continue
		}
		env = append(env, corev1.EnvVar{Name: pair[0], Value: pair[1]})
	}
	return env
}
