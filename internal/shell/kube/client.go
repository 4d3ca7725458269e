package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// =============================================================================
// Client
// =============================================================================

// Client wraps a Kubernetes clientset for deploy steps.
type Client struct {
	clientset kubernetes.Interface
}

// NewClient creates a client from the in-cluster service account when running
// inside a pod, falling back to the given kubeconfig path (or ~/.kube/config
// when empty).
func NewClient(kubeconfigPath string) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfigPath == "" {
			home, homeErr := os.UserHomeDir()
			if homeErr != nil {
				return nil, NewKubeError("NewClient", "", "", "no in-cluster config and no kubeconfig path", ErrConnectionFailed)
			}
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}

		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, NewKubeError("NewClient", "", "", fmt.Sprintf("failed to load kubeconfig %s: %v", kubeconfigPath, err), ErrConnectionFailed)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, NewKubeError("NewClient", "", "", fmt.Sprintf("failed to create clientset: %v", err), ErrConnectionFailed)
	}

	return &Client{clientset: clientset}, nil
}

// NewWithClientset wraps an existing clientset. Tests use this with the fake
// clientset.
func NewWithClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// =============================================================================
// Deployment Operations
// =============================================================================

// ApplyDeployment creates the deployment, or updates it if it already exists.
func (c *Client) ApplyDeployment(ctx context.Context, deployment *appsv1.Deployment) (*appsv1.Deployment, error) {
	deployments := c.clientset.AppsV1().Deployments(deployment.Namespace)

	created, err := deployments.Create(ctx, deployment, metav1.CreateOptions{})
	if err == nil {
		return created, nil
	}
	if !kerrors.IsAlreadyExists(err) {
		return nil, NewKubeError("ApplyDeployment", deployment.Namespace, deployment.Name, err.Error(), ErrApplyFailed)
	}

	updated, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{})
	if err != nil {
		return nil, NewKubeError("ApplyDeployment", deployment.Namespace, deployment.Name, err.Error(), ErrApplyFailed)
	}

	return updated, nil
}

// GetDeployment fetches a deployment by namespace and name.
func (c *Client) GetDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error) {
	deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			return nil, NewKubeError("GetDeployment", namespace, name, "deployment not found", ErrDeploymentNotFound)
		}
		return nil, NewKubeError("GetDeployment", namespace, name, err.Error(), err)
	}
	return deployment, nil
}

// DeleteDeployment removes a deployment.
func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) error {
	err := c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil {
		if kerrors.IsNotFound(err) {
			return NewKubeError("DeleteDeployment", namespace, name, "deployment not found", ErrDeploymentNotFound)
		}
		return NewKubeError("DeleteDeployment", namespace, name, err.Error(), err)
	}
	return nil
}

// ListDeployments lists deployments in a namespace, optionally filtered by a
// label selector such as "app=gateway".
func (c *Client) ListDeployments(ctx context.Context, namespace, labelSelector string) ([]appsv1.Deployment, error) {
	list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, NewKubeError("ListDeployments", namespace, "", err.Error(), err)
	}
	return list.Items, nil
}

// =============================================================================
// Rollout
// =============================================================================

// WaitForRollout polls until the deployment's observed generation is current
// and all replicas are updated and available, or the timeout elapses.
func (c *Client) WaitForRollout(ctx context.Context, namespace, name string, interval, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if kerrors.IsNotFound(err) {
				// Deployment may not be visible yet right after apply
				return false, nil
			}
			return false, err
		}

		return rolloutComplete(deployment), nil
	})
	if err != nil {
		if wait.Interrupted(err) {
			return NewKubeError("WaitForRollout", namespace, name, "rollout did not complete in time", ErrRolloutTimeout)
		}
		return NewKubeError("WaitForRollout", namespace, name, err.Error(), err)
	}
	return nil
}

// rolloutComplete reports whether the deployment has converged on its spec.
func rolloutComplete(deployment *appsv1.Deployment) bool {
	if deployment.Status.ObservedGeneration < deployment.Generation {
		return false
	}

	var desired int32 = 1
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}

	return deployment.Status.UpdatedReplicas >= desired &&
		deployment.Status.AvailableReplicas >= desired
}
