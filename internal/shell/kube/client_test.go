package kube

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/internal/core/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testDeployment(t *testing.T, name string) *appsv1.Deployment {
	t.Helper()

	deployment, err := manifest.RenderDeployment(manifest.Params{
		Name:       name,
		Namespace:  "default",
		Replicas:   2,
		Image:      "registry.example.com/" + name + ":1.0.0",
		PullPolicy: "IfNotPresent",
		PortExpose: 8080,
	})
	require.NoError(t, err)
	return deployment
}

// =============================================================================
// ApplyDeployment Tests
// =============================================================================

func TestApplyDeployment_Creates(t *testing.T) {
	c := NewWithClientset(fake.NewClientset())
	ctx := context.Background()

	applied, err := c.ApplyDeployment(ctx, testDeployment(t, "gateway"))
	require.NoError(t, err)
	assert.Equal(t, "gateway", applied.Name)

	got, err := c.GetDeployment(ctx, "default", "gateway")
	require.NoError(t, err)
	assert.Equal(t, int32(2), *got.Spec.Replicas)
}

func TestApplyDeployment_UpdatesExisting(t *testing.T) {
	c := NewWithClientset(fake.NewClientset())
	ctx := context.Background()

	_, err := c.ApplyDeployment(ctx, testDeployment(t, "gateway"))
	require.NoError(t, err)

	updated := testDeployment(t, "gateway")
	updated.Spec.Template.Spec.Containers[0].Image = "registry.example.com/gateway:2.0.0"
	_, err = c.ApplyDeployment(ctx, updated)
	require.NoError(t, err)

	got, err := c.GetDeployment(ctx, "default", "gateway")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/gateway:2.0.0", got.Spec.Template.Spec.Containers[0].Image)
}

// =============================================================================
// Get / Delete / List Tests
// =============================================================================

func TestGetDeployment_NotFound(t *testing.T) {
	c := NewWithClientset(fake.NewClientset())

	_, err := c.GetDeployment(context.Background(), "default", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeploymentNotFound))
}

func TestDeleteDeployment(t *testing.T) {
	c := NewWithClientset(fake.NewClientset())
	ctx := context.Background()

	_, err := c.ApplyDeployment(ctx, testDeployment(t, "gateway"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteDeployment(ctx, "default", "gateway"))

	err = c.DeleteDeployment(ctx, "default", "gateway")
	assert.True(t, errors.Is(err, ErrDeploymentNotFound))
}

func TestListDeployments_LabelSelector(t *testing.T) {
	c := NewWithClientset(fake.NewClientset())
	ctx := context.Background()

	_, err := c.ApplyDeployment(ctx, testDeployment(t, "gateway"))
	require.NoError(t, err)
	_, err = c.ApplyDeployment(ctx, testDeployment(t, "worker"))
	require.NoError(t, err)

	all, err := c.ListDeployments(ctx, "default", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	matched, err := c.ListDeployments(ctx, "default", "app=gateway")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "gateway", matched[0].Name)
}

// =============================================================================
// Rollout Tests
// =============================================================================

func TestWaitForRollout_Complete(t *testing.T) {
	clientset := fake.NewClientset()
	c := NewWithClientset(clientset)
	ctx := context.Background()

	deployment := testDeployment(t, "gateway")
	deployment.Status = appsv1.DeploymentStatus{
		ObservedGeneration: deployment.Generation,
		UpdatedReplicas:    2,
		AvailableReplicas:  2,
	}
	_, err := clientset.AppsV1().Deployments("default").Create(ctx, deployment, metav1.CreateOptions{})
	require.NoError(t, err)

	err = c.WaitForRollout(ctx, "default", "gateway", 10*time.Millisecond, time.Second)
	assert.NoError(t, err)
}

func TestWaitForRollout_Timeout(t *testing.T) {
	clientset := fake.NewClientset()
	c := NewWithClientset(clientset)
	ctx := context.Background()

	deployment := testDeployment(t, "gateway")
	deployment.Status = appsv1.DeploymentStatus{
		ObservedGeneration: deployment.Generation,
		UpdatedReplicas:    1,
		AvailableReplicas:  0,
	}
	_, err := clientset.AppsV1().Deployments("default").Create(ctx, deployment, metav1.CreateOptions{})
	require.NoError(t, err)

	err = c.WaitForRollout(ctx, "default", "gateway", 10*time.Millisecond, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRolloutTimeout))
}

func TestRolloutComplete_StaleGeneration(t *testing.T) {
	deployment := testDeployment(t, "gateway")
	deployment.Generation = 2
	deployment.Status = appsv1.DeploymentStatus{
		ObservedGeneration: 1,
		UpdatedReplicas:    2,
		AvailableReplicas:  2,
	}
	assert.False(t, rolloutComplete(deployment))
}
