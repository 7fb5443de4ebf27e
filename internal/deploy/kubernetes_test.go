package deploy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestKubernetesTarget_Deploy(t *testing.T) {
	cs := fake.NewSimpleClientset()
	target := NewKubernetesTargetFromInterface(cs, KubernetesConfig{
		Namespace:  "forge-test",
		BaseDomain: "apps.example.com",
	}, zerolog.Nop())

	res, err := target.Deploy(context.Background(), Request{
		Name:      "My Todo App",
		Workspace: "/tmp/w",
		Image:     "ghcr.io/acme/runtime:latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://my-todo-app.apps.example.com", res.URL)
	assert.Equal(t, "kubernetes", res.Target)
	assert.Equal(t, "forge-test", res.Namespace)

	dep, err := cs.AppsV1().Deployments("forge-test").Get(context.Background(), "my-todo-app", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, dep.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "ghcr.io/acme/runtime:latest", dep.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "forge", dep.Labels["app.kubernetes.io/managed-by"])

	svc, err := cs.CoreV1().Services("forge-test").Get(context.Background(), "my-todo-app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(80), svc.Spec.Ports[0].Port)
	assert.Equal(t, "my-todo-app", svc.Spec.Selector["app"])
}

func TestKubernetesTarget_DeployUpdatesExisting(t *testing.T) {
	cs := fake.NewSimpleClientset()
	target := NewKubernetesTargetFromInterface(cs, KubernetesConfig{Namespace: "forge-test", DefaultImage: "img:v1"}, zerolog.Nop())

	_, err := target.Deploy(context.Background(), Request{Name: "app"})
	require.NoError(t, err)

	_, err = target.Deploy(context.Background(), Request{Name: "app", Image: "img:v2"})
	require.NoError(t, err)

	dep, err := cs.AppsV1().Deployments("forge-test").Get(context.Background(), "app", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "img:v2", dep.Spec.Template.Spec.Containers[0].Image)
}

func TestKubernetesTarget_DeployNoImage(t *testing.T) {
	cs := fake.NewSimpleClientset()
	target := NewKubernetesTargetFromInterface(cs, KubernetesConfig{Namespace: "forge-test"}, zerolog.Nop())

	_, err := target.Deploy(context.Background(), Request{Name: "app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container image")
}

func TestKubernetesTarget_ClusterLocalURL(t *testing.T) {
	cs := fake.NewSimpleClientset()
	target := NewKubernetesTargetFromInterface(cs, KubernetesConfig{Namespace: "forge-test", DefaultImage: "img"}, zerolog.Nop())

	res, err := target.Deploy(context.Background(), Request{Name: "app"})
	require.NoError(t, err)
	assert.Equal(t, "http://app.forge-test.svc.cluster.local", res.URL)
}

func TestKubernetesTarget_Teardown(t *testing.T) {
	cs := fake.NewSimpleClientset()
	target := NewKubernetesTargetFromInterface(cs, KubernetesConfig{Namespace: "forge-test", DefaultImage: "img"}, zerolog.Nop())

	_, err := target.Deploy(context.Background(), Request{Name: "app"})
	require.NoError(t, err)

	require.NoError(t, target.Teardown(context.Background(), "app"))

	_, err = cs.AppsV1().Deployments("forge-test").Get(context.Background(), "app", metav1.GetOptions{})
	assert.Error(t, err)

	// Missing resources are tolerated.
	assert.NoError(t, target.Teardown(context.Background(), "app"))
}

func TestKubernetesTarget_DefaultNamespace(t *testing.T) {
	target := NewKubernetesTargetFromInterface(fake.NewSimpleClientset(), KubernetesConfig{}, zerolog.Nop())
	assert.Equal(t, "forge-builds", target.cfg.Namespace)
}

func TestResourceName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Todo App", "my-todo-app"},
		{"app_v2.1", "app-v2-1"},
		{"--weird--", "weird"},
		{"!!!", "forge-build"},
		{"", "forge-build"},
		{strings.Repeat("a", 80), strings.Repeat("a", 53)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resourceName(tt.in), "input %q", tt.in)
	}
}
