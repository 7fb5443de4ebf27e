package deploy

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rs/zerolog"
)

const containerPort = 8080

// KubernetesConfig holds cluster target configuration.
type KubernetesConfig struct {
	KubeconfigPath string
	Namespace      string
	BaseDomain     string // builds are reachable at https://<name>.<BaseDomain>
	DefaultImage   string // image used when the request does not name one
}

// KubernetesTarget deploys builds as a Deployment plus Service in one namespace.
type KubernetesTarget struct {
	clientset kubernetes.Interface
	cfg       KubernetesConfig
	logger    zerolog.Logger
}

// NewKubernetesTarget creates a target from kubeconfig or in-cluster config.
func NewKubernetesTarget(cfg KubernetesConfig, logger zerolog.Logger) (*KubernetesTarget, error) {
	var restConfig *rest.Config
	var err error

	if cfg.KubeconfigPath != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.KubeconfigPath)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building k8s config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating k8s clientset: %w", err)
	}
	return NewKubernetesTargetFromInterface(cs, cfg, logger), nil
}

// NewKubernetesTargetFromInterface creates a target from an existing clientset (for testing).
func NewKubernetesTargetFromInterface(cs kubernetes.Interface, cfg KubernetesConfig, logger zerolog.Logger) *KubernetesTarget {
	if cfg.Namespace == "" {
		cfg.Namespace = "forge-builds"
	}
	return &KubernetesTarget{
		clientset: cs,
		cfg:       cfg,
		logger:    logger.With().Str("component", "deploy-k8s").Logger(),
	}
}

// Deploy creates or updates a Deployment and Service for the build.
func (t *KubernetesTarget) Deploy(ctx context.Context, req Request) (*Result, error) {
	name := resourceName(req.Name)
	image := req.Image
	if image == "" {
		image = t.cfg.DefaultImage
	}
	if image == "" {
		return nil, fmt.Errorf("no container image for build %s", req.Name)
	}

	labels := map[string]string{
		"app":                    name,
		"app.kubernetes.io/managed-by": "forge",
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: t.cfg.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "app",
						Image: image,
						Ports: []corev1.ContainerPort{{ContainerPort: containerPort}},
					}},
				},
			},
		},
	}

	deps := t.clientset.AppsV1().Deployments(t.cfg.Namespace)
	if _, err := deps.Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return nil, fmt.Errorf("creating deployment: %w", err)
		}
		if _, err := deps.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
			return nil, fmt.Errorf("updating deployment: %w", err)
		}
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: t.cfg.Namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": name},
			Ports: []corev1.ServicePort{{
				Port:       80,
				TargetPort: intstr.FromInt(containerPort),
			}},
		},
	}

	svcs := t.clientset.CoreV1().Services(t.cfg.Namespace)
	if _, err := svcs.Create(ctx, service, metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		return nil, fmt.Errorf("creating service: %w", err)
	}

	url := fmt.Sprintf("http://%s.%s.svc.cluster.local", name, t.cfg.Namespace)
	if t.cfg.BaseDomain != "" {
		url = fmt.Sprintf("https://%s.%s", name, t.cfg.BaseDomain)
	}

	t.logger.Info().Str("name", name).Str("url", url).Msg("build deployed to cluster")

	return &Result{
		URL:       url,
		Target:    "kubernetes",
		Namespace: t.cfg.Namespace,
	}, nil
}

// Teardown deletes the Deployment and Service. Missing resources are not errors.
func (t *KubernetesTarget) Teardown(ctx context.Context, name string) error {
	name = resourceName(name)

	err := t.clientset.AppsV1().Deployments(t.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting deployment: %w", err)
	}

	err = t.clientset.CoreV1().Services(t.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting service: %w", err)
	}

	return nil
}

// resourceName produces a DNS-1123 compliant name.
func resourceName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "forge-build"
	}
	if len(out) > 53 {
		out = strings.Trim(out[:53], "-")
	}
	return out
}

func int32Ptr(i int32) *int32 { return &i }
