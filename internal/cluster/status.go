package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// GetDeployment fetches a Deployment's current state. An empty namespace
// uses the context default.
func GetDeployment(ctx context.Context, run runner.Runner, name, namespace string) (*appsv1.Deployment, error) {
	argv := []string{BinaryKubectl, "get", "deployment", name, "-o", "json"}
	if namespace != "" {
		argv = append(argv, "-n", namespace)
	}

	result, err := run.Run(ctx, argv, runner.Options{Check: true, Capture: true})
	if err != nil {
		return nil, fmt.Errorf("getting deployment %s: %w", name, err)
	}

	var deployment appsv1.Deployment
	if err := json.Unmarshal([]byte(result.Stdout), &deployment); err != nil {
		return nil, fmt.Errorf("parsing deployment %s: %w", name, err)
	}
	return &deployment, nil
}

// DeploymentReady reports whether the rollout has converged: the
// controller has observed the latest generation and every desired replica
// is updated, available, and ready.
func DeploymentReady(d *appsv1.Deployment) bool {
	if d == nil {
		return false
	}
	if d.Status.ObservedGeneration < d.Generation {
		return false
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	return d.Status.UpdatedReplicas >= desired &&
		d.Status.ReadyReplicas >= desired &&
		d.Status.AvailableReplicas >= desired
}

// PodsInNamespace lists the pods of a namespace, for progress display
// while a slow rollout converges.
func PodsInNamespace(ctx context.Context, run runner.Runner, namespace string) (*corev1.PodList, error) {
	result, err := run.Run(ctx,
		[]string{BinaryKubectl, "get", "pods", "-n", namespace, "-o", "json"},
		runner.Options{Check: true, Capture: true})
	if err != nil {
		return nil, fmt.Errorf("getting pods in %s: %w", namespace, err)
	}

	var pods corev1.PodList
	if err := json.Unmarshal([]byte(result.Stdout), &pods); err != nil {
		return nil, fmt.Errorf("parsing pods in %s: %w", namespace, err)
	}
	return &pods, nil
}

// FormatPodLine renders a one-line status summary for a pod.
func FormatPodLine(pod corev1.Pod) string {
	ready := 0
	restarts := int32(0)
	for _, status := range pod.Status.ContainerStatuses {
		if status.Ready {
			ready++
		}
		restarts += status.RestartCount
	}
	return fmt.Sprintf("%s  %d/%d  %s  restarts=%d",
		pod.Name, ready, len(pod.Status.ContainerStatuses), pod.Status.Phase, restarts)
}
