package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// DefaultClusterName is the name of the disposable kind cluster a run
// creates when no externally-managed context is available.
const DefaultClusterName = "integration-test"

// KindContextName returns the kubeconfig context kind registers for a
// cluster name.
func KindContextName(clusterName string) string {
	return "kind-" + clusterName
}

// ListKindClusters returns the names of existing kind clusters.
func ListKindClusters(ctx context.Context, run runner.Runner) ([]string, error) {
	result, err := run.Run(ctx, []string{BinaryKind, "get", "clusters"}, runner.Options{Check: true, Capture: true})
	if err != nil {
		return nil, fmt.Errorf("listing kind clusters: %w", err)
	}

	var clusters []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			clusters = append(clusters, trimmed)
		}
	}
	return clusters, nil
}

// KindClusterExists reports whether a kind cluster with the given name is
// already running.
func KindClusterExists(ctx context.Context, run runner.Runner, name string) (bool, error) {
	clusters, err := ListKindClusters(ctx, run)
	if err != nil {
		return false, err
	}
	for _, cluster := range clusters {
		if cluster == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateKindCluster creates a kind cluster with the given name. Creation
// is slow; callers should log progress around it.
func CreateKindCluster(ctx context.Context, run runner.Runner, name string) error {
	_, err := run.Run(ctx, []string{BinaryKind, "create", "cluster", "--name", name}, runner.Options{Check: true})
	if err != nil {
		return fmt.Errorf("creating kind cluster %q: %w", name, err)
	}
	return nil
}

// DeleteKindCluster deletes a kind cluster by name. Deleting an absent
// cluster is a soft success.
func DeleteKindCluster(ctx context.Context, run runner.Runner, name string) error {
	result, err := run.Run(ctx, []string{BinaryKind, "delete", "cluster", "--name", name}, runner.Options{Capture: true})
	if err != nil {
		return fmt.Errorf("deleting kind cluster %q: %w", name, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("deleting kind cluster %q: exit code %d: %s", name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// LoadImage side-loads a locally built image into every node of a kind
// cluster. Only needed for disposable clusters; an externally-managed
// runtime shares its image store with the cluster.
func LoadImage(ctx context.Context, run runner.Runner, imageTag, clusterName string) error {
	_, err := run.Run(ctx, []string{BinaryKind, "load", "docker-image", imageTag, "--name", clusterName}, runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("loading image %q into cluster %q: %w", imageTag, clusterName, err)
	}
	return nil
}

// UseContext switches the active kubeconfig context.
func UseContext(ctx context.Context, run runner.Runner, contextName string) error {
	_, err := run.Run(ctx, []string{BinaryKubectl, "config", "use-context", contextName}, runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("switching kubectl context to %q: %w", contextName, err)
	}
	return nil
}

// ClusterInfo runs the control-plane sanity check after a context switch.
func ClusterInfo(ctx context.Context, run runner.Runner) error {
	_, err := run.Run(ctx, []string{BinaryKubectl, "cluster-info"}, runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("cluster-info check failed: %w", err)
	}
	return nil
}
