package cluster

import (
	"context"
	"fmt"

	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// DefaultExternalContext is the kubeconfig context name that marks an
// externally-managed cluster. Rancher Desktop registers its context under
// this name.
const DefaultExternalContext = "rancher-desktop"

// ClusterMode says whether the cluster lifecycle is this run's
// responsibility.
type ClusterMode int

const (
	// ModeExternal reuses a long-lived, externally-managed cluster. The
	// run cleans up only the resources it deployed, never the cluster.
	ModeExternal ClusterMode = iota
	// ModeDisposable uses a throwaway kind cluster owned by this run and
	// deleted at drain time.
	ModeDisposable
)

func (m ClusterMode) String() string {
	if m == ModeExternal {
		return "external"
	}
	return "disposable"
}

// Selector decides which cluster a run targets and registers the matching
// teardown with the ledger.
type Selector struct {
	Run    runner.Runner
	Ledger *cleanup.Ledger
	Prober *Prober

	// ExternalContext is the designated externally-managed context name.
	ExternalContext string
	// ClusterName is the disposable kind cluster name.
	ClusterName string
	// Manifests are every manifest file this run will apply; in external
	// mode their deletion is the cluster-level cleanup.
	Manifests []string

	// ListContexts enumerates kubeconfig contexts. Defaults to
	// KubeconfigContexts; injectable for tests.
	ListContexts func() ([]string, error)

	// Logf receives progress lines.
	Logf func(format string, args ...any)
}

func (s *Selector) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Select picks the cluster mode. If the designated externally-managed
// context exists it is reused (fast path); otherwise a disposable kind
// cluster is created, or an already-running one with the target name is
// reused so local iteration never fails on re-run. Exactly one
// cluster-level teardown is registered either way.
func (s *Selector) Select(ctx context.Context) (ClusterMode, error) {
	externalContext := s.ExternalContext
	if externalContext == "" {
		externalContext = DefaultExternalContext
	}
	clusterName := s.ClusterName
	if clusterName == "" {
		clusterName = DefaultClusterName
	}
	listContexts := s.ListContexts
	if listContexts == nil {
		listContexts = KubeconfigContexts
	}

	contexts, err := listContexts()
	if err != nil {
		s.logf("could not read kubeconfig contexts: %v", err)
		contexts = nil
	}

	for _, name := range contexts {
		if name == externalContext {
			s.logf("Detected %s context. Using it.", externalContext)
			if err := UseContext(ctx, s.Run, externalContext); err != nil {
				return ModeExternal, err
			}
			s.registerResourceCleanup()
			return ModeExternal, nil
		}
	}

	if !s.Prober.Installed(BinaryKind) {
		return ModeDisposable, fmt.Errorf(
			"%s is not installed and the %s context was not found; please install %s",
			BinaryKind, externalContext, BinaryKind)
	}

	exists, err := KindClusterExists(ctx, s.Run, clusterName)
	if err != nil {
		return ModeDisposable, err
	}
	if exists {
		s.logf("Cluster %q already exists. Using it.", clusterName)
	} else {
		s.logf("Creating kind cluster %q...", clusterName)
		if err := CreateKindCluster(ctx, s.Run, clusterName); err != nil {
			return ModeDisposable, err
		}
	}

	if err := UseContext(ctx, s.Run, KindContextName(clusterName)); err != nil {
		return ModeDisposable, err
	}

	s.Ledger.Register(fmt.Sprintf("delete kind cluster %q", clusterName), func() error {
		return DeleteKindCluster(context.Background(), s.Run, clusterName)
	})

	return ModeDisposable, nil
}

// registerResourceCleanup arranges deletion of every manifest this run
// will apply. On a shared cluster only the run's own resources may be
// removed, and deleting an already-absent resource is a soft success.
func (s *Selector) registerResourceCleanup() {
	manifests := make([]string, len(s.Manifests))
	copy(manifests, s.Manifests)

	s.Ledger.Register("delete deployed resources", func() error {
		for _, manifest := range manifests {
			_, err := s.Run.Run(context.Background(),
				[]string{BinaryKubectl, "delete", "-f", manifest, "--ignore-not-found"},
				runner.Options{Capture: true})
			if err != nil {
				s.Ledger.Logf("deleting %s: %v", manifest, err)
			}
		}
		return nil
	})
}
