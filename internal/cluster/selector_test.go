package cluster

import (
	"context"
	"testing"

	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/runner/runnertest"
)

func newSelector(fake *runnertest.Fake, ledger *cleanup.Ledger, contexts []string) *Selector {
	return &Selector{
		Run:          fake,
		Ledger:       ledger,
		Prober:       NewProberWithLookPath(fake, lookPathFor("docker", "kubectl", "kind")),
		Manifests:    []string{"homepage/homepage-deployment.yaml", "speedtest/k8s/deployment.yaml"},
		ListContexts: func() ([]string, error) { return contexts, nil },
	}
}

func TestSelectExternalContext(t *testing.T) {
	fake := runnertest.NewFake()
	ledger := cleanup.New(nil)
	s := newSelector(fake, ledger, []string{"docker-desktop", "rancher-desktop"})

	mode, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if mode != ModeExternal {
		t.Fatalf("Select() = %v, want external", mode)
	}

	if got := fake.CallCount("kubectl config use-context rancher-desktop"); got != 1 {
		t.Errorf("use-context rancher-desktop called %d times, want 1", got)
	}
	if got := fake.CallCount("kind"); got != 0 {
		t.Errorf("kind invoked %d times in external mode, want 0", got)
	}

	// Cluster-level cleanup must delete only this run's resources.
	if ledger.Len() != 1 {
		t.Fatalf("ledger has %d actions, want 1", ledger.Len())
	}
	ledger.Drain()
	if got := fake.CallCount("kind delete cluster"); got != 0 {
		t.Errorf("drain deleted a cluster in external mode")
	}
	if got := fake.CallCount("kubectl delete -f homepage/homepage-deployment.yaml"); got != 1 {
		t.Errorf("drain deleted homepage manifest %d times, want 1", got)
	}
	if got := fake.CallCount("kubectl delete -f speedtest/k8s/deployment.yaml"); got != 1 {
		t.Errorf("drain deleted speedtest manifest %d times, want 1", got)
	}
}

func TestSelectCreatesDisposableCluster(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kind get clusters", "")
	ledger := cleanup.New(nil)
	s := newSelector(fake, ledger, nil)

	mode, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if mode != ModeDisposable {
		t.Fatalf("Select() = %v, want disposable", mode)
	}

	if got := fake.CallCount("kind create cluster --name integration-test"); got != 1 {
		t.Errorf("kind create called %d times, want 1", got)
	}
	if got := fake.CallCount("kubectl config use-context kind-integration-test"); got != 1 {
		t.Errorf("use-context called %d times, want 1", got)
	}

	if ledger.Len() != 1 {
		t.Fatalf("ledger has %d actions, want exactly 1 cluster deletion", ledger.Len())
	}
	ledger.Drain()
	if got := fake.CallCount("kind delete cluster --name integration-test"); got != 1 {
		t.Errorf("drain deleted cluster %d times, want 1", got)
	}
}

func TestSelectReusesExistingDisposableCluster(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kind get clusters", "integration-test\nother-cluster\n")
	ledger := cleanup.New(nil)
	s := newSelector(fake, ledger, nil)

	mode, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if mode != ModeDisposable {
		t.Fatalf("Select() = %v, want disposable", mode)
	}

	if got := fake.CallCount("kind create cluster"); got != 0 {
		t.Errorf("kind create called %d times for an existing cluster, want 0", got)
	}
	if ledger.Len() != 1 {
		t.Errorf("ledger has %d actions, want cleanup registered exactly once", ledger.Len())
	}
}

func TestSelectRequiresKindWithoutExternalContext(t *testing.T) {
	fake := runnertest.NewFake()
	ledger := cleanup.New(nil)
	s := newSelector(fake, ledger, nil)
	s.Prober = NewProberWithLookPath(fake, lookPathFor("docker", "kubectl"))

	if _, err := s.Select(context.Background()); err == nil {
		t.Fatal("Select() error = nil, want missing-kind failure")
	}
	if ledger.Len() != 0 {
		t.Errorf("ledger has %d actions after failed selection, want 0", ledger.Len())
	}
}
