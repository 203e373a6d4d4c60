package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/runner/runnertest"
)

func TestDeploymentReady(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kubectl get deployment cnpg-controller-manager",
		`{"metadata":{"name":"cnpg-controller-manager","generation":2},"spec":{"replicas":1},"status":{"observedGeneration":2,"updatedReplicas":1,"readyReplicas":1,"availableReplicas":1}}`)

	d, err := GetDeployment(context.Background(), fake, "cnpg-controller-manager", "cnpg-system")
	if err != nil {
		t.Fatalf("GetDeployment() error = %v", err)
	}
	if !DeploymentReady(d) {
		t.Error("DeploymentReady() = false for a converged deployment")
	}
}

func TestDeploymentNotReady(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{
			name: "stale generation",
			json: `{"metadata":{"generation":3},"spec":{"replicas":1},"status":{"observedGeneration":2,"updatedReplicas":1,"readyReplicas":1,"availableReplicas":1}}`,
		},
		{
			name: "no ready replicas",
			json: `{"metadata":{"generation":1},"spec":{"replicas":1},"status":{"observedGeneration":1,"updatedReplicas":1,"readyReplicas":0,"availableReplicas":0}}`,
		},
		{
			name: "partial rollout",
			json: `{"metadata":{"generation":1},"spec":{"replicas":3},"status":{"observedGeneration":1,"updatedReplicas":2,"readyReplicas":2,"availableReplicas":2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runnertest.NewFake()
			fake.Output("kubectl get deployment app", tt.json)

			d, err := GetDeployment(context.Background(), fake, "app", "")
			if err != nil {
				t.Fatalf("GetDeployment() error = %v", err)
			}
			if DeploymentReady(d) {
				t.Error("DeploymentReady() = true, want false")
			}
		})
	}
}

func TestDeploymentReadyNil(t *testing.T) {
	if DeploymentReady(nil) {
		t.Error("DeploymentReady(nil) = true, want false")
	}
}

func TestOperatorInstallWaitsForController(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kubectl get deployment cnpg-controller-manager",
		`{"metadata":{"generation":1},"spec":{"replicas":1},"status":{"observedGeneration":1,"updatedReplicas":1,"readyReplicas":1,"availableReplicas":1}}`)

	installer := &OperatorInstaller{
		Run:      fake,
		Ledger:   cleanup.New(nil),
		Mode:     ModeDisposable,
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	}

	if err := installer.Install(context.Background()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if got := fake.CallCount("kubectl apply --server-side -f"); got != 1 {
		t.Errorf("operator manifest applied %d times, want 1", got)
	}
}

func TestOperatorInstallTimesOut(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kubectl get deployment cnpg-controller-manager",
		`{"metadata":{"generation":1},"spec":{"replicas":1},"status":{"observedGeneration":1,"updatedReplicas":0,"readyReplicas":0,"availableReplicas":0}}`)

	installer := &OperatorInstaller{
		Run:      fake,
		Ledger:   cleanup.New(nil),
		Mode:     ModeDisposable,
		Timeout:  50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	}

	if err := installer.Install(context.Background()); err == nil {
		t.Fatal("Install() error = nil, want readiness timeout")
	}
}

func TestOperatorExternalModeRegistersCleanup(t *testing.T) {
	fake := runnertest.NewFake()
	fake.Output("kubectl get deployment cnpg-controller-manager",
		`{"metadata":{"generation":1},"spec":{"replicas":1},"status":{"observedGeneration":1,"updatedReplicas":1,"readyReplicas":1,"availableReplicas":1}}`)
	ledger := cleanup.New(nil)

	installer := &OperatorInstaller{
		Run:      fake,
		Ledger:   ledger,
		Mode:     ModeExternal,
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	}

	if err := installer.Install(context.Background()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if ledger.Len() != 1 {
		t.Fatalf("ledger has %d actions, want 1 operator deletion", ledger.Len())
	}

	ledger.Drain()
	if got := fake.CallCount("kubectl delete -f " + CNPGManifestURL); got != 1 {
		t.Errorf("operator manifest deleted %d times at drain, want 1", got)
	}
}
