package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/poll"
	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// CloudNativePG is the shared database operator every stack with a
// Postgres cluster depends on. Installed once per run, before any stack.
const (
	CNPGManifestURL = "https://raw.githubusercontent.com/cloudnative-pg/cloudnative-pg/release-1.28/releases/cnpg-1.28.0.yaml"
	CNPGNamespace   = "cnpg-system"
	CNPGDeployment  = "cnpg-controller-manager"
)

// OperatorInstaller installs the CloudNativePG operator and waits for its
// controller to be ready.
type OperatorInstaller struct {
	Run    runner.Runner
	Ledger *cleanup.Ledger
	Mode   ClusterMode

	// Timeout bounds the wait for the operator deployment. Defaults to 5
	// minutes, matching the controller's usual cold-start on a fresh node.
	Timeout  time.Duration
	Interval time.Duration

	Logf func(format string, args ...any)
}

func (o *OperatorInstaller) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// Install applies the operator release manifest (server-side, the CRDs are
// too large for client-side apply) and polls the controller deployment
// until it is ready. Failure here is fatal for the whole run: no stack can
// reconcile a database without the operator.
func (o *OperatorInstaller) Install(ctx context.Context) error {
	timeout := o.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	interval := o.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}

	o.logf("Installing CloudNativePG operator...")
	_, err := o.Run.Run(ctx,
		[]string{BinaryKubectl, "apply", "--server-side", "-f", CNPGManifestURL},
		runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("installing CloudNativePG operator: %w", err)
	}

	// On a shared cluster the operator is a resource this run created and
	// must remove. On a disposable cluster the cluster deletion covers it.
	if o.Mode == ModeExternal {
		o.Ledger.Register("delete CloudNativePG operator", func() error {
			_, err := o.Run.Run(context.Background(),
				[]string{BinaryKubectl, "delete", "-f", CNPGManifestURL, "--ignore-not-found"},
				runner.Options{Capture: true})
			return err
		})
	}

	o.logf("Waiting for CloudNativePG operator to be ready...")
	ready := poll.Await(ctx, timeout, interval, func() bool {
		deployment, err := GetDeployment(ctx, o.Run, CNPGDeployment, CNPGNamespace)
		if err != nil {
			return false
		}
		return DeploymentReady(deployment)
	})
	if !ready {
		return fmt.Errorf("CloudNativePG operator not ready within %s", timeout)
	}

	o.logf("CloudNativePG operator is ready.")
	return nil
}
