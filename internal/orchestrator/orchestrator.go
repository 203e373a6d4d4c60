// Package orchestrator drives a full integration-test run: select a
// cluster, install shared operators, deploy and verify each stack in
// order, and guarantee teardown on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kubesmoke/kubesmoke/internal/cluster"
	"github.com/kubesmoke/kubesmoke/internal/stack"
	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// ErrInterrupted is returned when the run was cut short by SIGINT or
// SIGTERM. Teardown has already run by the time callers see it.
var ErrInterrupted = errors.New("run interrupted")

// Orchestrator owns one integration-test run. Zero-value fields fall back
// to production defaults; tests inject fakes.
type Orchestrator struct {
	Config  *stack.Config
	WorkDir string

	Run    runner.Runner
	Prober *cluster.Prober
	Ledger *cleanup.Ledger

	// SettleDelay is passed through to each stack's deployer.
	SettleDelay time.Duration

	// InstallOperator installs the shared database operator. Defaults to
	// the CloudNativePG installer; injectable for tests.
	InstallOperator func(ctx context.Context, mode cluster.ClusterMode) error

	// DeployStack runs one stack's deployment state machine. Defaults to
	// a Deployer wired from this orchestrator's fields.
	DeployStack func(ctx context.Context, mode cluster.ClusterMode, runID string, spec stack.Spec) stack.Result

	// ListContexts enumerates kubeconfig contexts for cluster selection.
	// Defaults to reading the real kubeconfig.
	ListContexts func() ([]string, error)

	// NotifySignals registers interrupt handling on the run context.
	// Defaults to SIGINT/SIGTERM; tests replace it with a no-op.
	NotifySignals func(ctx context.Context) (context.Context, context.CancelFunc)

	Logf func(format string, args ...any)
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// Execute runs the whole orchestration. It returns the per-stack results
// in execution order and a non-nil error when the run did not end with
// every stack verified. The cleanup ledger is drained before returning,
// on success, failure, and interrupt alike.
func (o *Orchestrator) Execute(ctx context.Context) ([]stack.Result, error) {
	if o.Run == nil {
		o.Run = runner.NewExecRunner(o.WorkDir)
	}
	if o.Prober == nil {
		o.Prober = cluster.NewProber(o.Run)
	}
	if o.Ledger == nil {
		o.Ledger = cleanup.New(o.Logf)
	}
	if o.Config == nil {
		o.Config = stack.DefaultConfig()
	}

	notify := o.NotifySignals
	if notify == nil {
		notify = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}
	ctx, stop := notify(ctx)
	defer stop()

	// Every exit path below funnels through this drain. The ledger's
	// internal once makes a second drain (a crash handler, a defensive
	// caller) harmless.
	defer o.Ledger.Drain()

	results, err := o.run(ctx)
	if err != nil && ctx.Err() != nil {
		o.logf("Interrupted. Cleaning up...")
		return results, ErrInterrupted
	}
	return results, err
}

func (o *Orchestrator) run(ctx context.Context) ([]stack.Result, error) {
	runID := uuid.NewString()
	o.logf("Run %s starting.", runID)

	if err := o.Prober.RequireKubectl(); err != nil {
		return nil, err
	}

	runtime, err := o.Prober.DetectRuntime(ctx)
	if err != nil {
		return nil, err
	}
	o.logf("Using %s as the container runtime.", runtime)

	selector := &cluster.Selector{
		Run:             o.Run,
		Ledger:          o.Ledger,
		Prober:          o.Prober,
		ExternalContext: o.Config.ExternalContext,
		ClusterName:     o.clusterName(),
		Manifests:       o.Config.Manifests(),
		ListContexts:    o.ListContexts,
		Logf:            o.Logf,
	}
	mode, err := selector.Select(ctx)
	if err != nil {
		return nil, err
	}

	if err := cluster.ClusterInfo(ctx, o.Run); err != nil {
		return nil, err
	}

	if o.needsOperator() {
		install := o.InstallOperator
		if install == nil {
			install = func(ctx context.Context, mode cluster.ClusterMode) error {
				installer := &cluster.OperatorInstaller{
					Run:    o.Run,
					Ledger: o.Ledger,
					Mode:   mode,
					Logf:   o.Logf,
				}
				return installer.Install(ctx)
			}
		}
		if err := install(ctx, mode); err != nil {
			return nil, err
		}
	}

	deploy := o.DeployStack
	if deploy == nil {
		deploy = func(ctx context.Context, mode cluster.ClusterMode, runID string, spec stack.Spec) stack.Result {
			deployer := &stack.Deployer{
				Run:         o.Run,
				Ledger:      o.Ledger,
				Runtime:     runtime,
				Mode:        mode,
				ClusterName: o.clusterName(),
				RunID:       runID,
				WorkDir:     o.WorkDir,
				SettleDelay: o.SettleDelay,
				Logf:        o.Logf,
			}
			return deployer.Deploy(ctx, spec)
		}
	}

	var results []stack.Result
	for _, spec := range o.Config.Stacks {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result := deploy(ctx, mode, runID, spec)
		results = append(results, result)
		if !result.Verified() {
			// Later stacks may depend on state this one failed to
			// establish; stopping here keeps their results meaningful.
			return results, fmt.Errorf("stack %s failed: %s", result.Stack, result)
		}
		o.logf("Stack %s verified.", result.Stack)
	}

	o.logf("All %d stacks verified.", len(results))
	return results, nil
}

func (o *Orchestrator) clusterName() string {
	if o.Config.ClusterName != "" {
		return o.Config.ClusterName
	}
	return cluster.DefaultClusterName
}

// needsOperator reports whether any stack declares a database resource.
// The operator is shared run-level state, installed at most once.
func (o *Orchestrator) needsOperator() bool {
	for _, spec := range o.Config.Stacks {
		if spec.Database != nil {
			return true
		}
	}
	return false
}
