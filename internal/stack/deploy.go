package stack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kubesmoke/kubesmoke/internal/cluster"
	"github.com/kubesmoke/kubesmoke/pkg/cleanup"
	"github.com/kubesmoke/kubesmoke/pkg/poll"
	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// Deployer walks one stack through the deployment state machine:
//
//	BuildImage → LoadImageIntoCluster → ApplyManifests →
//	CreateAncillaryResources → PatchImageReference → AwaitRollout →
//	OpenPortForward → RunVerificationProbe → Verified
//
// Any stage failure is terminal for the stack and, by the orchestrator's
// policy, for the run.
type Deployer struct {
	Run    runner.Runner
	Ledger *cleanup.Ledger

	Runtime     cluster.RuntimeChoice
	Mode        cluster.ClusterMode
	ClusterName string

	// RunID labels everything this run creates so leftovers are
	// attributable to a specific invocation.
	RunID string

	// WorkDir anchors the port-forward process.
	WorkDir string

	// SettleDelay is the fixed pause between opening a tunnel and
	// probing through it, giving the tunnel time to become connectable.
	// Zero in tests.
	SettleDelay time.Duration

	// PollInterval is the rollout-status polling interval.
	PollInterval time.Duration

	// NewProbe builds the verification probe. Defaults to ProbeFor.
	NewProbe func(Spec) (Probe, error)

	// OpenTunnel opens the local tunnel. Defaults to OpenPortForward.
	OpenTunnel func(ctx context.Context, spec Spec) (Tunnel, error)

	Logf func(format string, args ...any)
}

func (d *Deployer) logf(format string, args ...any) {
	if d.Logf != nil {
		d.Logf(format, args...)
	}
}

// Deploy runs the full state machine for one stack and returns its
// terminal result.
func (d *Deployer) Deploy(ctx context.Context, spec Spec) Result {
	fail := func(stage Stage, outcome Outcome, err error) Result {
		return Result{Stack: spec.Slug, Outcome: outcome, Stage: stage, Err: err}
	}

	d.logf("Testing %s stack...", spec.Slug)

	if err := d.buildImage(ctx, spec); err != nil {
		return fail(StageBuild, OutcomeCommandFailed, err)
	}

	if d.Mode == cluster.ModeDisposable {
		d.logf("Loading %s image into cluster...", spec.Slug)
		if err := cluster.LoadImage(ctx, d.Run, spec.ImageTag, d.ClusterName); err != nil {
			return fail(StageLoad, OutcomeCommandFailed, err)
		}
	}

	if err := d.applyManifests(ctx, spec); err != nil {
		return fail(StageApply, OutcomeCommandFailed, err)
	}

	if spec.Secret != nil {
		if err := d.createSecret(ctx, *spec.Secret); err != nil {
			return fail(StageSecrets, OutcomeCommandFailed, err)
		}
	}

	if err := d.patchImage(ctx, spec); err != nil {
		return fail(StagePatch, OutcomeCommandFailed, err)
	}

	if spec.Database != nil {
		if err := d.awaitDatabase(ctx, *spec.Database); err != nil {
			return fail(StageDatabase, OutcomeRolloutTimeout, err)
		}
	}

	if err := d.awaitRollout(ctx, spec); err != nil {
		return fail(StageRollout, OutcomeRolloutTimeout, err)
	}

	return d.verify(ctx, spec)
}

func (d *Deployer) buildImage(ctx context.Context, spec Spec) error {
	d.logf("Building %s image...", spec.Slug)
	_, err := d.Run.Run(ctx, d.Runtime.BuildArgs(spec.ImageTag, spec.BuildContext), runner.Options{Check: true})
	if err != nil {
		return fmt.Errorf("building image %s: %w", spec.ImageTag, err)
	}
	return nil
}

// applyManifests applies each manifest and registers its deletion before
// moving to the next, so a failure partway through still leaves every
// successfully created resource tracked.
func (d *Deployer) applyManifests(ctx context.Context, spec Spec) error {
	d.logf("Deploying %s...", spec.Slug)
	for _, manifest := range spec.Manifests {
		manifest := manifest
		_, err := d.Run.Run(ctx,
			[]string{cluster.BinaryKubectl, "apply", "-f", manifest},
			runner.Options{Check: true, Capture: true})
		if err != nil {
			return fmt.Errorf("applying %s: %w", manifest, err)
		}
		d.Ledger.Register(fmt.Sprintf("delete %s", manifest), func() error {
			_, derr := d.Run.Run(context.Background(),
				[]string{cluster.BinaryKubectl, "delete", "-f", manifest, "--ignore-not-found"},
				runner.Options{Capture: true})
			return derr
		})
	}
	return nil
}

// createSecret provisions a credential secret. Delete-then-create keeps
// re-runs against a live cluster idempotent; the deletion is registered
// the moment creation succeeds.
func (d *Deployer) createSecret(ctx context.Context, secret SecretSpec) error {
	d.logf("Creating secret %s...", secret.Name)
	_, _ = d.Run.Run(ctx,
		[]string{cluster.BinaryKubectl, "delete", "secret", secret.Name, "--ignore-not-found"},
		runner.Options{Capture: true})

	argv := []string{cluster.BinaryKubectl, "create", "secret", "generic", secret.Name}
	keys := make([]string, 0, len(secret.Literals))
	for key := range secret.Literals {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		argv = append(argv, fmt.Sprintf("--from-literal=%s=%s", key, secret.Literals[key]))
	}
	_, err := d.Run.Run(ctx, argv, runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("creating secret %s: %w", secret.Name, err)
	}

	if d.RunID != "" {
		_, _ = d.Run.Run(ctx,
			[]string{cluster.BinaryKubectl, "label", "secret", secret.Name, "kubesmoke/run=" + d.RunID, "--overwrite"},
			runner.Options{Capture: true})
	}

	d.Ledger.Register(fmt.Sprintf("delete secret %s", secret.Name), func() error {
		_, derr := d.Run.Run(context.Background(),
			[]string{cluster.BinaryKubectl, "delete", "secret", secret.Name, "--ignore-not-found"},
			runner.Options{Capture: true})
		return derr
	})
	return nil
}

// patchImage points the deployment at the locally built image and pins
// the pull policy so the cluster never tries to pull the test tag from a
// registry.
func (d *Deployer) patchImage(ctx context.Context, spec Spec) error {
	_, err := d.Run.Run(ctx,
		[]string{cluster.BinaryKubectl, "set", "image",
			fmt.Sprintf("deployment/%s", spec.Deployment),
			fmt.Sprintf("%s=%s", spec.Container, spec.ImageTag)},
		runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("setting image on deployment/%s: %w", spec.Deployment, err)
	}

	patch := fmt.Sprintf(
		`{"spec":{"template":{"spec":{"containers":[{"name":"%s","imagePullPolicy":"Never"}]}}}}`,
		spec.Container)
	_, err = d.Run.Run(ctx,
		[]string{cluster.BinaryKubectl, "patch", "deployment", spec.Deployment, "-p", patch},
		runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("patching deployment/%s pull policy: %w", spec.Deployment, err)
	}
	return nil
}

// awaitDatabase blocks until the operator reports the database resource
// Ready. The operator reconciles on its own timescale; a timeout is not
// retried.
func (d *Deployer) awaitDatabase(ctx context.Context, db DatabaseSpec) error {
	d.logf("Waiting for %s to be ready...", db.Resource)
	_, err := d.Run.Run(ctx,
		[]string{cluster.BinaryKubectl, "wait", "--for=condition=Ready", db.Resource,
			fmt.Sprintf("--timeout=%s", db.Timeout)},
		runner.Options{Check: true, Capture: true})
	if err != nil {
		return fmt.Errorf("database %s not ready within %s: %w", db.Resource, db.Timeout, err)
	}
	return nil
}

// awaitRollout polls the deployment until the controller reports the new
// revision fully available, bounded by the stack's rollout timeout.
func (d *Deployer) awaitRollout(ctx context.Context, spec Spec) error {
	d.logf("Waiting for %s deployment rollout...", spec.Slug)

	interval := d.PollInterval
	if interval == 0 {
		interval = 3 * time.Second
	}

	checks := 0
	ready := poll.Await(ctx, spec.RolloutTimeout.Std(), interval, func() bool {
		deployment, err := cluster.GetDeployment(ctx, d.Run, spec.Deployment, "")
		if err == nil && cluster.DeploymentReady(deployment) {
			return true
		}
		checks++
		if checks%5 == 0 {
			d.logPods(ctx)
		}
		return false
	})
	if !ready {
		d.logPods(ctx)
		return fmt.Errorf("deployment/%s rollout did not complete within %s", spec.Deployment, spec.RolloutTimeout)
	}
	return nil
}

// logPods shows pod-level status while a slow rollout converges, so a
// crash-looping container is visible before the timeout fires.
func (d *Deployer) logPods(ctx context.Context) {
	pods, err := cluster.PodsInNamespace(ctx, d.Run, "default")
	if err != nil {
		return
	}
	for _, pod := range pods.Items {
		d.logf("  %s", cluster.FormatPodLine(pod))
	}
}

// verify opens the tunnel, runs the stack's probe through it, and tears
// the tunnel down. The tunnel's ledger entry exists only for the window
// where a crash or interrupt could strand the process; on the normal path
// it is stopped here and removed from the ledger to avoid a
// double-terminate race at drain time.
func (d *Deployer) verify(ctx context.Context, spec Spec) Result {
	fail := func(stage Stage, outcome Outcome, err error) Result {
		return Result{Stack: spec.Slug, Outcome: outcome, Stage: stage, Err: err}
	}

	d.logf("Verifying %s availability...", spec.Slug)

	openTunnel := d.OpenTunnel
	if openTunnel == nil {
		openTunnel = func(ctx context.Context, spec Spec) (Tunnel, error) {
			return OpenPortForward(ctx, d.WorkDir, spec.Service, spec.LocalPort)
		}
	}

	tunnel, err := openTunnel(ctx, spec)
	if err != nil {
		return fail(StagePortForward, OutcomeCommandFailed, err)
	}
	entry := d.Ledger.Register(fmt.Sprintf("stop port-forward for %s", spec.Slug), func() error {
		tunnel.Stop()
		return nil
	})
	defer func() {
		tunnel.Stop()
		d.Ledger.Remove(entry)
	}()

	if d.SettleDelay > 0 {
		time.Sleep(d.SettleDelay)
	}

	newProbe := d.NewProbe
	if newProbe == nil {
		newProbe = ProbeFor
	}
	probe, err := newProbe(spec)
	if err != nil {
		return fail(StageProbe, OutcomePrereqFailed, err)
	}

	if err := probe.Verify(ctx, tunnel.Addr()); err != nil {
		outcome := OutcomeVerificationFailed
		if verr, ok := err.(*VerifyError); ok {
			outcome = verr.Outcome
		}
		return fail(StageProbe, outcome, err)
	}

	d.logf("%s is serving correctly.", spec.Slug)
	return Result{Stack: spec.Slug, Outcome: OutcomeVerified}
}
