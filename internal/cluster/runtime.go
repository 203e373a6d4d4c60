package cluster

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// Binary names for the tools the orchestrator drives.
const (
	BinaryKubectl = "kubectl"
	BinaryKind    = "kind"
	BinaryDocker  = "docker"
	BinaryNerdctl = "nerdctl"
)

// RuntimeChoice identifies which container runtime was selected at
// startup. It is chosen once and immutable afterward; every build and
// image-load command is parameterized by it.
type RuntimeChoice int

const (
	// RuntimeDocker is the primary container runtime.
	RuntimeDocker RuntimeChoice = iota
	// RuntimeNerdctl is the fallback runtime, used when docker is absent
	// or unresponsive. Builds target the k8s.io containerd namespace so
	// kind nodes can see the images.
	RuntimeNerdctl
)

// Binary returns the runtime's executable name.
func (r RuntimeChoice) Binary() string {
	if r == RuntimeNerdctl {
		return BinaryNerdctl
	}
	return BinaryDocker
}

func (r RuntimeChoice) String() string {
	return r.Binary()
}

// BuildArgs returns the runtime-specific argv for building an image tag
// from a context path.
func (r RuntimeChoice) BuildArgs(tag, contextPath string) []string {
	argv := []string{r.Binary(), "build", "-t", tag, contextPath}
	if r == RuntimeNerdctl {
		argv = append(argv, "--namespace", "k8s.io")
	}
	return argv
}

// Prober determines which required binaries are installed and responsive.
// Probing is a startup precondition, not a retryable condition.
type Prober struct {
	run      runner.Runner
	lookPath func(string) (string, error)
}

// NewProber creates a Prober backed by the real search path.
func NewProber(run runner.Runner) *Prober {
	return &Prober{run: run, lookPath: exec.LookPath}
}

// NewProberWithLookPath creates a Prober with an injected path resolver,
// for tests.
func NewProberWithLookPath(run runner.Runner, lookPath func(string) (string, error)) *Prober {
	return &Prober{run: run, lookPath: lookPath}
}

// Installed reports whether the binary resolves on the search path.
func (p *Prober) Installed(binary string) bool {
	_, err := p.lookPath(binary)
	return err == nil
}

// Usable reports whether the binary resolves on the search path and its
// lightweight "info" liveness query succeeds. A runtime whose daemon is
// down resolves but is not usable.
func (p *Prober) Usable(ctx context.Context, binary string) bool {
	if !p.Installed(binary) {
		return false
	}
	result, err := p.run.Run(ctx, []string{binary, "info"}, runner.Options{Capture: true})
	if err != nil {
		return false
	}
	return result.ExitCode == 0
}

// DetectRuntime picks the container runtime: docker if it is usable,
// otherwise nerdctl. No usable runtime is a fatal precondition; the error
// includes the current PATH so the operator can fix their environment.
func (p *Prober) DetectRuntime(ctx context.Context) (RuntimeChoice, error) {
	if p.Usable(ctx, BinaryDocker) {
		return RuntimeDocker, nil
	}
	if p.Usable(ctx, BinaryNerdctl) {
		return RuntimeNerdctl, nil
	}
	return RuntimeDocker, fmt.Errorf(
		"neither %s nor %s is installed and running; ensure a container runtime is active (PATH: %s)",
		BinaryDocker, BinaryNerdctl, os.Getenv("PATH"))
}

// RequireKubectl verifies the cluster-management CLI is present.
func (p *Prober) RequireKubectl() error {
	if !p.Installed(BinaryKubectl) {
		return fmt.Errorf("%s is not installed; please install it", BinaryKubectl)
	}
	return nil
}
