package stack

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Tunnel is a running local tunnel to an in-cluster service. The
// orchestrator treats it as an opaque background resource: it never reads
// the tunnel's output, only probes the forwarded port.
type Tunnel interface {
	Stop()
	Addr() string
}

// PortForward wraps a background `kubectl port-forward` process bound to
// a fixed local port.
type PortForward struct {
	cmd       *exec.Cmd
	localPort int
}

// OpenPortForward spawns a port-forward from localPort to the service's
// port 80, anchored at workDir. Stop is idempotent.
func OpenPortForward(ctx context.Context, workDir, service string, localPort int) (*PortForward, error) {
	cmd := exec.CommandContext(ctx, "kubectl", "port-forward",
		fmt.Sprintf("svc/%s", service), fmt.Sprintf("%d:80", localPort))
	cmd.Dir = workDir
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting port-forward for svc/%s: %w", service, err)
	}

	return &PortForward{cmd: cmd, localPort: localPort}, nil
}

// Addr returns the local base URL the tunnel serves.
func (p *PortForward) Addr() string {
	return fmt.Sprintf("http://localhost:%d", p.localPort)
}

// Stop terminates the tunnel process and reaps it. Stopping an
// already-exited tunnel is a no-op.
func (p *PortForward) Stop() {
	if p.cmd.Process == nil {
		return
	}
	if p.cmd.ProcessState != nil {
		return
	}
	_ = p.cmd.Process.Kill()

	// Reap with a bound so a wedged process cannot stall teardown.
	done := make(chan struct{})
	go func() {
		_, _ = p.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}
