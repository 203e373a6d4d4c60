// Package runner executes external commands with captured output and a
// checked/unchecked failure mode. Every collaborator of the orchestrator
// (container runtime, kind, kubectl) is driven through it.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result holds the outcome of a single command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Options configures a single invocation.
type Options struct {
	// Check turns a non-zero exit code into a *CommandError.
	Check bool
	// Capture collects stdout/stderr into the Result instead of passing
	// them through to the process streams.
	Capture bool
	// Stdin, when non-empty, is fed to the child process.
	Stdin string
}

// Runner runs external commands. The single-method interface exists so the
// selection, deployment, and verification logic can be exercised against a
// scripted fake.
type Runner interface {
	Run(ctx context.Context, argv []string, opts Options) (Result, error)
}

// CommandError reports a checked command that exited non-zero, carrying
// captured stderr for diagnostics.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Argv, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// AsCommandError unwraps err into a *CommandError if there is one.
func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ExecRunner runs commands as child processes anchored at a fixed working
// root, so relative manifest paths resolve consistently regardless of where
// the orchestrator was started from.
type ExecRunner struct {
	workDir string
}

// NewExecRunner creates an ExecRunner rooted at workDir. An empty workDir
// inherits the current directory.
func NewExecRunner(workDir string) *ExecRunner {
	return &ExecRunner{workDir: workDir}
}

// WorkDir returns the working root commands are anchored at.
func (r *ExecRunner) WorkDir() string {
	return r.workDir
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = os.Environ()

	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	if opts.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	err := cmd.Run()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if opts.Check {
				return result, &CommandError{Argv: argv, ExitCode: result.ExitCode, Stderr: result.Stderr}
			}
			return result, nil
		}
		// The command never ran (binary missing, context cancelled).
		result.ExitCode = -1
		return result, fmt.Errorf("running %q: %w", strings.Join(argv, " "), err)
	}

	return result, nil
}
