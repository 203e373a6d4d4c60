// Package runnertest provides a scripted Runner fake for exercising
// command-driven logic without spawning processes.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

// Response is what the fake returns for a matched command.
type Response struct {
	Result runner.Result
	Err    error
}

// Fake is a Runner that matches invocations by argv prefix and records
// every call it sees. Safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     [][]string
}

// NewFake returns an empty Fake. Unscripted commands succeed with exit 0
// and empty output.
func NewFake() *Fake {
	return &Fake{responses: make(map[string]Response)}
}

// Script registers the response for any invocation whose argv starts with
// the given prefix words. Longer prefixes win over shorter ones.
func (f *Fake) Script(prefix string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
}

// Fail scripts a checked-failure response for the prefix.
func (f *Fake) Fail(prefix string, exitCode int, stderr string) {
	f.Script(prefix, Response{
		Result: runner.Result{ExitCode: exitCode, Stderr: stderr},
		Err:    &runner.CommandError{Argv: strings.Fields(prefix), ExitCode: exitCode, Stderr: stderr},
	})
}

// Output scripts a success response with the given stdout.
func (f *Fake) Output(prefix, stdout string) {
	f.Script(prefix, Response{Result: runner.Result{Stdout: stdout}})
}

func (f *Fake) Run(_ context.Context, argv []string, opts runner.Options) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, argv)

	joined := strings.Join(argv, " ")
	var best string
	for prefix := range f.responses {
		if strings.HasPrefix(joined, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return runner.Result{}, nil
	}

	resp := f.responses[best]
	if resp.Err != nil && !opts.Check {
		// Unchecked callers only see the exit code.
		if _, ok := runner.AsCommandError(resp.Err); ok {
			return resp.Result, nil
		}
	}
	return resp.Result, resp.Err
}

// Calls returns every argv the fake has seen, in order.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded invocations start with prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, argv := range f.calls {
		if strings.HasPrefix(strings.Join(argv, " "), prefix) {
			n++
		}
	}
	return n
}
