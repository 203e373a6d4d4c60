package cluster

import (
	"strings"

	"github.com/kubesmoke/kubesmoke/pkg/runner"
)

func runnerResult(exitCode int, stderr string) runner.Result {
	return runner.Result{ExitCode: exitCode, Stderr: stderr}
}

func join(argv []string) string {
	return strings.Join(argv, " ")
}
