package stack

import "fmt"

// Outcome is the terminal result of one stack's deployment attempt. The
// first non-Verified outcome aborts the remaining stacks: later stacks may
// assume cluster-wide state established by earlier ones.
type Outcome int

const (
	// OutcomeVerified means the stack rolled out and its probe passed.
	OutcomeVerified Outcome = iota
	// OutcomePrereqFailed means a precondition was missing (for an
	// asyncjob probe: the submit response carried no job identifier).
	OutcomePrereqFailed
	// OutcomeCommandFailed means an external command exited non-zero.
	OutcomeCommandFailed
	// OutcomeRolloutTimeout means a bounded wait exhausted its deadline.
	OutcomeRolloutTimeout
	// OutcomeVerificationFailed means the deployed service is not
	// behaving correctly.
	OutcomeVerificationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "Verified"
	case OutcomePrereqFailed:
		return "PrereqFailed"
	case OutcomeCommandFailed:
		return "CommandFailed"
	case OutcomeRolloutTimeout:
		return "RolloutTimeout"
	case OutcomeVerificationFailed:
		return "VerificationFailed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Stage names a step of the deployment state machine, recorded in failed
// results for diagnosis.
type Stage string

const (
	StageBuild       Stage = "BuildImage"
	StageLoad        Stage = "LoadImageIntoCluster"
	StageApply       Stage = "ApplyManifests"
	StageSecrets     Stage = "CreateAncillaryResources"
	StagePatch       Stage = "PatchImageReference"
	StageDatabase    Stage = "AwaitDatabase"
	StageRollout     Stage = "AwaitRollout"
	StagePortForward Stage = "OpenPortForward"
	StageProbe       Stage = "RunVerificationProbe"
)

// Result reports one stack's terminal state.
type Result struct {
	Stack   string
	Outcome Outcome
	Stage   Stage
	Err     error
}

// Verified reports whether the stack passed.
func (r Result) Verified() bool {
	return r.Outcome == OutcomeVerified
}

func (r Result) String() string {
	if r.Verified() {
		return fmt.Sprintf("%s: Verified", r.Stack)
	}
	return fmt.Sprintf("%s: %s at %s: %v", r.Stack, r.Outcome, r.Stage, r.Err)
}

// VerifyError is a probe failure carrying the outcome classification the
// probe determined. Probes distinguish a missing precondition (no job id
// to poll) from a wait that timed out from a wrong response.
type VerifyError struct {
	Outcome Outcome
	Detail  string
	Body    string
}

func (e *VerifyError) Error() string {
	msg := e.Detail
	if e.Body != "" {
		msg += fmt.Sprintf(" (response: %.200s)", e.Body)
	}
	return msg
}
