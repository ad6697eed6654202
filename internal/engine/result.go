package engine

import (
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/match"
)

// Outcome is the terminal verdict of one authentication session. The
// zero value is Error so an unset Result fails safe.
type Outcome int

const (
	Error Outcome = iota
	Allow
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "error"
	}
}

// DenyReason records why a session was denied. Reasons exist for
// diagnostics and audit only; every Deny maps to the same exit code.
type DenyReason string

const (
	DenyInsufficientMatches DenyReason = "insufficient_matches"
	DenyTimeout             DenyReason = "timeout"
	DenyNoFace              DenyReason = "no_face"
	DenyLockedOut           DenyReason = "locked_out"
	DenyUserNotEnrolled     DenyReason = "user_not_enrolled"
)

// ErrorKind records why a session ended in Error.
type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport"
	ErrorInternal  ErrorKind = "internal"
)

// AttemptState is the per-attempt protocol state machine.
type AttemptState int

const (
	StateIdle AttemptState = iota
	StateChallengeIssued
	StateAwaitingResponse
	StateVerified
	StateRejected
	StateTimedOut
)

func (s AttemptState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// AttemptRecord captures everything one attempt did, for audit and the
// verbose test command.
type AttemptRecord struct {
	Number            int
	State             AttemptState
	Score             float64
	Quality           float32
	Matched           bool
	NoFace            bool
	SecurityViolation bool
	Reason            string
	Comparisons       []match.Comparison
}

// Result is the terminal outcome of Authenticate.
type Result struct {
	SessionID  string
	Username   string
	Outcome    Outcome
	DenyReason DenyReason
	ErrorKind  ErrorKind
	Attempts   []AttemptRecord
	Successes  int
	BestScore  float64
	Threshold  float64
	Elapsed    time.Duration
}

// Exit codes toward the host stack.
const (
	ExitAllow = 0
	ExitDeny  = 1
	ExitError = 2
)

// ExitCode maps the outcome onto the three-value exit contract. All
// Deny reasons and all Error kinds collapse so callers learn nothing
// beyond "fail, try the next factor".
func (r Result) ExitCode() int {
	switch r.Outcome {
	case Allow:
		return ExitAllow
	case Deny:
		return ExitDeny
	default:
		return ExitError
	}
}
