package signer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identity is the caller-supplied credential set applied as cookies before
// a signing call. Empty fields mean "not supplied".
type Identity struct {
	A1         string
	WebSession string
	WebID      string
}

// Request describes the API call to sign
type Request struct {
	ID       string
	URI      string
	Data     any
	Identity Identity
}

// Result is produced fresh for every request and never cached
type Result struct {
	Signature string
	Timestamp int64
}

// Session is the capability the coordinator drives. Implementations are not
// safe for concurrent use; the coordinator serialises every call.
type Session interface {
	// Initialize launches the browser if needed, loads the origin, installs
	// the init script and applies the identity.
	Initialize(ctx context.Context, id Identity) error
	// ApplyIdentity replaces the identity cookies without navigating.
	ApplyIdentity(ctx context.Context, id Identity) error
	// Sign evaluates the in-page signing function.
	Sign(ctx context.Context, req Request) (Result, error)
	// Dispose terminates the browser. It is safe to call repeatedly.
	Dispose() error
	// A1 returns the a1 cookie currently in effect.
	A1() string
	// NativeA1 returns the a1 cookie the browser generated for itself.
	NativeA1() string
}

// ErrorKind distinguishes session failures so the coordinator can choose a repair
type ErrorKind string

const (
	KindPageDead        ErrorKind = "PageDead"
	KindScriptMissing   ErrorKind = "ScriptMissing"
	KindEvaluationThrew ErrorKind = "EvaluationThrew"
	KindTimeout         ErrorKind = "Timeout"
	KindProvision       ErrorKind = "ProvisionFailed"
	KindLaunch          ErrorKind = "LaunchFailed"
)

// SessionError is an operation-level failure reported by a Session
type SessionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError wraps err with a kind
func NewSessionError(kind ErrorKind, op string, err error) *SessionError {
	return &SessionError{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error returned by a Session. Deadline errors are
// timeouts; anything unclassified is treated as a dead page.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindPageDead
}

// Code identifies the caller-visible failure
type Code string

const (
	CodeRetriesExhausted Code = "RetriesExhausted"
	CodeNotReady         Code = "NotReady"
)

// ErrClosed is wrapped by NotReady errors once the coordinator has shut down
var ErrClosed = errors.New("coordinator closed")

// SigningError is the only error type that crosses the coordinator boundary
type SigningError struct {
	Code     Code
	LastKind ErrorKind
	Attempts int
	Err      error
}

func (e *SigningError) Error() string {
	switch e.Code {
	case CodeRetriesExhausted:
		return fmt.Sprintf("signing failed after %d attempts (last: %s): %v", e.Attempts, e.LastKind, e.Err)
	default:
		return fmt.Sprintf("signer not ready: %v", e.Err)
	}
}

func (e *SigningError) Unwrap() error { return e.Err }

// Snapshot is an immutable view of coordinator state. A new value is
// published on every transition.
type Snapshot struct {
	State State
	// A1 is the caller-supplied value in effect and must not be shown to
	// other callers
	A1 string
	// NativeA1 is the a1 the browser generated itself
	NativeA1  string
	LastKind  ErrorKind
	StartedAt time.Time
	UpdatedAt time.Time
}

// Ready reports whether signing calls are expected to succeed
func (s Snapshot) Ready() bool {
	return s.State == StateReady
}
