package signer

import "errors"

// State of the browser session as seen by the coordinator
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateReady         State = "Ready"
	StateDegraded      State = "Degraded"
	StateRepairing     State = "Repairing"
	StateFailed        State = "Failed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// canTransition encodes the session state machine. Any state may return to
// Uninitialized when the coordinator is closed.
func canTransition(current, next State) bool {
	if next == StateUninitialized {
		return true
	}
	switch current {
	case StateUninitialized:
		return next == StateReady || next == StateFailed
	case StateReady:
		return next == StateDegraded
	case StateDegraded:
		return next == StateReady || next == StateRepairing
	case StateRepairing:
		return next == StateReady || next == StateFailed
	case StateFailed:
		// self-healing: the next request re-initializes
		return next == StateReady
	default:
		return false
	}
}
