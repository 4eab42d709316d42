// Package errs defines the typed error taxonomy shared across Cleo's core
// packages. The source this runtime is modeled on used exceptions for
// control flow (BudgetExceeded, WizardCancelled); Go prefers explicit
// sentinel/wrapped errors so callers can branch with errors.Is/As instead of
// string matching.
package errs

import "errors"

var (
	// ErrNotFound denotes an unknown task, agent, or mapping. TaskBoard
	// operations are idempotent on missing ids (spec §7): they skip the
	// missing id and do not return this error.
	ErrNotFound = errors.New("cleo: not found")

	// ErrInvalidTransition denotes a status change the state machine in
	// spec §4.2.2 does not allow. TaskBoard operations treat such a request
	// as a silent no-op and do not return this error.
	ErrInvalidTransition = errors.New("cleo: invalid state transition")

	// ErrBudgetExceeded is the one exception-shaped condition the spec
	// requires to propagate unconditionally (spec §4.5, §7).
	ErrBudgetExceeded = errors.New("cleo: budget exceeded")

	// ErrBlocked denotes an untrusted peer's message that trips an
	// injection check (spec §4.9.9). The A2A security filter reports a block
	// through InboundValidation.Blocked and does not return this error.
	ErrBlocked = errors.New("cleo: blocked by security filter")

	// ErrLockUnavailable denotes a file lock that could not be acquired at
	// all. filelock's Lock.With does not return it: it logs a loud warning
	// and runs the closure in single-process mode (spec §4.1).
	ErrLockUnavailable = errors.New("cleo: file lock unavailable")
)

// BudgetExceeded carries the accounting detail for an ErrBudgetExceeded
// condition so the gateway and worker loop can report a precise reason.
type BudgetExceeded struct {
	Kind    string // "cost" | "tokens"
	Limit   float64
	Current float64
}

func (e *BudgetExceeded) Error() string {
	return "cleo: budget exceeded (" + e.Kind + ")"
}

func (e *BudgetExceeded) Unwrap() error { return ErrBudgetExceeded }
