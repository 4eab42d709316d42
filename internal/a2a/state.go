package a2a

import "github.com/cleoai/cleo/internal/taskboard"

// cleoToWire maps internal task status to the A2A wire state (spec
// §4.9.3). input-required is an outbound-client-only state; no Cleo status
// maps to it.
var cleoToWire = map[taskboard.Status]string{
	taskboard.StatusPending:   StateSubmitted,
	taskboard.StatusClaimed:   StateWorking,
	taskboard.StatusReview:    StateWorking,
	taskboard.StatusCritique:  StateWorking,
	taskboard.StatusPaused:    StateWorking,
	taskboard.StatusCompleted: StateCompleted,
	taskboard.StatusFailed:    StateFailed,
	taskboard.StatusCancelled: StateCanceled,
	taskboard.StatusBlocked:   StateWorking,
}

// WireState maps a Cleo task's internal status to its A2A wire state.
// An unrecognized status falls back to "submitted" rather than crashing
// the bridge (spec §7's programmer-error policy).
func WireState(s taskboard.Status) string {
	if w, ok := cleoToWire[s]; ok {
		return w
	}
	return StateSubmitted
}

// Terminal reports whether an A2A wire state is terminal (spec §4.9.6's
// sync message/send poll-until-terminal condition).
func Terminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}
