package run

import "github.com/tombee/maestro/pkg/errors"

// validTransitions is the run-level state machine. A status maps to the set
// of statuses it may move to.
var validTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusInProgress: {
		StatusInProgress:       {},
		StatusAwaitingApproval: {},
		StatusCompleted:        {},
		StatusFailed:           {},
	},
	StatusAwaitingApproval: {
		StatusInProgress: {},
		StatusFailed:     {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether a run may move from one status to another.
// Self-transitions on non-terminal statuses other than in_progress are
// treated as no-ops and allowed.
func CanTransition(from, to Status) bool {
	if from == to && !from.Terminal() {
		return true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// CheckTransition validates a status change, returning a typed
// StateTransitionError when it is illegal.
func CheckTransition(runID string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &errors.StateTransitionError{
		RunID: runID,
		From:  string(from),
		To:    string(to),
	}
}
