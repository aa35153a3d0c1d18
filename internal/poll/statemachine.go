package poll

import "fmt"

// TransitionError reports a state-machine guard failure: the lifecycle
// service attempted a transition the current Status doesn't allow.
type TransitionError struct {
	From      Status
	Operation string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s poll in status %q", e.Operation, e.From)
}

// CanOpen reports whether open() is legal from status for the given reason.
// reason is one of "scheduled", "manual", "immediate", "reopen", "recovery".
func CanOpen(status Status, reason string) (alreadyActive bool, err error) {
	switch status {
	case StatusScheduled:
		return false, nil
	case StatusActive:
		if reason == "recovery" || reason == "manual" {
			return true, nil
		}
		return true, nil
	case StatusClosed:
		if reason == "reopen" || reason == "manual" {
			return false, nil
		}
		return false, &TransitionError{From: status, Operation: "open"}
	default:
		return false, &TransitionError{From: status, Operation: "open"}
	}
}

// CanClose reports whether close() is legal from status. Closing an
// already-closed poll is idempotent, not an error.
func CanClose(status Status) (alreadyClosed bool, err error) {
	switch status {
	case StatusActive:
		return false, nil
	case StatusClosed:
		return true, nil
	default:
		return false, &TransitionError{From: status, Operation: "close"}
	}
}

// CanReopen reports whether reopen() is legal: status must be closed and a
// message must already exist (reopening never posts a new message).
func CanReopen(status Status, hasMessage bool) error {
	if status != StatusClosed {
		return &TransitionError{From: status, Operation: "reopen"}
	}
	if !hasMessage {
		return fmt.Errorf("cannot reopen a poll with no existing message")
	}
	return nil
}

// CanDelete reports whether delete() is legal: only scheduled or closed
// polls may be deleted, never an active one (it must be closed first).
func CanDelete(status Status) error {
	if status != StatusScheduled && status != StatusClosed {
		return &TransitionError{From: status, Operation: "delete"}
	}
	return nil
}
