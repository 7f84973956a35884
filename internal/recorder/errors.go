package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrLocationUnavailable is returned by Start when the location stream cannot be acquired.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrSourceClosed is reported by a LocationSource whose stream has ended for good.
	ErrSourceClosed = errors.New("location source closed")
	// ErrClosed is returned by operations on a closed Recorder.
	ErrClosed = errors.New("recorder closed")
)

// TransitionError describes a lifecycle call made in a state that forbids it.
type TransitionError struct {
	Op   string
	From Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s while %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
