package session

import (
	"errors"
	"fmt"
)

// ErrAlreadyAttached is returned by Attach when a different sink is bound.
// It is an ordering error in the caller; session state is unchanged.
var ErrAlreadyAttached = errors.New("session: already attached to a different sink")

// ErrDestroyed is returned by any operation on a destroyed session.
var ErrDestroyed = errors.New("session: destroyed")

// StreamError reports a persistent decode or network failure for one camera,
// surfaced only after the automatic recovery attempt and the grace window
// have both failed. It affects no other session.
type StreamError struct {
	CameraID string
	Cause    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error on camera %s: %v", e.CameraID, e.Cause)
}

func (e *StreamError) Unwrap() error { return e.Cause }
