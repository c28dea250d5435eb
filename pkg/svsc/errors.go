package svsc

import (
	"errors"
	"fmt"
)

// ErrSVSC is the category of every SVSC client error.
var ErrSVSC = errors.New("svsc: error")

// SVSC client errors.
var (
	// ErrWrongMessageForState is returned for a message the client did not
	// expect, such as a response to a request it never sent.
	ErrWrongMessageForState = fmt.Errorf("%w: wrong message for state", ErrSVSC)

	// ErrNoSession is returned when session data is sent without a session.
	ErrNoSession = fmt.Errorf("%w: no session", ErrSVSC)

	// ErrDataTooLarge is returned when a payload does not fit SessionDataSend.
	ErrDataTooLarge = fmt.Errorf("%w: session data too large", ErrSVSC)
)

// WrongMessageError describes a message rejected by the client.
// It matches ErrWrongMessageForState and ErrSVSC.
type WrongMessageError struct {
	State     State
	MessageID uint8
}

func (e *WrongMessageError) Error() string {
	return fmt.Sprintf("svsc: cannot accept message %d in state %s", e.MessageID, e.State)
}

// Is reports ErrWrongMessageForState and ErrSVSC as matches.
func (e *WrongMessageError) Is(target error) bool {
	return target == ErrWrongMessageForState || target == ErrSVSC
}
