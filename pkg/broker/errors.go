package broker

import (
	"errors"
	"fmt"
)

// ErrBroker is the category of every broker error. Broker errors are
// reported to the caller but are never a reason to drop a connection,
// except ErrVersionMismatch.
var ErrBroker = errors.New("broker: error")

// Broker errors.
var (
	// ErrUnknownConnection is returned for a connection that was never
	// attached or was already detached.
	ErrUnknownConnection = fmt.Errorf("%w: unknown connection", ErrBroker)

	// ErrConnectionExists is returned when a connection id is attached
	// twice or is zero.
	ErrConnectionExists = fmt.Errorf("%w: connection already attached", ErrBroker)

	// ErrVersionMismatch is returned when the peer refuses the protocol
	// version. The connection should be closed.
	ErrVersionMismatch = fmt.Errorf("%w: protocol version refused", ErrBroker)

	// ErrWrongMessageForState is returned for a message the connection
	// may not send in its current state.
	ErrWrongMessageForState = fmt.Errorf("%w: wrong message for state", ErrBroker)

	// ErrNotInSession is returned for session traffic outside a session.
	ErrNotInSession = fmt.Errorf("%w: not in a session", ErrBroker)

	// ErrLeaseIDExhausted is returned when no free lease id could be drawn.
	ErrLeaseIDExhausted = fmt.Errorf("%w: no free lease id", ErrBroker)
)

// WrongMessageError describes a message rejected for a connection.
// It matches ErrWrongMessageForState and ErrBroker.
type WrongMessageError struct {
	Conn      ConnID
	MessageID uint8
}

func (e *WrongMessageError) Error() string {
	return fmt.Sprintf("broker: connection %d cannot send message %d now", e.Conn, e.MessageID)
}

// Is reports ErrWrongMessageForState and ErrBroker as matches.
func (e *WrongMessageError) Is(target error) bool {
	return target == ErrWrongMessageForState || target == ErrBroker
}
