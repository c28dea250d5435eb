package sel

import (
	"errors"
	"fmt"
)

// ErrSEL is the category of every SEL error.
var ErrSEL = errors.New("sel: error")

// SEL errors.
var (
	// ErrWrongMessageForState is returned when a message arrives that the
	// current state does not accept.
	ErrWrongMessageForState = fmt.Errorf("%w: wrong message for state", ErrSEL)

	// ErrNoUnreliableCipher is returned when unreliable traffic arrives
	// before DeriveUnreliable was called.
	ErrNoUnreliableCipher = fmt.Errorf("%w: unreliable channel not derived", ErrSEL)

	// ErrServerRejected is returned when the ServerHello verification fails.
	ErrServerRejected = fmt.Errorf("%w: server rejected", ErrSEL)

	// ErrUnknownPeer is returned by the relay for a peer id without an
	// active session.
	ErrUnknownPeer = fmt.Errorf("%w: unknown peer", ErrSEL)

	// ErrPeerNotReady is returned by the relay while the other session
	// member has not sent any datagram yet.
	ErrPeerNotReady = fmt.Errorf("%w: peer address not known", ErrSEL)

	// ErrRelayFull is returned when a third address claims a session.
	ErrRelayFull = fmt.Errorf("%w: session already has two members", ErrSEL)
)

// WrongMessageError describes a message rejected by the handler.
// It matches ErrWrongMessageForState and ErrSEL.
type WrongMessageError struct {
	State     State
	MessageID uint8
}

func (e *WrongMessageError) Error() string {
	return fmt.Sprintf("sel: cannot accept message %d in state %s", e.MessageID, e.State)
}

// Is reports ErrWrongMessageForState and ErrSEL as matches.
func (e *WrongMessageError) Is(target error) bool {
	return target == ErrWrongMessageForState || target == ErrSEL
}
