package handshake

import (
	"errors"
	"fmt"
)

// ErrHandshake is the category of every handshake error.
var ErrHandshake = errors.New("handshake: error")

// Handshake errors.
var (
	// ErrWrongMessageForState is returned when a message arrives that the
	// current state does not accept. The handshake fails.
	ErrWrongMessageForState = fmt.Errorf("%w: wrong message for state", ErrHandshake)

	// ErrAuthFailed is returned when authentication of the peer fails.
	ErrAuthFailed = fmt.Errorf("%w: authentication failed", ErrHandshake)

	// ErrSchemeNotOffered is returned when the client tries a scheme the
	// host did not offer.
	ErrSchemeNotOffered = fmt.Errorf("%w: auth scheme not offered", ErrHandshake)

	// ErrUnsupportedScheme is returned for a scheme this implementation cannot run.
	ErrUnsupportedScheme = fmt.Errorf("%w: auth scheme not supported", ErrHandshake)

	// ErrNotEstablished is returned when data is wrapped before the handshake completed.
	ErrNotEstablished = fmt.Errorf("%w: not established", ErrHandshake)

	// ErrNoPasswordPending is returned by ProcessPassword when no password was requested.
	ErrNoPasswordPending = fmt.Errorf("%w: no password requested", ErrHandshake)

	// ErrMessageTooLarge is returned when a plaintext does not fit a transport message.
	ErrMessageTooLarge = fmt.Errorf("%w: message too large", ErrHandshake)
)

// WrongMessageError describes a message rejected by the state machine.
// It matches ErrWrongMessageForState and ErrHandshake.
type WrongMessageError struct {
	Role      Role
	State     State
	MessageID uint8
}

func (e *WrongMessageError) Error() string {
	return fmt.Sprintf("handshake: %s cannot accept message %d in state %s", e.Role, e.MessageID, e.State)
}

// Is reports ErrWrongMessageForState and ErrHandshake as matches.
func (e *WrongMessageError) Is(target error) bool {
	return target == ErrWrongMessageForState || target == ErrHandshake
}
