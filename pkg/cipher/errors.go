package cipher

import (
	"errors"
	"fmt"
)

// ErrCipher is the category of every error returned by a cipher.
var ErrCipher = errors.New("cipher: error")

// Cipher errors.
var (
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = fmt.Errorf("%w: decryption failed", ErrCipher)

	// ErrMaximumNonceExceeded is returned once a direction has used every nonce.
	ErrMaximumNonceExceeded = fmt.Errorf("%w: maximum nonce exceeded", ErrCipher)

	// ErrMessageTooOld is returned for a counter that was already seen or
	// fell behind the replay window.
	ErrMessageTooOld = fmt.Errorf("%w: message too old", ErrCipher)

	// ErrClosed is returned by an unreliable cipher after Close.
	ErrClosed = fmt.Errorf("%w: closed", ErrCipher)
)

// Direction identifies which half of a cipher an error refers to.
type Direction int

const (
	// DirectionSend is the encrypting half.
	DirectionSend Direction = iota
	// DirectionReceive is the decrypting half.
	DirectionReceive
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionReceive:
		return "receive"
	default:
		return fmt.Sprintf("Direction(%d)", d)
	}
}

// NonceError reports nonce exhaustion in one direction. It matches
// ErrMaximumNonceExceeded and ErrCipher.
type NonceError struct {
	Direction Direction
}

func (e *NonceError) Error() string {
	return fmt.Sprintf("cipher: maximum nonce exceeded (%s)", e.Direction)
}

// Is reports ErrMaximumNonceExceeded and ErrCipher as matches.
func (e *NonceError) Is(target error) bool {
	return target == ErrMaximumNonceExceeded || target == ErrCipher
}

func tooOld(counter uint64) error {
	return fmt.Errorf("%w: counter %d", ErrMessageTooOld, counter)
}
