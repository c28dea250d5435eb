package peer

import "errors"

// Direct connection errors.
var (
	// ErrVersionMismatch is returned when the client does not accept the
	// host's RVD protocol version.
	ErrVersionMismatch = errors.New("peer: protocol version mismatch")

	// ErrNoPassword is returned when the host asks for a password and no
	// PasswordFunc is configured.
	ErrNoPassword = errors.New("peer: no password source configured")

	// ErrNoScheme is returned when the host offers no scheme the client can use.
	ErrNoScheme = errors.New("peer: no usable auth scheme offered")

	// ErrUnexpectedMessage is returned when an RVD message arrives out of order.
	ErrUnexpectedMessage = errors.New("peer: unexpected message")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("peer: closed")
)
