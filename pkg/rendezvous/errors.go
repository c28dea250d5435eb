package rendezvous

import (
	"errors"
	"fmt"

	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
)

// Rendezvous client errors.
var (
	ErrClosed          = errors.New("rendezvous: client closed")
	ErrVersionMismatch = errors.New("rendezvous: server protocol version not supported")
	ErrLeaseRejected   = errors.New("rendezvous: lease rejected")
	ErrSessionClosed   = errors.New("rendezvous: session closed")
)

// SessionRejectedError is returned by Connect when the broker refuses the
// session.
type SessionRejectedError struct {
	Lease  svscproto.LeaseID
	Status svscproto.Status
}

func (e *SessionRejectedError) Error() string {
	return fmt.Sprintf("rendezvous: session with lease %d rejected: %s", e.Lease, e.Status)
}

// timeoutError is returned by SessionConn operations past their deadline.
type timeoutError struct{}

func (timeoutError) Error() string   { return "rendezvous: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
