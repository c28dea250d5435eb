package rendezvous

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/transport/v3/deadline"

	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/svsc"
	"github.com/backkem/screenview/pkg/transport"
)

// SessionAddr is the address of a brokered session.
type SessionAddr struct {
	SessionID svscproto.SessionID
}

// Network returns "screenview".
func (a SessionAddr) Network() string { return "screenview" }

// String returns the session id.
func (a SessionAddr) String() string { return uuid.UUID(a.SessionID).String() }

// SessionConn is a brokered session seen as a byte stream. Every Write is
// relayed as SessionDataSend; Read returns the bytes of SessionDataReceive
// messages in order.
type SessionConn struct {
	client    *Client
	data      svscproto.SessionData
	initiator bool

	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	readMu  sync.Mutex
	pending []byte

	readDeadline  *deadline.Deadline
	writeDeadline *deadline.Deadline
}

const (
	// sessionBacklog is the number of received chunks buffered per session.
	sessionBacklog = 64

	// MaxChunk is the most session data one Write sends per message. A
	// SessionDataSend adds its identifier and a 3-byte length to the
	// data and must fit one stream frame.
	MaxChunk = transport.MaxFrameBody - 4
)

func newSessionConn(c *Client, s svsc.Session) *SessionConn {
	return &SessionConn{
		client:        c,
		data:          s.Data,
		initiator:     s.Initiator,
		incoming:      make(chan []byte, sessionBacklog),
		closed:        make(chan struct{}),
		readDeadline:  deadline.New(),
		writeDeadline: deadline.New(),
	}
}

// Data returns the session data handed out by the broker.
func (s *SessionConn) Data() svscproto.SessionData {
	return s.data
}

// Initiator reports whether this side requested the session.
func (s *SessionConn) Initiator() bool {
	return s.initiator
}

// deliver queues data from the peer. The read loop blocks while the
// reader is behind.
func (s *SessionConn) deliver(data []byte) {
	select {
	case s.incoming <- data:
	case <-s.closed:
	}
}

// closeRemote marks the session as ended by the peer or the server.
func (s *SessionConn) closeRemote() {
	s.once.Do(func() { close(s.closed) })
}

// Read reads session data.
func (s *SessionConn) Read(b []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.pending) == 0 {
		select {
		case p := <-s.incoming:
			s.pending = p
		default:
			select {
			case p := <-s.incoming:
				s.pending = p
			case <-s.closed:
				// Data queued before the end is still returned.
				select {
				case p := <-s.incoming:
					s.pending = p
				default:
					return 0, io.EOF
				}
			case <-s.readDeadline.Done():
				return 0, timeoutError{}
			}
		}
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write relays b to the peer, split into session data messages.
func (s *SessionConn) Write(b []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	case <-s.writeDeadline.Done():
		return 0, timeoutError{}
	default:
	}

	n := 0
	for n < len(b) {
		end := min(len(b), n+MaxChunk)
		if err := s.client.sendData(s, b[n:end]); err != nil {
			return n, err
		}
		n = end
	}
	return n, nil
}

// Close ends the session. The peer reads io.EOF.
func (s *SessionConn) Close() error {
	s.client.endSession(s)
	s.closeRemote()
	return nil
}

// LocalAddr returns the session address.
func (s *SessionConn) LocalAddr() net.Addr {
	return SessionAddr{SessionID: s.data.SessionID}
}

// RemoteAddr returns the session address.
func (s *SessionConn) RemoteAddr() net.Addr {
	return SessionAddr{SessionID: s.data.SessionID}
}

// SetDeadline sets the read and write deadlines.
func (s *SessionConn) SetDeadline(t time.Time) error {
	s.readDeadline.Set(t)
	s.writeDeadline.Set(t)
	return nil
}

// SetReadDeadline sets the read deadline.
func (s *SessionConn) SetReadDeadline(t time.Time) error {
	s.readDeadline.Set(t)
	return nil
}

// SetWriteDeadline sets the write deadline.
func (s *SessionConn) SetWriteDeadline(t time.Time) error {
	s.writeDeadline.Set(t)
	return nil
}

var _ net.Conn = (*SessionConn)(nil)
