// Package peer runs direct connections between a host and a client: the
// WPSKKA handshake over a framed stream followed by the RVD version check
// and encrypted application data.
package peer

import (
	"net"
	"sync"

	"github.com/backkem/screenview/pkg/handshake"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/transport"
	"github.com/backkem/screenview/pkg/wire"
)

// Session is an authenticated connection between two peers.
type Session struct {
	conn  *transport.Conn
	hs    handshake.Handler
	layer sel.Layer

	mu     sync.Mutex
	closed bool
}

func newSession(conn *transport.Conn, hs handshake.Handler, layer sel.Layer) *Session {
	if layer == nil {
		layer = sel.Direct{}
	}
	return &Session{
		conn:  conn,
		hs:    hs,
		layer: layer,
	}
}

// RemoteAddr returns the address of the other peer.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// State returns the handshake state.
func (s *Session) State() handshake.State {
	return s.hs.State()
}

// Send encrypts payload and writes it to the reliable channel.
func (s *Session) Send(payload []byte) error {
	m, err := s.hs.WrapReliable(payload)
	if err != nil {
		return err
	}
	return s.send(m)
}

// Close discards the session keys and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.hs.Close()
	return s.conn.Close()
}

// send encodes one WPSKKA message and writes it through the layer.
func (s *Session) send(m wire.Message) error {
	b, err := wpskka.Encode(m)
	if err != nil {
		return err
	}
	frame, err := s.layer.Seal(b)
	if err != nil {
		return err
	}
	return s.conn.Send(frame)
}

func (s *Session) sendAll(msgs []wire.Message) error {
	for _, m := range msgs {
		if err := s.send(m); err != nil {
			return err
		}
	}
	return nil
}

// open unwraps one frame and decodes the WPSKKA message inside.
func (s *Session) open(frame []byte) (wire.Message, error) {
	b, err := s.layer.Open(frame)
	if err != nil {
		return nil, err
	}
	return wpskka.Decode(b)
}

// handle feeds one frame to the handshake and sends its replies. Replies
// are sent even when Handle fails so a rejection reaches the peer.
func (s *Session) handle(frame []byte) (*handshake.Result, error) {
	m, err := s.open(frame)
	if err != nil {
		return nil, err
	}
	res, err := s.hs.Handle(m)
	if res != nil {
		if serr := s.sendAll(res.Outgoing); serr != nil && err == nil {
			err = serr
		}
	}
	return res, err
}
