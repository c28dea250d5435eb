// Package server runs the rendezvous server: the session broker behind
// the reliable SEL leg over TCP, and the unreliable relay over UDP.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/screenview/pkg/broker"
	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	"github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/transport"
)

// Defaults.
const (
	// DefaultSweepInterval is how often leases and connections are checked.
	DefaultSweepInterval = 5 * time.Second

	// DefaultHelloTimeout bounds the time between connect and PeerHello.
	DefaultHelloTimeout = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// TCPAddr is the reliable listen address. Ignored if TCPListener is set.
	TCPAddr string

	// TCPListener is an optional pre-existing listener.
	TCPListener net.Listener

	// UDPAddr is the unreliable listen address. Ignored if UDPConn is set.
	UDPAddr string

	// UDPConn is an optional pre-existing packet connection.
	UDPConn net.PacketConn

	// Hello is sent in answer to every PeerHello. Defaults to an empty
	// ServerHello; the reliable leg is expected to run inside TLS.
	Hello *selproto.ServerHello

	// Broker configures the session broker. Its clock also times the
	// hello deadline.
	Broker broker.Config

	// HelloTimeout is how long a connection may stay without PeerHello
	// before a sweep closes it. Default: DefaultHelloTimeout.
	HelloTimeout time.Duration

	// SweepInterval is the period of lease expiry and keepalive checks.
	// Default: DefaultSweepInterval.
	SweepInterval time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// peerConn is the server's view of one TCP connection.
type peerConn struct {
	conn      *transport.Conn
	hello     bool
	connected time.Time
}

// Server is the rendezvous server.
type Server struct {
	config Config
	log    logging.LeveledLogger
	broker *broker.Broker
	relay  *sel.Relay
	tcp    *transport.TCP
	udp    *transport.UDP

	mu    sync.Mutex
	conns map[transport.ConnID]*peerConn

	closeCh chan struct{}
	wg      sync.WaitGroup
}

var _ sel.SessionLookup = (*broker.Broker)(nil)

// New creates a server. It binds its sockets but does not serve until Start.
func New(config Config) (*Server, error) {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.HelloTimeout <= 0 {
		config.HelloTimeout = DefaultHelloTimeout
	}
	if config.Hello == nil {
		config.Hello = &selproto.ServerHello{}
	}
	if config.Broker.LoggerFactory == nil {
		config.Broker.LoggerFactory = config.LoggerFactory
	}

	s := &Server{
		config:  config,
		conns:   make(map[transport.ConnID]*peerConn),
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("server")
	}
	s.broker = broker.New(config.Broker)
	s.relay = sel.NewRelay(sel.RelayConfig{
		Sessions:      s.broker,
		LoggerFactory: config.LoggerFactory,
	})

	tcp, err := transport.NewTCP(transport.TCPConfig{
		Listener:       config.TCPListener,
		ListenAddr:     config.TCPAddr,
		MessageHandler: s.onReliable,
		OnConnect:      s.onConnect,
		OnDisconnect:   s.onDisconnect,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           config.UDPConn,
		ListenAddr:     config.UDPAddr,
		MessageHandler: s.onUnreliable,
		Filter:         isPeerDatagram,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		tcp.Stop()
		return nil, err
	}
	s.tcp = tcp
	s.udp = udp
	return s, nil
}

// Start serves both transports and begins sweeping.
func (s *Server) Start() error {
	if err := s.tcp.Start(); err != nil {
		return err
	}
	if err := s.udp.Start(); err != nil {
		s.tcp.Stop()
		return err
	}

	s.wg.Add(1)
	go s.sweepLoop()

	if s.log != nil {
		s.log.Infof("serving reliable on %s, unreliable on %s", s.tcp.LocalAddr(), s.udp.LocalAddr())
	}
	return nil
}

// Stop closes both transports and waits for the sweeper.
func (s *Server) Stop() error {
	select {
	case <-s.closeCh:
		return transport.ErrClosed
	default:
	}
	close(s.closeCh)
	s.wg.Wait()

	err := s.tcp.Stop()
	if uerr := s.udp.Stop(); err == nil {
		err = uerr
	}
	return err
}

// TCPAddr returns the reliable listen address.
func (s *Server) TCPAddr() net.Addr {
	return s.tcp.LocalAddr()
}

// UDPAddr returns the unreliable listen address.
func (s *Server) UDPAddr() net.Addr {
	return s.udp.LocalAddr()
}

// Broker returns the session broker.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

func (s *Server) onConnect(c *transport.Conn) {
	s.mu.Lock()
	s.conns[c.ID()] = &peerConn{conn: c, connected: s.now()}
	s.mu.Unlock()
}

func (s *Server) now() time.Time {
	if s.config.Broker.Now != nil {
		return s.config.Broker.Now()
	}
	return time.Now()
}

func (s *Server) onDisconnect(c *transport.Conn) {
	s.mu.Lock()
	pc := s.conns[c.ID()]
	delete(s.conns, c.ID())
	s.mu.Unlock()

	if pc != nil && pc.hello {
		s.deliver(s.broker.Detach(broker.ConnID(c.ID())))
	}
}

// onReliable handles one SEL frame from a peer.
func (s *Server) onReliable(msg *transport.ReceivedMessage) {
	s.mu.Lock()
	pc := s.conns[msg.Conn.ID()]
	s.mu.Unlock()
	if pc == nil {
		return
	}

	err := s.handleReliable(pc, msg.Data)
	switch {
	case err == nil:
	case isFatal(err):
		if s.log != nil {
			s.log.Infof("closing connection %d from %s: %v", msg.Conn.ID(), msg.Addr, err)
		}
		msg.Conn.Close()
	default:
		if s.log != nil {
			s.log.Debugf("connection %d: %v", msg.Conn.ID(), err)
		}
	}
}

// handleReliable processes one frame. Errors that isFatal accepts end
// the connection; the rest only drop the frame.
func (s *Server) handleReliable(pc *peerConn, frame []byte) error {
	m, err := selproto.Decode(frame)
	if err != nil {
		return err
	}
	id := broker.ConnID(pc.conn.ID())

	if !pc.hello {
		if _, ok := m.(*selproto.PeerHello); !ok {
			return &sel.WrongMessageError{State: sel.StateHandshake, MessageID: m.MessageID()}
		}
		b, err := selproto.Encode(s.config.Hello)
		if err != nil {
			return err
		}
		if err := pc.conn.Send(b); err != nil {
			return errSendFailed{err}
		}
		out, err := s.broker.Attach(id)
		if err != nil {
			return err
		}
		s.mu.Lock()
		pc.hello = true
		s.mu.Unlock()
		s.deliver(out)
		return nil
	}

	rel, ok := m.(*selproto.TransportDataMessageReliable)
	if !ok {
		return &sel.WrongMessageError{State: sel.StateData, MessageID: m.MessageID()}
	}
	inner, err := svsc.Decode(rel.Data)
	if err != nil {
		return err
	}
	out, err := s.broker.Handle(id, inner)
	s.deliver(out)
	return err
}

type errSendFailed struct{ err error }

func (e errSendFailed) Error() string { return "server: send: " + e.err.Error() }
func (e errSendFailed) Unwrap() error { return e.err }

// isFatal reports whether err is a protocol violation that ends the
// connection. Broker refusals and undecodable frames are not.
func isFatal(err error) bool {
	var sendErr errSendFailed
	return errors.Is(err, broker.ErrWrongMessageForState) ||
		errors.Is(err, broker.ErrVersionMismatch) ||
		errors.Is(err, broker.ErrUnknownConnection) ||
		errors.Is(err, broker.ErrConnectionExists) ||
		errors.Is(err, sel.ErrWrongMessageForState) ||
		errors.As(err, &sendErr)
}

// isPeerDatagram reports whether data can be a peer-addressed SEL message.
// Only those are relayed.
func isPeerDatagram(data []byte) bool {
	return len(data) > 0 && data[0] == selproto.IDTransportDataPeerMessageUnreliable
}

// onUnreliable relays one datagram between session members.
func (s *Server) onUnreliable(msg *transport.ReceivedMessage) {
	m, err := selproto.Decode(msg.Data)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("dropping datagram from %s: %v", msg.Addr, err)
		}
		return
	}
	pm, ok := m.(*selproto.TransportDataPeerMessageUnreliable)
	if !ok {
		if s.log != nil {
			s.log.Debugf("dropping message %d from %s", m.MessageID(), msg.Addr)
		}
		return
	}

	out, to, err := s.relay.Route(pm, msg.Addr)
	if err != nil {
		if s.log != nil && !errors.Is(err, sel.ErrPeerNotReady) {
			s.log.Debugf("dropping datagram from %s: %v", msg.Addr, err)
		}
		return
	}
	b, err := selproto.Encode(out)
	if err != nil {
		return
	}
	s.udp.Send(b, to)
}

// deliver wraps broker output in SEL frames and writes them.
func (s *Server) deliver(out []broker.Outgoing) {
	for _, o := range out {
		data, err := svsc.Encode(o.Message)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("encode %T: %v", o.Message, err)
			}
			continue
		}
		b, err := selproto.Encode(sel.WrapReliable(data))
		if err != nil {
			if s.log != nil {
				s.log.Warnf("connection %d: %v", o.Conn, err)
			}
			continue
		}
		if err := s.tcp.Send(transport.ConnID(o.Conn), b); err != nil && s.log != nil {
			s.log.Debugf("send to connection %d: %v", o.Conn, err)
		}
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one broker sweep and applies its result.
func (s *Server) sweep() {
	res := s.broker.Sweep()
	s.deliver(res.Outgoing)
	for _, id := range res.Dead {
		if c := s.tcp.Conn(transport.ConnID(id)); c != nil {
			if s.log != nil {
				s.log.Infof("connection %d timed out", id)
			}
			c.Close()
		}
	}
	s.closeSilent()
	if n := s.relay.Prune(); n > 0 && s.log != nil {
		s.log.Debugf("pruned %d relay entries", n)
	}
	if res.ExpiredLeases > 0 && s.log != nil {
		s.log.Debugf("expired %d leases", res.ExpiredLeases)
	}
}

// closeSilent closes connections that never said hello within
// HelloTimeout. The broker does not know them, so its sweep cannot.
func (s *Server) closeSilent() {
	now := s.now()
	var stale []*transport.Conn
	s.mu.Lock()
	for _, pc := range s.conns {
		if !pc.hello && now.Sub(pc.connected) >= s.config.HelloTimeout {
			stale = append(stale, pc.conn)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		if s.log != nil {
			s.log.Infof("connection %d sent no hello, closing", c.ID())
		}
		c.Close()
	}
}
