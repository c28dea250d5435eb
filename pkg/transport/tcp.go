package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

// TCP accepts framed stream connections and runs one read loop per
// connection. Every frame is delivered to the MessageHandler.
type TCP struct {
	listener     net.Listener
	handler      MessageHandler
	onConnect    ConnHandler
	onDisconnect ConnHandler
	closeCh      chan struct{}
	wg           sync.WaitGroup
	log          logging.LeveledLogger
	nextID       atomic.Uint64

	// Connection tracking
	connsMu sync.RWMutex
	conns   map[ConnID]*Conn

	mu      sync.RWMutex
	started bool
	closed  bool
}

// TCPConfig configures the TCP transport.
type TCPConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":8080").
	// Ignored if Listener is provided.
	ListenAddr string

	// MessageHandler is called for each received frame.
	// Required.
	MessageHandler MessageHandler

	// OnConnect is called before the first frame of a connection is read.
	OnConnect ConnHandler

	// OnDisconnect is called once the connection's read loop exits.
	OnDisconnect ConnHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewTCP creates a new TCP transport with the given configuration.
func NewTCP(config TCPConfig) (*TCP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}

	t := &TCP{
		listener:     config.Listener,
		handler:      config.MessageHandler,
		onConnect:    config.OnConnect,
		onDisconnect: config.OnDisconnect,
		closeCh:      make(chan struct{}),
		conns:        make(map[ConnID]*Conn),
	}

	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("transport-tcp")
	}

	if t.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0" // Use ephemeral port
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		t.listener = listener
	}

	return t, nil
}

// Start begins accepting connections.
func (t *TCP) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infof("starting TCP transport on %s", t.listener.Addr())
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

// Stop closes the listener and all connections and waits for the read
// loops to exit.
func (t *TCP) Stop() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	t.mu.Unlock()

	if t.log != nil {
		t.log.Info("stopping TCP transport")
	}

	close(t.closeCh)
	t.listener.Close()

	t.connsMu.RLock()
	for _, c := range t.conns {
		c.Close()
	}
	t.connsMu.RUnlock()

	t.wg.Wait()
	return nil
}

// Send writes msg to connection id.
func (t *TCP) Send(id ConnID, msg []byte) error {
	c := t.Conn(id)
	if c == nil {
		return ErrInvalidAddress
	}
	return c.Send(msg)
}

// Conn returns the connection with the given id, or nil.
func (t *TCP) Conn(id ConnID) *Conn {
	t.connsMu.RLock()
	defer t.connsMu.RUnlock()
	return t.conns[id]
}

// Len returns the number of open connections.
func (t *TCP) Len() int {
	t.connsMu.RLock()
	defer t.connsMu.RUnlock()
	return len(t.conns)
}

// LocalAddr returns the local address the transport is listening on.
func (t *TCP) LocalAddr() net.Addr {
	return t.listener.Addr()
}

// Dial opens an outbound connection and serves it like an accepted one.
func (t *TCP) Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return t.AddConnection(conn)
}

// AddConnection serves an existing connection. This is useful for
// testing with in-memory pipes.
func (t *TCP) AddConnection(conn net.Conn) (*Conn, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		conn.Close()
		return nil, ErrClosed
	}

	c := NewConn(ConnID(t.nextID.Add(1)), conn)
	t.connsMu.Lock()
	t.conns[c.id] = c
	t.connsMu.Unlock()

	if t.onConnect != nil {
		t.onConnect(c)
	}

	t.wg.Add(1)
	go t.serve(c)
	return c, nil
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		if t.log != nil {
			t.log.Debugf("accepted connection from %s", conn.RemoteAddr())
		}
		if _, err := t.AddConnection(conn); err != nil {
			return
		}
	}
}

// serve reads frames until the connection fails.
func (t *TCP) serve(c *Conn) {
	defer t.wg.Done()
	defer func() {
		c.Close()
		t.connsMu.Lock()
		delete(t.conns, c.id)
		t.connsMu.Unlock()
		if t.onDisconnect != nil {
			t.onDisconnect(c)
		}
	}()

	for {
		data, err := c.Receive()
		if err != nil {
			select {
			case <-t.closeCh:
			default:
				if !errors.Is(err, io.EOF) && t.log != nil {
					t.log.Debugf("connection %d: %v", c.id, err)
				}
			}
			return
		}

		t.handler(&ReceivedMessage{
			Data: data,
			Conn: c,
			Addr: c.RemoteAddr(),
		})
	}
}
