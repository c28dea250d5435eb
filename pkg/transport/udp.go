package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// MaxDatagramSize is the largest UDP payload.
const MaxDatagramSize = 65507

// DatagramStats counts the traffic of a UDP transport.
type DatagramStats struct {
	Received uint64
	Sent     uint64
	// Dropped counts received datagrams rejected by the filter.
	Dropped uint64
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn, such as a pipe endpoint.
	// If nil, ListenAddr is bound.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":8081"). Ignored if
	// Conn is set.
	ListenAddr string

	// MessageHandler is called on the read loop for each datagram.
	// Required.
	MessageHandler MessageHandler

	// Filter, if set, is applied before MessageHandler. Datagrams it
	// rejects are counted as dropped.
	Filter func(data []byte) bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type udpState int

const (
	udpIdle udpState = iota
	udpRunning
	udpStopped
)

// UDP is the datagram transport. One goroutine reads the PacketConn and
// hands every datagram, copied, to the MessageHandler.
type UDP struct {
	conn    net.PacketConn
	handler MessageHandler
	filter  func([]byte) bool
	log     logging.LeveledLogger

	mu    sync.Mutex
	state udpState
	done  chan struct{}
	wg    sync.WaitGroup

	received, sent, dropped atomic.Uint64
}

// NewUDP creates a UDP transport. The socket is bound immediately; reading
// starts with Start.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}
	u := &UDP{
		conn:    config.Conn,
		handler: config.MessageHandler,
		filter:  config.Filter,
		done:    make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}
	return u, nil
}

// Start begins reading.
func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case udpRunning:
		return ErrAlreadyStarted
	case udpStopped:
		return ErrClosed
	}
	u.state = udpRunning

	if u.log != nil {
		u.log.Infof("reading datagrams on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.serve()
	return nil
}

// Stop closes the socket and waits for the read loop.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.state == udpStopped {
		u.mu.Unlock()
		return ErrClosed
	}
	u.state = udpStopped
	u.mu.Unlock()

	close(u.done)
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()

	if u.log != nil {
		st := u.Stats()
		u.log.Infof("stopped: %d received, %d sent, %d dropped", st.Received, st.Sent, st.Dropped)
	}
	return nil
}

// Send writes data as one datagram to addr.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	u.mu.Lock()
	stopped := u.state == udpStopped
	u.mu.Unlock()
	switch {
	case stopped:
		return ErrClosed
	case addr == nil:
		return ErrInvalidAddress
	case len(data) > MaxDatagramSize:
		return ErrMessageTooLarge
	}

	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("send to %v failed: %v", addr, err)
		}
		return err
	}
	u.sent.Add(1)
	return nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Stats returns the traffic counters.
func (u *UDP) Stats() DatagramStats {
	return DatagramStats{
		Received: u.received.Load(),
		Sent:     u.sent.Load(),
		Dropped:  u.dropped.Load(),
	}
}

func (u *UDP) serve() {
	defer u.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if u.log != nil {
				u.log.Warnf("read failed, closing: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		u.received.Add(1)

		data := append([]byte(nil), buf[:n]...)
		if u.filter != nil && !u.filter(data) {
			u.dropped.Add(1)
			continue
		}
		u.handler(&ReceivedMessage{Data: data, Addr: addr})
	}
}
