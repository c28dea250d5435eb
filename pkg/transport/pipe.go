package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// LinkConditions impairs datagrams written to a Pipe. Each value is a
// probability between 0 and 1. Streams are never impaired.
type LinkConditions struct {
	// Loss drops the datagram.
	Loss float64

	// Duplicate delivers the datagram twice.
	Duplicate float64

	// Reorder holds the datagram back until the next one in the same
	// direction has been sent.
	Reorder float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// Manual disables background delivery. Queued datagrams then move only
	// on Deliver.
	Manual bool

	// Interval is the background delivery period. Default: 1ms.
	Interval time.Duration

	// Conditions are the initial link conditions.
	Conditions LinkConditions

	// Seed seeds the impairment decisions. Zero uses the current time.
	Seed int64
}

// Pipe is an in-memory link between two endpoints built on pion's
// test.Bridge. It backs the UDP transport (PacketConns) or a framed stream
// (StreamConns) in tests that must not touch the network.
type Pipe struct {
	bridge *test.Bridge

	mu     sync.Mutex
	cond   LinkConditions
	rng    *rand.Rand
	held   [2][]byte
	closed bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewPipe creates a pipe. Unless config.Manual is set, datagrams are
// delivered in the background.
func NewPipe(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge:  test.NewBridge(),
		cond:    config.Conditions,
		rng:     rand.New(rand.NewSource(seed)),
		closeCh: make(chan struct{}),
	}
	if !config.Manual {
		interval := config.Interval
		if interval == 0 {
			interval = time.Millisecond
		}
		p.wg.Add(1)
		go p.pump(interval)
	}
	return p
}

func (p *Pipe) pump(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.Deliver()
		}
	}
}

// SetConditions replaces the link conditions.
func (p *Pipe) SetConditions(c LinkConditions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cond = c
}

// Deliver moves every queued datagram to its reader and returns how many
// were moved.
func (p *Pipe) Deliver() int {
	total := 0
	for {
		n := p.bridge.Tick()
		if n == 0 {
			return total
		}
		total += n
	}
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.closeCh)
	p.wg.Wait()

	err := p.bridge.GetConn0().Close()
	if err1 := p.bridge.GetConn1().Close(); err == nil {
		err = err1
	}
	return err
}

// plan decides what a datagram written by endpoint from turns into: the
// writes to perform in order. An empty plan drops or holds the datagram.
func (p *Pipe) plan(from int, b []byte) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cond.Loss > 0 && p.rng.Float64() < p.cond.Loss {
		return nil
	}
	pkt := append([]byte(nil), b...)
	out := [][]byte{pkt}
	if p.cond.Duplicate > 0 && p.rng.Float64() < p.cond.Duplicate {
		out = append(out, pkt)
	}
	if held := p.held[from]; held != nil {
		p.held[from] = nil
		return append(out, held)
	}
	if p.cond.Reorder > 0 && p.rng.Float64() < p.cond.Reorder {
		p.held[from] = pkt
		return nil
	}
	return out
}

// PipeAddr is the address of a pipe endpoint.
type PipeAddr struct {
	ID   int // endpoint, 0 or 1
	Port int // logical port
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns "pipe:<id>:<port>".
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// PipePacketConn is a pipe endpoint seen as a net.PacketConn. Writes go to
// the other endpoint whatever the address, subject to the link conditions.
type PipePacketConn struct {
	pipe  *Pipe
	id    int
	conn  net.Conn
	local PipeAddr
	peer  PipeAddr
}

// PacketConns returns both endpoints as packet connections bound to the
// given logical ports.
func (p *Pipe) PacketConns(port0, port1 int) (*PipePacketConn, *PipePacketConn) {
	a0 := PipeAddr{ID: 0, Port: port0}
	a1 := PipeAddr{ID: 1, Port: port1}
	return &PipePacketConn{pipe: p, id: 0, conn: p.bridge.GetConn0(), local: a0, peer: a1},
		&PipePacketConn{pipe: p, id: 1, conn: p.bridge.GetConn1(), local: a1, peer: a0}
}

// ReadFrom reads one datagram. The address is always the other endpoint.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

// WriteTo sends b to the other endpoint. A dropped datagram still reports
// success.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	for _, pkt := range c.pipe.plan(c.id, b) {
		if _, err := c.conn.Write(pkt); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (c *PipePacketConn) Close() error                       { return c.conn.Close() }
func (c *PipePacketConn) LocalAddr() net.Addr                { return c.local }
func (c *PipePacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipePacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipePacketConn)(nil)

// PipeStreamConn is a pipe endpoint seen as a byte stream. The bridge
// delivers whole writes, so Read keeps the unread rest of a delivery.
// A pipe carrying streams must not also carry packet conns.
type PipeStreamConn struct {
	conn   net.Conn
	local  PipeAddr
	remote PipeAddr

	mu      sync.Mutex
	pending []byte
}

// StreamConns returns both endpoints as stream connections.
func (p *Pipe) StreamConns(port int) (*PipeStreamConn, *PipeStreamConn) {
	a0 := PipeAddr{ID: 0, Port: port}
	a1 := PipeAddr{ID: 1, Port: port}
	return &PipeStreamConn{conn: p.bridge.GetConn0(), local: a0, remote: a1},
		&PipeStreamConn{conn: p.bridge.GetConn1(), local: a1, remote: a0}
}

func (c *PipeStreamConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		buf := make([]byte, MaxFrameBody+FrameHeaderSize)
		n, err := c.conn.Read(buf)
		if err != nil {
			return 0, err
		}
		c.pending = buf[:n]
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *PipeStreamConn) Write(b []byte) (int, error)        { return c.conn.Write(b) }
func (c *PipeStreamConn) Close() error                       { return c.conn.Close() }
func (c *PipeStreamConn) LocalAddr() net.Addr                { return c.local }
func (c *PipeStreamConn) RemoteAddr() net.Addr               { return c.remote }
func (c *PipeStreamConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipeStreamConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipeStreamConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.Conn = (*PipeStreamConn)(nil)
