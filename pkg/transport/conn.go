package transport

import (
	"net"
	"sync"
)

// ConnID identifies a stream connection within one process. Ids start
// at 1 and are never reused.
type ConnID uint64

// Conn is a framed stream connection. Sends may be called from any
// goroutine; receives belong to a single reader.
type Conn struct {
	id     ConnID
	conn   net.Conn
	reader *StreamReader

	mu     sync.Mutex // Protects writes
	writer *StreamWriter

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn with framing.
func NewConn(id ConnID, conn net.Conn) *Conn {
	return &Conn{
		id:     id,
		conn:   conn,
		reader: NewStreamReader(conn),
		writer: NewStreamWriter(conn),
	}
}

// ID returns the connection id.
func (c *Conn) ID() ConnID {
	return c.id
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send writes one encoded message as a frame.
func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.WriteFrame(msg)
}

// Receive blocks for the next frame.
func (c *Conn) Receive() ([]byte, error) {
	return c.reader.ReadFrame()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
