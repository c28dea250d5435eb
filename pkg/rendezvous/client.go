// Package rendezvous is the peer side of the rendezvous server. A Client
// holds one connection to the server, takes out leases and turns brokered
// sessions into net.Conn values that carry bytes as SVSC session data.
//
// A host leases an id, publishes it out of band and calls Accept. A client
// calls Connect with that id. Both sides then run the direct-connect
// protocol over the returned SessionConn as if it were a TCP stream.
//
//	c, _ := rendezvous.Dial(ctx, "server:9000", rendezvous.Config{})
//	lease, _ := c.Lease(ctx, nil)
//	conn, _ := c.Accept(ctx)
package rendezvous

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/svsc"
	"github.com/backkem/screenview/pkg/transport"
	"github.com/backkem/screenview/pkg/wire"
)

// DefaultAcceptBacklog is the number of incoming sessions queued for Accept.
const DefaultAcceptBacklog = 4

// Config configures a Client.
type Config struct {
	// SEL configures the signaling layer toward the server.
	SEL sel.Config

	// AcceptBacklog is the number of incoming sessions waiting for Accept.
	// Further sessions are ended. Default: DefaultAcceptBacklog.
	AcceptBacklog int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// response is the answer to the outstanding request.
type response struct {
	event svsc.Event
	conn  *SessionConn
}

// Client is a peer connection to the rendezvous server.
type Client struct {
	conn *transport.Conn
	sel  *sel.Handler
	svsc *svsc.Client
	log  logging.LeveledLogger

	// reqMu allows one outstanding request.
	reqMu sync.Mutex
	resp  chan response

	mu       sync.Mutex
	current  *SessionConn
	accepted chan *SessionConn

	closeCh   chan struct{}
	closeOnce sync.Once
	err       error
	wg        sync.WaitGroup
}

// Dial connects to the server at addr and completes the version exchange.
func Dial(ctx context.Context, addr string, config Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, conn, config)
}

// NewClient runs the SEL hello and the SVSC version exchange on conn and
// starts serving it. conn is closed when NewClient fails.
func NewClient(ctx context.Context, conn net.Conn, config Config) (*Client, error) {
	if config.AcceptBacklog <= 0 {
		config.AcceptBacklog = DefaultAcceptBacklog
	}
	if config.SEL.LoggerFactory == nil {
		config.SEL.LoggerFactory = config.LoggerFactory
	}
	c := &Client{
		conn:     transport.NewConn(0, conn),
		sel:      sel.NewHandler(config.SEL),
		svsc:     svsc.NewClient(svsc.Config{LoggerFactory: config.LoggerFactory}),
		resp:     make(chan response, 1),
		accepted: make(chan *SessionConn, config.AcceptBacklog),
		closeCh:  make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("rendezvous")
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	err := c.open()
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// open sends PeerHello and waits for ServerHello and ProtocolVersion.
func (c *Client) open() error {
	b, err := selproto.Encode(c.sel.Hello())
	if err != nil {
		return err
	}
	if err := c.conn.Send(b); err != nil {
		return err
	}
	for c.svsc.State() != svsc.StateReady {
		frame, err := c.conn.Receive()
		if err != nil {
			return err
		}
		res, err := c.handle(frame)
		if err != nil {
			return err
		}
		for _, ev := range res.Events {
			if ev.Type == svsc.EventVersionBad {
				return ErrVersionMismatch
			}
		}
	}
	if c.log != nil {
		c.log.Debugf("connected to %s", c.conn.RemoteAddr())
	}
	return nil
}

// handle processes one frame and sends the replies. It returns an empty
// result for SEL control messages.
func (c *Client) handle(frame []byte) (*svsc.Result, error) {
	m, err := selproto.Decode(frame)
	if err != nil {
		return nil, err
	}
	payload, err := c.sel.Handle(m)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return &svsc.Result{}, nil
	}
	msg, err := svscproto.Decode(payload)
	if err != nil {
		return nil, err
	}
	res, err := c.svsc.Handle(msg)
	if err != nil {
		return nil, err
	}
	for _, out := range res.Outgoing {
		if err := c.send(out); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Client) send(msg wire.Message) error {
	b, err := svscproto.Encode(msg)
	if err != nil {
		return err
	}
	frame, err := c.sel.Seal(b)
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		frame, err := c.conn.Receive()
		if err != nil {
			c.shutdown(err)
			return
		}
		res, err := c.handle(frame)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("closing server connection: %v", err)
			}
			c.shutdown(err)
			return
		}
		c.dispatch(res)
	}
}

// dispatch routes the outcome of one broker message.
func (c *Client) dispatch(res *svsc.Result) {
	if res.Payload != nil {
		if sc := c.session(); sc != nil {
			sc.deliver(res.Payload)
		}
	}

	for _, ev := range res.Events {
		switch ev.Type {
		case svsc.EventSessionUpdate:
			s := c.svsc.Session()
			if s == nil {
				continue
			}
			sc := newSessionConn(c, *s)
			c.setSession(sc)
			if s.Initiator {
				c.respond(response{event: ev, conn: sc})
				continue
			}
			select {
			case c.accepted <- sc:
			default:
				if c.log != nil {
					c.log.Warn("accept backlog full, ending incoming session")
				}
				c.endSession(sc)
			}
		case svsc.EventSessionEnd:
			if sc := c.swapSession(nil); sc != nil {
				sc.closeRemote()
			}
		default:
			c.respond(response{event: ev})
		}
	}
}

func (c *Client) respond(r response) {
	select {
	case c.resp <- r:
	default:
		if c.log != nil {
			c.log.Debugf("dropping unclaimed %s", r.event.Type)
		}
	}
}

// request sends msg and waits for the response event.
func (c *Client) request(ctx context.Context, msg wire.Message) (response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	// A response to an abandoned request may still be queued.
	select {
	case <-c.resp:
	default:
	}

	if err := c.send(msg); err != nil {
		return response{}, err
	}
	select {
	case r := <-c.resp:
		return r, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-c.closeCh:
		return response{}, c.closeErr()
	}
}

// Lease requests a lease, renewing the lease of cookie when it is live.
func (c *Client) Lease(ctx context.Context, cookie *svscproto.Cookie) (*svscproto.LeaseResponseData, error) {
	r, err := c.request(ctx, c.svsc.LeaseRequest(cookie))
	if err != nil {
		return nil, err
	}
	if r.event.Type != svsc.EventLeaseUpdate {
		return nil, ErrLeaseRejected
	}
	return c.svsc.Lease(), nil
}

// ExtendLease extends the lease of cookie and returns its new expiration.
func (c *Client) ExtendLease(ctx context.Context, cookie svscproto.Cookie) (time.Time, error) {
	r, err := c.request(ctx, c.svsc.LeaseExtensionRequest(cookie))
	if err != nil {
		return time.Time{}, err
	}
	if r.event.Type != svsc.EventLeaseUpdate {
		return time.Time{}, ErrLeaseRejected
	}
	if l := c.svsc.Lease(); l != nil {
		return l.Expiration, nil
	}
	return time.Time{}, ErrLeaseRejected
}

// Connect asks the broker for a session with the holder of lease id.
func (c *Client) Connect(ctx context.Context, id svscproto.LeaseID) (*SessionConn, error) {
	r, err := c.request(ctx, c.svsc.EstablishSessionRequest(id))
	if err != nil {
		return nil, err
	}
	if r.conn == nil {
		return nil, &SessionRejectedError{Lease: id, Status: r.event.Status}
	}
	return r.conn, nil
}

// Accept waits for a session requested by another peer.
func (c *Client) Accept(ctx context.Context) (*SessionConn, error) {
	select {
	case sc := <-c.accepted:
		return sc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, c.closeErr()
	}
}

// Close ends the current session and disconnects from the server.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		sc := c.current
		c.current = nil
		c.mu.Unlock()

		close(c.closeCh)
		c.conn.Close()
		c.sel.Close()
		if sc != nil {
			sc.closeRemote()
		}
	})
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil || errors.Is(c.err, ErrClosed) {
		return ErrClosed
	}
	return c.err
}

func (c *Client) session() *SessionConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) setSession(sc *SessionConn) {
	if prev := c.swapSession(sc); prev != nil {
		prev.closeRemote()
	}
}

func (c *Client) swapSession(sc *SessionConn) *SessionConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = sc
	return prev
}

// endSession tells the broker to end sc if it is still current.
func (c *Client) endSession(sc *SessionConn) {
	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	if err := c.send(c.svsc.EndSession()); err != nil && c.log != nil {
		c.log.Debugf("end session: %v", err)
	}
}

// sendData relays one chunk to the session peer.
func (c *Client) sendData(sc *SessionConn, data []byte) error {
	if c.session() != sc {
		return ErrSessionClosed
	}
	msg, err := c.svsc.Wrap(data)
	if err != nil {
		return err
	}
	return c.send(msg)
}
