package server

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/screenview/pkg/broker"
	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/sel"
	"github.com/backkem/screenview/pkg/svsc"
	"github.com/backkem/screenview/pkg/transport"
	"github.com/backkem/screenview/pkg/wire"
)

func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	config.TCPAddr = "127.0.0.1:0"
	config.UDPAddr = "127.0.0.1:0"
	s, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// testPeer drives one peer connection by hand.
type testPeer struct {
	t      *testing.T
	nc     net.Conn
	conn   *transport.Conn
	sel    *sel.Handler
	client *svsc.Client
	udp    net.PacketConn
	server net.Addr
}

// dialRaw connects without saying hello.
func dialRaw(t *testing.T, s *Server) *testPeer {
	t.Helper()
	nc, err := net.Dial("tcp", s.TCPAddr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return &testPeer{
		t:      t,
		nc:     nc,
		conn:   transport.NewConn(1, nc),
		sel:    sel.NewHandler(sel.Config{}),
		client: svsc.NewClient(svsc.Config{}),
		server: s.UDPAddr(),
	}
}

// dialPeer connects, completes the SEL hello and the version exchange.
func dialPeer(t *testing.T, s *Server) *testPeer {
	t.Helper()
	p := dialRaw(t, s)

	b, err := selproto.Encode(p.sel.Hello())
	if err != nil {
		t.Fatalf("Encode(PeerHello) error = %v", err)
	}
	if err := p.conn.Send(b); err != nil {
		t.Fatalf("Send(PeerHello) error = %v", err)
	}
	frame := p.receive()
	m, err := selproto.Decode(frame)
	if err != nil {
		t.Fatalf("Decode(ServerHello) error = %v", err)
	}
	if _, err := p.sel.Handle(m); err != nil {
		t.Fatalf("Handle(ServerHello) error = %v", err)
	}
	if p.sel.State() != sel.StateData {
		t.Fatalf("sel state = %v, want Data", p.sel.State())
	}

	p.process()
	if p.client.State() != svsc.StateReady {
		t.Fatalf("svsc state = %v, want Ready", p.client.State())
	}
	return p
}

func (p *testPeer) receive() []byte {
	p.t.Helper()
	p.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := p.conn.Receive()
	if err != nil {
		p.t.Fatalf("Receive() error = %v", err)
	}
	return frame
}

// receiveSVSC reads the next broker message.
func (p *testPeer) receiveSVSC() wire.Message {
	p.t.Helper()
	m, err := selproto.Decode(p.receive())
	if err != nil {
		p.t.Fatalf("Decode() error = %v", err)
	}
	payload, err := p.sel.Handle(m)
	if err != nil {
		p.t.Fatalf("sel Handle() error = %v", err)
	}
	msg, err := svscproto.Decode(payload)
	if err != nil {
		p.t.Fatalf("svsc Decode() error = %v", err)
	}
	return msg
}

func (p *testPeer) send(msg wire.Message) {
	p.t.Helper()
	b, err := svscproto.Encode(msg)
	if err != nil {
		p.t.Fatalf("Encode(%T) error = %v", msg, err)
	}
	frame, err := p.sel.Seal(b)
	if err != nil {
		p.t.Fatalf("Seal() error = %v", err)
	}
	if err := p.conn.Send(frame); err != nil {
		p.t.Fatalf("Send() error = %v", err)
	}
}

// process handles the next broker message and sends the replies.
func (p *testPeer) process() *svsc.Result {
	p.t.Helper()
	res, err := p.client.Handle(p.receiveSVSC())
	if err != nil {
		p.t.Fatalf("svsc Handle() error = %v", err)
	}
	for _, m := range res.Outgoing {
		p.send(m)
	}
	return res
}

// expectEvent processes one message and checks its first event.
func (p *testPeer) expectEvent(want svsc.EventType) *svsc.Result {
	p.t.Helper()
	res := p.process()
	if len(res.Events) == 0 || res.Events[0].Type != want {
		p.t.Fatalf("events = %v, want %v", res.Events, want)
	}
	return res
}

// expectClosed waits for the server to close the connection.
func (p *testPeer) expectClosed() {
	p.t.Helper()
	p.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, err := p.conn.Receive()
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			p.t.Fatal("connection was not closed")
		}
		return
	}
}

func (p *testPeer) listenUDP() {
	p.t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		p.t.Fatalf("ListenPacket() error = %v", err)
	}
	p.t.Cleanup(func() { pc.Close() })
	p.udp = pc
}

func (p *testPeer) sendUnreliable(data []byte) {
	p.t.Helper()
	sess := p.client.Session()
	msg, err := sel.WrapUnreliable(data, sess.Data.PeerID, p.sel.Unreliable())
	if err != nil {
		p.t.Fatalf("WrapUnreliable() error = %v", err)
	}
	b, err := selproto.Encode(msg)
	if err != nil {
		p.t.Fatalf("Encode() error = %v", err)
	}
	if _, err := p.udp.WriteTo(b, p.server); err != nil {
		p.t.Fatalf("WriteTo() error = %v", err)
	}
}

// receiveUnreliable returns the next relayed plaintext, or nil after timeout.
func (p *testPeer) receiveUnreliable(timeout time.Duration) []byte {
	p.t.Helper()
	buf := make([]byte, transport.MaxDatagramSize)
	p.udp.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := p.udp.ReadFrom(buf)
	if err != nil {
		return nil
	}
	m, err := selproto.Decode(buf[:n])
	if err != nil {
		p.t.Fatalf("Decode() error = %v", err)
	}
	plain, err := p.sel.Handle(m)
	if err != nil {
		p.t.Fatalf("Handle(unreliable) error = %v", err)
	}
	return plain
}

// establish leases for a and connects b to a.
func establish(t *testing.T, a, b *testPeer) {
	t.Helper()
	a.send(a.client.LeaseRequest(nil))
	a.expectEvent(svsc.EventLeaseUpdate)
	lease := a.client.Lease()

	b.send(b.client.EstablishSessionRequest(lease.ID))
	b.expectEvent(svsc.EventSessionUpdate)
	a.expectEvent(svsc.EventSessionUpdate)

	if a.client.Session().Data != b.client.Session().Data {
		t.Fatal("session data differs between members")
	}
	if !b.client.Session().Initiator {
		t.Error("requester is not the initiator")
	}
}

func TestServer_SessionRelay(t *testing.T) {
	s := startServer(t, Config{})
	a := dialPeer(t, s)
	b := dialPeer(t, s)
	establish(t, a, b)

	if st := s.Broker().Stats(); st.Sessions != 1 || st.Leases != 1 {
		t.Errorf("Stats() = %+v, want one session and one lease", st)
	}

	msg, err := b.client.Wrap([]byte("hello host"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	b.send(msg)
	if res := a.process(); !bytes.Equal(res.Payload, []byte("hello host")) {
		t.Errorf("payload = %q, want %q", res.Payload, "hello host")
	}

	b.send(b.client.EndSession())
	a.expectEvent(svsc.EventSessionEnd)
	if st := s.Broker().Stats(); st.Sessions != 0 {
		t.Errorf("Sessions = %d after end, want 0", st.Sessions)
	}
}

func TestServer_UnreliableRelay(t *testing.T) {
	s := startServer(t, Config{})
	a := dialPeer(t, s)
	b := dialPeer(t, s)
	establish(t, a, b)

	data := a.client.Session().Data
	if err := a.sel.DeriveUnreliable(data, sel.SideResponder); err != nil {
		t.Fatalf("DeriveUnreliable() error = %v", err)
	}
	if err := b.sel.DeriveUnreliable(data, sel.SideInitiator); err != nil {
		t.Fatalf("DeriveUnreliable() error = %v", err)
	}
	a.listenUDP()
	b.listenUDP()

	// The relay learns a's address from its first packet and forwards
	// b's packets once both are known.
	var got []byte
	for i := 0; i < 50 && got == nil; i++ {
		a.sendUnreliable([]byte("register"))
		b.sendUnreliable([]byte("frame from b"))
		got = a.receiveUnreliable(100 * time.Millisecond)
	}
	if !bytes.Equal(got, []byte("frame from b")) {
		t.Fatalf("a received %q, want %q", got, "frame from b")
	}

	a.sendUnreliable([]byte("input from a"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := b.receiveUnreliable(time.Until(deadline))
		if got == nil {
			t.Fatal("b did not receive the packet from a")
		}
		if bytes.Equal(got, []byte("input from a")) {
			break
		}
	}
}

func TestServer_DetachNotifiesPeer(t *testing.T) {
	s := startServer(t, Config{})
	a := dialPeer(t, s)
	b := dialPeer(t, s)
	establish(t, a, b)

	b.nc.Close()
	a.expectEvent(svsc.EventSessionEnd)

	// The lease outlives its holder's connection.
	if st := s.Broker().Stats(); st.Leases != 1 || st.Sessions != 0 {
		t.Errorf("Stats() = %+v, want one lease and no session", st)
	}
}

func TestServer_RequiresHello(t *testing.T) {
	s := startServer(t, Config{})
	p := dialRaw(t, s)

	b, err := selproto.Encode(sel.WrapReliable([]byte{svscproto.IDKeepAlive}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := p.conn.Send(b); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	p.expectClosed()
}

func TestServer_VersionRefused(t *testing.T) {
	s := startServer(t, Config{})
	p := dialRaw(t, s)

	b, _ := selproto.Encode(p.sel.Hello())
	if err := p.conn.Send(b); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	m, err := selproto.Decode(p.receive())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, err := p.sel.Handle(m); err != nil {
		t.Fatalf("Handle(ServerHello) error = %v", err)
	}
	if _, ok := p.receiveSVSC().(*svscproto.ProtocolVersion); !ok {
		t.Fatal("first broker message is not ProtocolVersion")
	}

	p.send(&svscproto.ProtocolVersionResponse{OK: false})
	p.expectClosed()
}

func TestServer_RefusalKeepsConnection(t *testing.T) {
	s := startServer(t, Config{})
	p := dialPeer(t, s)

	p.send(p.client.EstablishSessionRequest(4242))
	res := p.expectEvent(svsc.EventSessionRejected)
	if res.Events[0].Status != svscproto.StatusIDNotFound {
		t.Errorf("Status = %v, want IDNotFound", res.Events[0].Status)
	}

	// Session data outside a session is dropped without closing.
	p.send(&svscproto.SessionDataSend{Data: []byte("stray")})
	p.send(p.client.LeaseRequest(nil))
	p.expectEvent(svsc.EventLeaseUpdate)
}

func TestServer_KeepAlive(t *testing.T) {
	s := startServer(t, Config{
		SweepInterval: 10 * time.Millisecond,
		Broker: broker.Config{
			KeepAliveInterval: 30 * time.Millisecond,
			KeepAliveTimeout:  300 * time.Millisecond,
		},
	})
	p := dialPeer(t, s)

	if _, ok := p.receiveSVSC().(*svscproto.KeepAlive); !ok {
		t.Fatal("expected a KeepAlive probe")
	}
	// Not answering the probe gets the connection closed.
	p.expectClosed()
}

// connCount waits until the server tracks want connections.
func connCount(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server tracks %d connections, want %d", n, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_HelloTimeout(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	s := startServer(t, Config{
		SweepInterval: time.Hour,
		HelloTimeout:  time.Minute,
		Broker:        broker.Config{Now: clock},
	})
	p := dialRaw(t, s)
	connCount(t, s, 1)

	advance(30 * time.Second)
	s.sweep()
	connCount(t, s, 1)

	advance(24 * time.Hour)
	s.sweep()
	p.expectClosed()
	connCount(t, s, 0)
}

func TestServer_StopTwice(t *testing.T) {
	s, err := New(Config{TCPAddr: "127.0.0.1:0", UDPAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("second Stop() error = %v, want %v", err, transport.ErrClosed)
	}
}
