package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/wire"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func newTestBroker(clock *fakeClock) *Broker {
	return New(Config{
		LeaseDuration:     time.Hour,
		KeepAliveInterval: 10 * time.Second,
		KeepAliveTimeout:  30 * time.Second,
		Now:               clock.Now,
	})
}

// connect attaches id and completes the version exchange.
func connect(t *testing.T, b *Broker, id ConnID) {
	t.Helper()
	out, err := b.Attach(id)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if len(out) != 1 || out[0].Conn != id {
		t.Fatalf("Attach output = %+v", out)
	}
	if v, ok := out[0].Message.(*svsc.ProtocolVersion); !ok || v.Version != svsc.Version {
		t.Fatalf("Attach sent %#v, want ProtocolVersion", out[0].Message)
	}
	if _, err := b.Handle(id, &svsc.ProtocolVersionResponse{OK: true}); err != nil {
		t.Fatalf("version exchange failed: %v", err)
	}
}

func mustHandle(t *testing.T, b *Broker, id ConnID, msg wire.Message) []Outgoing {
	t.Helper()
	out, err := b.Handle(id, msg)
	if err != nil {
		t.Fatalf("Handle(%d, %T) failed: %v", id, msg, err)
	}
	return out
}

// takeLease requests a new lease on id and returns it.
func takeLease(t *testing.T, b *Broker, id ConnID) *svsc.LeaseResponseData {
	t.Helper()
	out := mustHandle(t, b, id, &svsc.LeaseRequest{})
	resp, ok := out[0].Message.(*svsc.LeaseResponse)
	if !ok || !resp.Accepted() {
		t.Fatalf("lease refused: %#v", out[0].Message)
	}
	return resp.Data
}

func establish(t *testing.T, b *Broker, from ConnID, lease svsc.LeaseID) (svsc.Status, []Outgoing) {
	t.Helper()
	out := mustHandle(t, b, from, &svsc.EstablishSessionRequest{LeaseID: lease})
	resp, ok := out[0].Message.(*svsc.EstablishSessionResponse)
	if !ok || out[0].Conn != from {
		t.Fatalf("first output = %+v, want EstablishSessionResponse to %d", out[0], from)
	}
	if resp.LeaseID != lease {
		t.Errorf("response lease id = %d, want %d", resp.LeaseID, lease)
	}
	if (resp.Status == svsc.StatusSuccess) != (resp.Data != nil) {
		t.Errorf("status %s with data %v", resp.Status, resp.Data)
	}
	return resp.Status, out
}

func TestBrokerVersion(t *testing.T) {
	b := newTestBroker(newFakeClock())

	if _, err := b.Attach(0); !errors.Is(err, ErrConnectionExists) {
		t.Errorf("Attach(0): expected ErrConnectionExists, got %v", err)
	}
	if _, err := b.Attach(1); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := b.Attach(1); !errors.Is(err, ErrConnectionExists) {
		t.Errorf("second Attach: expected ErrConnectionExists, got %v", err)
	}

	if _, err := b.Handle(1, &svsc.LeaseRequest{}); !errors.Is(err, ErrWrongMessageForState) {
		t.Fatalf("expected ErrWrongMessageForState before version, got %v", err)
	}
	if _, err := b.Handle(1, &svsc.ProtocolVersionResponse{OK: false}); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if _, err := b.Handle(1, &svsc.ProtocolVersionResponse{OK: true}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	takeLease(t, b, 1)

	if _, err := b.Handle(2, &svsc.KeepAlive{}); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("expected ErrUnknownConnection, got %v", err)
	}
	if _, err := b.Handle(1, &svsc.SessionDataReceive{}); !errors.Is(err, ErrWrongMessageForState) {
		t.Errorf("expected ErrWrongMessageForState, got %v", err)
	}
}

func TestBrokerLease(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(clock)
	connect(t, b, 1)

	lease := takeLease(t, b, 1)
	if lease.ID == 0 {
		t.Error("lease id is zero")
	}
	if want := clock.Now().Add(time.Hour); !lease.Expiration.Equal(want) {
		t.Errorf("expiration = %v, want %v", lease.Expiration, want)
	}

	clock.Advance(10 * time.Minute)

	// Renewal keeps id and cookie.
	out := mustHandle(t, b, 1, &svsc.LeaseRequest{Cookie: &lease.Cookie})
	renewed := out[0].Message.(*svsc.LeaseResponse).Data
	if renewed.ID != lease.ID || renewed.Cookie != lease.Cookie {
		t.Errorf("renewed lease = %+v, want id %d", renewed, lease.ID)
	}
	if !renewed.Expiration.After(lease.Expiration) {
		t.Errorf("expiration not moved: %v", renewed.Expiration)
	}

	out = mustHandle(t, b, 1, &svsc.LeaseExtensionRequest{Cookie: lease.Cookie})
	ext := out[0].Message.(*svsc.LeaseExtensionResponse)
	if !ext.Extended() {
		t.Fatal("extension refused")
	}

	// An unknown cookie gets a fresh lease.
	stale := svsc.Cookie{0xFF}
	out = mustHandle(t, b, 1, &svsc.LeaseRequest{Cookie: &stale})
	fresh := out[0].Message.(*svsc.LeaseResponse).Data
	if fresh.ID == lease.ID || fresh.Cookie == lease.Cookie {
		t.Errorf("expected a new lease, got %+v", fresh)
	}

	out = mustHandle(t, b, 1, &svsc.LeaseExtensionRequest{Cookie: stale})
	if out[0].Message.(*svsc.LeaseExtensionResponse).Extended() {
		t.Error("unknown cookie extended")
	}

	clock.Advance(2 * time.Hour)
	out = mustHandle(t, b, 1, &svsc.LeaseExtensionRequest{Cookie: fresh.Cookie})
	if out[0].Message.(*svsc.LeaseExtensionResponse).Extended() {
		t.Error("expired lease extended")
	}
}

func TestBrokerMaxLeases(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{MaxLeases: 1, LeaseDuration: time.Minute, Now: clock.Now})
	connect(t, b, 1)
	connect(t, b, 2)

	takeLease(t, b, 1)
	out := mustHandle(t, b, 2, &svsc.LeaseRequest{})
	if out[0].Message.(*svsc.LeaseResponse).Accepted() {
		t.Fatal("lease beyond capacity accepted")
	}

	clock.Advance(2 * time.Minute)
	takeLease(t, b, 2)
	if got := b.Stats().Leases; got != 1 {
		t.Errorf("leases = %d, want 1", got)
	}
}

func TestBrokerFreshLeaseReplacesHeld(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{MaxLeases: 2, LeaseDuration: time.Hour, Now: clock.Now})
	connect(t, b, 1)
	connect(t, b, 2)

	first := takeLease(t, b, 1)
	for range 5 {
		takeLease(t, b, 1)
	}
	if got := b.Stats().Leases; got != 1 {
		t.Errorf("leases = %d, want 1", got)
	}

	out := mustHandle(t, b, 1, &svsc.LeaseExtensionRequest{Cookie: first.Cookie})
	if out[0].Message.(*svsc.LeaseExtensionResponse).Extended() {
		t.Error("replaced lease extended")
	}
	status, _ := establish(t, b, 2, first.ID)
	if status != svsc.StatusIDNotFound {
		t.Errorf("establish with replaced lease: status = %s, want %s", status, svsc.StatusIDNotFound)
	}

	// The table still has room for another connection.
	takeLease(t, b, 2)
}

func TestBrokerLeaseIDExhausted(t *testing.T) {
	b := New(Config{Rand: zeroReader{}})
	connect(t, b, 1)

	out, err := b.Handle(1, &svsc.LeaseRequest{})
	if !errors.Is(err, ErrLeaseIDExhausted) {
		t.Fatalf("expected ErrLeaseIDExhausted, got %v", err)
	}
	if out[0].Message.(*svsc.LeaseResponse).Accepted() {
		t.Error("lease accepted without an id")
	}
}

func TestBrokerEstablishSession(t *testing.T) {
	b := newTestBroker(newFakeClock())
	connect(t, b, 1)
	connect(t, b, 2)
	connect(t, b, 3)
	lease1 := takeLease(t, b, 1)
	lease3 := takeLease(t, b, 3)

	if st, _ := establish(t, b, 2, 12345); st != svsc.StatusIDNotFound {
		t.Errorf("unknown id: status = %s", st)
	}
	if st, _ := establish(t, b, 1, lease1.ID); st != svsc.StatusOtherError {
		t.Errorf("self: status = %s", st)
	}

	st, out := establish(t, b, 2, lease1.ID)
	if st != svsc.StatusSuccess {
		t.Fatalf("status = %s, want Success", st)
	}
	if len(out) != 2 || out[1].Conn != 1 {
		t.Fatalf("output = %+v, want response and notification", out)
	}
	data := out[0].Message.(*svsc.EstablishSessionResponse).Data
	note := out[1].Message.(*svsc.EstablishSessionNotification)
	if note.Data != *data {
		t.Errorf("notification data %+v differs from response %+v", note.Data, *data)
	}
	if !b.SessionActive(data.PeerID) {
		t.Error("session not active")
	}

	if st, _ := establish(t, b, 2, lease3.ID); st != svsc.StatusSelfBusy {
		t.Errorf("busy requester: status = %s", st)
	}
	if st, _ := establish(t, b, 3, lease1.ID); st != svsc.StatusPeerBusy {
		t.Errorf("busy target: status = %s", st)
	}

	b.Detach(3)
	connect(t, b, 4)
	if st, _ := establish(t, b, 4, lease3.ID); st != svsc.StatusPeerOffline {
		t.Errorf("offline target: status = %s", st)
	}
}

func TestBrokerSessionData(t *testing.T) {
	b := newTestBroker(newFakeClock())
	connect(t, b, 1)
	connect(t, b, 2)

	if _, err := b.Handle(2, &svsc.SessionDataSend{Data: []byte("x")}); !errors.Is(err, ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}

	lease := takeLease(t, b, 1)
	_, out := establish(t, b, 2, lease.ID)
	peerID := out[0].Message.(*svsc.EstablishSessionResponse).Data.PeerID

	tests := []struct {
		from, to ConnID
	}{
		{2, 1},
		{1, 2},
	}
	for _, tt := range tests {
		out := mustHandle(t, b, tt.from, &svsc.SessionDataSend{Data: []byte("payload")})
		if len(out) != 1 || out[0].Conn != tt.to {
			t.Fatalf("relay from %d = %+v", tt.from, out)
		}
		if r, ok := out[0].Message.(*svsc.SessionDataReceive); !ok || string(r.Data) != "payload" {
			t.Errorf("relayed %#v", out[0].Message)
		}
	}

	out = mustHandle(t, b, 1, &svsc.SessionEnd{})
	if len(out) != 1 || out[0].Conn != 2 {
		t.Fatalf("SessionEnd output = %+v", out)
	}
	if _, ok := out[0].Message.(*svsc.SessionEndNotification); !ok {
		t.Errorf("sent %T, want SessionEndNotification", out[0].Message)
	}
	if b.SessionActive(peerID) {
		t.Error("session still active")
	}
	if _, err := b.Handle(2, &svsc.SessionDataSend{Data: []byte("x")}); !errors.Is(err, ErrNotInSession) {
		t.Errorf("expected ErrNotInSession after end, got %v", err)
	}

	// Ending twice is harmless.
	if out := mustHandle(t, b, 1, &svsc.SessionEnd{}); len(out) != 0 {
		t.Errorf("second SessionEnd output = %+v", out)
	}

	// Both are free again.
	if st, _ := establish(t, b, 2, lease.ID); st != svsc.StatusSuccess {
		t.Errorf("re-establish: status = %s", st)
	}
}

func TestBrokerDetach(t *testing.T) {
	b := newTestBroker(newFakeClock())
	connect(t, b, 1)
	connect(t, b, 2)
	lease := takeLease(t, b, 1)
	_, out := establish(t, b, 2, lease.ID)
	peerID := out[0].Message.(*svsc.EstablishSessionResponse).Data.PeerID

	out = b.Detach(2)
	if len(out) != 1 || out[0].Conn != 1 {
		t.Fatalf("Detach output = %+v", out)
	}
	if b.SessionActive(peerID) {
		t.Error("session survived detach")
	}
	if out := b.Detach(2); out != nil {
		t.Errorf("second Detach output = %+v", out)
	}

	// The lease survives its holder and can be reclaimed with the cookie.
	b.Detach(1)
	connect(t, b, 5)
	out = mustHandle(t, b, 5, &svsc.LeaseRequest{Cookie: &lease.Cookie})
	if got := out[0].Message.(*svsc.LeaseResponse).Data; got == nil || got.ID != lease.ID {
		t.Fatalf("reclaimed lease = %+v", got)
	}
	connect(t, b, 6)
	if st, _ := establish(t, b, 6, lease.ID); st != svsc.StatusSuccess {
		t.Errorf("status = %s, want Success", st)
	}
}

func TestBrokerSweep(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(clock)
	connect(t, b, 1)
	connect(t, b, 2)
	takeLease(t, b, 1)

	if res := b.Sweep(); len(res.Outgoing) != 0 || len(res.Dead) != 0 {
		t.Fatalf("fresh sweep = %+v", res)
	}

	clock.Advance(15 * time.Second)
	mustHandle(t, b, 2, &svsc.KeepAlive{})

	res := b.Sweep()
	if len(res.Outgoing) != 1 || res.Outgoing[0].Conn != 1 {
		t.Fatalf("probes = %+v, want one for connection 1", res.Outgoing)
	}
	if _, ok := res.Outgoing[0].Message.(*svsc.KeepAlive); !ok {
		t.Errorf("probe = %T", res.Outgoing[0].Message)
	}
	if res := b.Sweep(); len(res.Outgoing) != 0 {
		t.Errorf("probe repeated: %+v", res.Outgoing)
	}

	clock.Advance(20 * time.Second)
	res = b.Sweep()
	if len(res.Dead) != 1 || res.Dead[0] != 1 {
		t.Fatalf("dead = %v, want [1]", res.Dead)
	}

	clock.Advance(2 * time.Hour)
	res = b.Sweep()
	if res.ExpiredLeases != 1 {
		t.Errorf("expired leases = %d, want 1", res.ExpiredLeases)
	}
	if got := b.Stats().Leases; got != 0 {
		t.Errorf("leases = %d, want 0", got)
	}
}

func TestBrokerConcurrentEstablish(t *testing.T) {
	b := newTestBroker(newFakeClock())
	connect(t, b, 1)
	connect(t, b, 2)
	lease1 := takeLease(t, b, 1)
	lease2 := takeLease(t, b, 2)

	var wg sync.WaitGroup
	statuses := make([]svsc.Status, 2)
	requests := []struct {
		from  ConnID
		lease svsc.LeaseID
	}{
		{1, lease2.ID},
		{2, lease1.ID},
	}
	for i, r := range requests {
		wg.Add(1)
		go func(i int, from ConnID, lease svsc.LeaseID) {
			defer wg.Done()
			out, err := b.Handle(from, &svsc.EstablishSessionRequest{LeaseID: lease})
			if err != nil {
				t.Errorf("Handle failed: %v", err)
				return
			}
			statuses[i] = out[0].Message.(*svsc.EstablishSessionResponse).Status
		}(i, r.from, r.lease)
	}
	wg.Wait()

	success := 0
	for _, st := range statuses {
		switch st {
		case svsc.StatusSuccess:
			success++
		case svsc.StatusPeerBusy, svsc.StatusSelfBusy:
		default:
			t.Errorf("unexpected status %s", st)
		}
	}
	if success != 1 {
		t.Errorf("successes = %d, want 1 (statuses %v)", success, statuses)
	}
}
