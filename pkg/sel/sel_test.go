package sel

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/backkem/screenview/pkg/cipher"
	selproto "github.com/backkem/screenview/pkg/protocol/sel"
	"github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/wire"
)

var testSession = svsc.SessionData{
	SessionID: svsc.SessionID{1, 2, 3},
	PeerID:    svsc.PeerID{4, 5, 6},
	PeerKey:   svsc.PeerKey{7, 8, 9},
}

func dataHandler(t *testing.T) *Handler {
	t.Helper()
	h := NewHandler(Config{})
	if _, err := h.Handle(&selproto.ServerHello{}); err != nil {
		t.Fatalf("Handle(ServerHello) failed: %v", err)
	}
	return h
}

func TestHandlerHandshake(t *testing.T) {
	h := NewHandler(Config{PublicKey: [selproto.PublicKeyLen]byte{0xAA}})
	if h.State() != StateHandshake {
		t.Fatalf("state = %s, want Handshake", h.State())
	}
	if hello := h.Hello(); hello.PublicKey[0] != 0xAA {
		t.Errorf("PeerHello key = %x", hello.PublicKey)
	}

	payload, err := h.Handle(&selproto.ServerHello{CertificateList: []byte("cert")})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if payload != nil {
		t.Errorf("payload = %x, want nil", payload)
	}
	if h.State() != StateData {
		t.Errorf("state = %s, want Data", h.State())
	}
}

func TestHandlerServerRejected(t *testing.T) {
	h := NewHandler(Config{
		VerifyServer: func(*selproto.ServerHello) error { return errors.New("bad certificate") },
	})
	if _, err := h.Handle(&selproto.ServerHello{}); !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected, got %v", err)
	}
	if h.State() != StateFailed {
		t.Errorf("state = %s, want Failed", h.State())
	}
}

func TestHandlerWrongMessageForState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *Handler
		msg   wire.Message
	}{
		{"data before hello", func(t *testing.T) *Handler { return NewHandler(Config{}) }, WrapReliable([]byte("x"))},
		{"second hello", dataHandler, &selproto.ServerHello{}},
		{"peer addressed packet", dataHandler, &selproto.TransportDataPeerMessageUnreliable{}},
		{"peer hello", dataHandler, &selproto.PeerHello{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.setup(t)
			_, err := h.Handle(tt.msg)
			if !errors.Is(err, ErrWrongMessageForState) {
				t.Fatalf("expected ErrWrongMessageForState, got %v", err)
			}
			var wm *WrongMessageError
			if !errors.As(err, &wm) || wm.MessageID != tt.msg.MessageID() {
				t.Errorf("error = %v", err)
			}
			if h.State() != StateFailed {
				t.Errorf("state = %s, want Failed", h.State())
			}
		})
	}
}

func TestHandlerReliable(t *testing.T) {
	h := dataHandler(t)
	payload, err := h.Handle(WrapReliable([]byte("hello")))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q", payload)
	}
}

// relayed converts a peer-addressed packet into the server-addressed one
// the other member receives.
func relayed(m *selproto.TransportDataPeerMessageUnreliable) *selproto.TransportDataServerMessageUnreliable {
	return &selproto.TransportDataServerMessageUnreliable{Counter: m.Counter, Data: m.Data}
}

func TestHandlerUnreliable(t *testing.T) {
	a := dataHandler(t)
	b := dataHandler(t)

	if _, err := a.Handle(&selproto.TransportDataServerMessageUnreliable{}); !errors.Is(err, ErrNoUnreliableCipher) {
		t.Fatalf("expected ErrNoUnreliableCipher, got %v", err)
	}
	if _, err := WrapUnreliable([]byte("x"), testSession.PeerID, a.Unreliable()); !errors.Is(err, ErrNoUnreliableCipher) {
		t.Fatalf("expected ErrNoUnreliableCipher, got %v", err)
	}

	if err := a.DeriveUnreliable(testSession, SideInitiator); err != nil {
		t.Fatalf("DeriveUnreliable failed: %v", err)
	}
	if err := b.DeriveUnreliable(testSession, SideResponder); err != nil {
		t.Fatalf("DeriveUnreliable failed: %v", err)
	}

	tests := []struct {
		name     string
		from, to *Handler
	}{
		{"initiator to responder", a, b},
		{"responder to initiator", b, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := WrapUnreliable([]byte("frame"), testSession.PeerID, tt.from.Unreliable())
			if err != nil {
				t.Fatalf("WrapUnreliable failed: %v", err)
			}
			if svsc.PeerID(msg.PeerID) != testSession.PeerID {
				t.Errorf("peer id = %x", msg.PeerID)
			}
			if bytes.Contains(msg.Data, []byte("frame")) {
				t.Error("payload not encrypted")
			}
			payload, err := tt.to.Handle(relayed(msg))
			if err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			if string(payload) != "frame" {
				t.Errorf("payload = %q", payload)
			}

			// Replays fail without failing the handler.
			if _, err := tt.to.Handle(relayed(msg)); !errors.Is(err, cipher.ErrCipher) {
				t.Errorf("expected cipher error on replay, got %v", err)
			}
			if tt.to.State() != StateData {
				t.Errorf("state = %s, want Data", tt.to.State())
			}
		})
	}
}

func TestHandlerSameSideCannotTalk(t *testing.T) {
	a := dataHandler(t)
	b := dataHandler(t)
	if err := a.DeriveUnreliable(testSession, SideInitiator); err != nil {
		t.Fatalf("DeriveUnreliable failed: %v", err)
	}
	if err := b.DeriveUnreliable(testSession, SideInitiator); err != nil {
		t.Fatalf("DeriveUnreliable failed: %v", err)
	}

	msg, err := WrapUnreliable([]byte("frame"), testSession.PeerID, a.Unreliable())
	if err != nil {
		t.Fatalf("WrapUnreliable failed: %v", err)
	}
	if _, err := b.Handle(relayed(msg)); !errors.Is(err, cipher.ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

func TestHandlerRederiveRetiresHeldCipher(t *testing.T) {
	a := dataHandler(t)
	if err := a.DeriveUnreliable(testSession, SideInitiator); err != nil {
		t.Fatalf("DeriveUnreliable failed: %v", err)
	}
	held := a.Unreliable()
	if err := a.DeriveUnreliable(testSession, SideInitiator); err != nil {
		t.Fatalf("second DeriveUnreliable failed: %v", err)
	}
	if a.Unreliable() == held {
		t.Fatal("cipher not replaced")
	}
	if _, err := WrapUnreliable([]byte("frame"), testSession.PeerID, held); !errors.Is(err, cipher.ErrClosed) {
		t.Errorf("WrapUnreliable with retired cipher error = %v, want %v", err, cipher.ErrClosed)
	}
	if _, err := WrapUnreliable([]byte("frame"), testSession.PeerID, a.Unreliable()); err != nil {
		t.Errorf("WrapUnreliable with current cipher failed: %v", err)
	}
}

func TestLayer(t *testing.T) {
	if out, _ := (Direct{}).Seal([]byte("abc")); string(out) != "abc" {
		t.Errorf("Direct.Seal = %q", out)
	}
	if out, _ := (Direct{}).Open([]byte("abc")); string(out) != "abc" {
		t.Errorf("Direct.Open = %q", out)
	}

	h := NewHandler(Config{})
	if _, err := h.Seal([]byte("abc")); !errors.Is(err, ErrWrongMessageForState) {
		t.Fatalf("expected ErrWrongMessageForState, got %v", err)
	}
	hello, err := selproto.Encode(&selproto.ServerHello{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := h.Open(hello); err != nil {
		t.Fatalf("Open(ServerHello) failed: %v", err)
	}

	frame, err := h.Seal([]byte("abc"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if frame[0] != selproto.IDTransportDataMessageReliable {
		t.Errorf("frame id = %d", frame[0])
	}
	out, err := h.Open(frame)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(out) != "abc" {
		t.Errorf("Open = %q", out)
	}
}

type fakeSessions map[svsc.PeerID]bool

func (f fakeSessions) SessionActive(id svsc.PeerID) bool { return f[id] }

func udpAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestRelay(t *testing.T) {
	sessions := fakeSessions{testSession.PeerID: true}
	r := NewRelay(RelayConfig{Sessions: sessions})

	msg := &selproto.TransportDataPeerMessageUnreliable{PeerID: testSession.PeerID, Counter: 9, Data: []byte("ct")}

	if _, _, err := r.Route(msg, udpAddr(1000)); !errors.Is(err, ErrPeerNotReady) {
		t.Fatalf("expected ErrPeerNotReady, got %v", err)
	}

	out, to, err := r.Route(msg, udpAddr(2000))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if to.String() != udpAddr(1000).String() {
		t.Errorf("to = %s, want %s", to, udpAddr(1000))
	}
	if out.Counter != 9 || string(out.Data) != "ct" {
		t.Errorf("routed = %+v", out)
	}

	_, to, err = r.Route(msg, udpAddr(1000))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if to.String() != udpAddr(2000).String() {
		t.Errorf("to = %s, want %s", to, udpAddr(2000))
	}

	if _, _, err := r.Route(msg, udpAddr(3000)); !errors.Is(err, ErrRelayFull) {
		t.Errorf("expected ErrRelayFull, got %v", err)
	}

	unknown := &selproto.TransportDataPeerMessageUnreliable{PeerID: [selproto.PeerIDLen]byte{0xFF}}
	if _, _, err := r.Route(unknown, udpAddr(1000)); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}

	delete(sessions, testSession.PeerID)
	if n := r.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
