// Package sel defines the messages of the signaling encryption layer,
// the envelope that carries peer traffic through the rendezvous server.
package sel

import (
	"github.com/backkem/screenview/pkg/wire"
)

// Domain separation contexts for the relayed unreliable channel.
const (
	KDFContext  = "SEL-KeyDerivation-Unreliable"
	AEADContext = "SEL-Encryption-Unreliable"
)

// Field sizes.
const (
	PublicKeyLen = 16
	PeerIDLen    = 16
)

// Message identifiers.
const (
	IDPeerHello                            uint8 = 1
	IDServerHello                          uint8 = 2
	IDTransportDataMessageReliable         uint8 = 3
	IDTransportDataPeerMessageUnreliable   uint8 = 4
	IDTransportDataServerMessageUnreliable uint8 = 5
)

// Namespace holds every SEL message.
var Namespace = wire.NewNamespace("sel")

func init() {
	Namespace.Register(IDPeerHello, func() wire.Message { return &PeerHello{} })
	Namespace.Register(IDServerHello, func() wire.Message { return &ServerHello{} })
	Namespace.Register(IDTransportDataMessageReliable, func() wire.Message { return &TransportDataMessageReliable{} })
	Namespace.Register(IDTransportDataPeerMessageUnreliable, func() wire.Message { return &TransportDataPeerMessageUnreliable{} })
	Namespace.Register(IDTransportDataServerMessageUnreliable, func() wire.Message { return &TransportDataServerMessageUnreliable{} })
}

// Decode parses one SEL message.
func Decode(b []byte) (wire.Message, error) {
	return Namespace.Decode(b)
}

// Encode serializes one SEL message.
func Encode(m wire.Message) ([]byte, error) {
	return wire.Encode(m)
}

// PeerHello introduces a peer to the server.
type PeerHello struct {
	PublicKey [PublicKeyLen]byte
}

func (*PeerHello) MessageID() uint8 { return IDPeerHello }

func (m *PeerHello) ReadBody(r *wire.Reader) error {
	return r.Fixed(m.PublicKey[:])
}

func (m *PeerHello) WriteBody(w *wire.Writer) error {
	w.Raw(m.PublicKey[:])
	return nil
}

// ServerHello answers PeerHello with the server's credentials.
type ServerHello struct {
	CertificateList   []byte
	PublicKey         [PublicKeyLen]byte
	CertificateVerify []byte
}

func (*ServerHello) MessageID() uint8 { return IDServerHello }

func (m *ServerHello) ReadBody(r *wire.Reader) error {
	var err error
	if m.CertificateList, err = r.Prefixed(3); err != nil {
		return err
	}
	if err = r.Fixed(m.PublicKey[:]); err != nil {
		return err
	}
	m.CertificateVerify = r.Rest()
	return nil
}

func (m *ServerHello) WriteBody(w *wire.Writer) error {
	if err := w.Prefixed(m.CertificateList, 3); err != nil {
		return err
	}
	w.Raw(m.PublicKey[:])
	w.Raw(m.CertificateVerify)
	return nil
}

// TransportDataMessageReliable carries upper-layer bytes over the
// reliable server connection.
type TransportDataMessageReliable struct {
	Data []byte
}

func (*TransportDataMessageReliable) MessageID() uint8 { return IDTransportDataMessageReliable }

func (m *TransportDataMessageReliable) ReadBody(r *wire.Reader) error {
	m.Data = r.Rest()
	return nil
}

func (m *TransportDataMessageReliable) WriteBody(w *wire.Writer) error {
	w.Raw(m.Data)
	return nil
}

// TransportDataPeerMessageUnreliable is sent by a peer to the server,
// addressed to the peer it is in session with.
type TransportDataPeerMessageUnreliable struct {
	PeerID  [PeerIDLen]byte
	Counter uint64
	Data    []byte
}

func (*TransportDataPeerMessageUnreliable) MessageID() uint8 {
	return IDTransportDataPeerMessageUnreliable
}

func (m *TransportDataPeerMessageUnreliable) ReadBody(r *wire.Reader) error {
	if err := r.Fixed(m.PeerID[:]); err != nil {
		return err
	}
	var err error
	if m.Counter, err = r.U64(); err != nil {
		return err
	}
	m.Data = r.Rest()
	return nil
}

func (m *TransportDataPeerMessageUnreliable) WriteBody(w *wire.Writer) error {
	w.Raw(m.PeerID[:])
	w.U64(m.Counter)
	w.Raw(m.Data)
	return nil
}

// TransportDataServerMessageUnreliable is forwarded by the server to the
// addressed peer.
type TransportDataServerMessageUnreliable struct {
	Counter uint64
	Data    []byte
}

func (*TransportDataServerMessageUnreliable) MessageID() uint8 {
	return IDTransportDataServerMessageUnreliable
}

func (m *TransportDataServerMessageUnreliable) ReadBody(r *wire.Reader) error {
	var err error
	if m.Counter, err = r.U64(); err != nil {
		return err
	}
	m.Data = r.Rest()
	return nil
}

func (m *TransportDataServerMessageUnreliable) WriteBody(w *wire.Writer) error {
	w.U64(m.Counter)
	w.Raw(m.Data)
	return nil
}
