// Package srp defines the messages of the SRP authentication scheme.
// They travel inside wpskka.AuthMessage.
package srp

import (
	"github.com/backkem/screenview/pkg/wire"
)

// Field sizes.
const (
	UsernameLen  = 16
	SaltLen      = 16
	APubLen      = 256
	PublicKeyLen = 16
	MACLen       = 32
)

// Message identifiers.
const (
	IDHostHello   uint8 = 1
	IDClientHello uint8 = 2
	IDHostVerify  uint8 = 3
)

// Namespace holds every SRP message.
var Namespace = wire.NewNamespace("srp")

func init() {
	Namespace.Register(IDHostHello, func() wire.Message { return &HostHello{} })
	Namespace.Register(IDClientHello, func() wire.Message { return &ClientHello{} })
	Namespace.Register(IDHostVerify, func() wire.Message { return &HostVerify{} })
}

// Decode parses one SRP message.
func Decode(b []byte) (wire.Message, error) {
	return Namespace.Decode(b)
}

// Encode serializes one SRP message.
func Encode(m wire.Message) ([]byte, error) {
	return wire.Encode(m)
}

// HostHello starts the exchange with the registration parameters and the
// host's public value B.
type HostHello struct {
	Username [UsernameLen]byte
	Salt     [SaltLen]byte
	BPub     []byte
}

func (*HostHello) MessageID() uint8 { return IDHostHello }

func (m *HostHello) ReadBody(r *wire.Reader) error {
	if err := r.Fixed(m.Username[:]); err != nil {
		return err
	}
	if err := r.Fixed(m.Salt[:]); err != nil {
		return err
	}
	var err error
	m.BPub, err = r.Prefixed(2)
	return err
}

func (m *HostHello) WriteBody(w *wire.Writer) error {
	w.Raw(m.Username[:])
	w.Raw(m.Salt[:])
	return w.Prefixed(m.BPub, 2)
}

// ClientHello carries the client's public value A, the fingerprint of
// its X25519 key and a MAC over that key.
type ClientHello struct {
	Username  [UsernameLen]byte
	APub      [APubLen]byte
	PublicKey [PublicKeyLen]byte
	MAC       [MACLen]byte
}

func (*ClientHello) MessageID() uint8 { return IDClientHello }

func (m *ClientHello) ReadBody(r *wire.Reader) error {
	for _, f := range [][]byte{m.Username[:], m.APub[:], m.PublicKey[:], m.MAC[:]} {
		if err := r.Fixed(f); err != nil {
			return err
		}
	}
	return nil
}

func (m *ClientHello) WriteBody(w *wire.Writer) error {
	w.Raw(m.Username[:])
	w.Raw(m.APub[:])
	w.Raw(m.PublicKey[:])
	w.Raw(m.MAC[:])
	return nil
}

// HostVerify carries the host's MAC over its own X25519 key.
type HostVerify struct {
	MAC [MACLen]byte
}

func (*HostVerify) MessageID() uint8 { return IDHostVerify }

func (m *HostVerify) ReadBody(r *wire.Reader) error {
	return r.Fixed(m.MAC[:])
}

func (m *HostVerify) WriteBody(w *wire.Writer) error {
	w.Raw(m.MAC[:])
	return nil
}
