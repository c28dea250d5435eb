package wpskka

import (
	"github.com/backkem/screenview/pkg/wire"
)

// KeyExchange carries the sender's ephemeral X25519 public key.
type KeyExchange struct {
	PublicKey [PublicKeyLen]byte
}

func (*KeyExchange) MessageID() uint8 { return IDKeyExchange }

func (m *KeyExchange) ReadBody(r *wire.Reader) error {
	return r.Fixed(m.PublicKey[:])
}

func (m *KeyExchange) WriteBody(w *wire.Writer) error {
	w.Raw(m.PublicKey[:])
	return nil
}

// AuthScheme lists the schemes the host accepts.
type AuthScheme struct {
	Schemes []AuthSchemeType
}

func (*AuthScheme) MessageID() uint8 { return IDAuthScheme }

func (m *AuthScheme) ReadBody(r *wire.Reader) error {
	n, err := r.U8()
	if err != nil {
		return err
	}
	m.Schemes = make([]AuthSchemeType, 0, n)
	for i := 0; i < int(n); i++ {
		t, err := readScheme(r)
		if err != nil {
			return err
		}
		m.Schemes = append(m.Schemes, t)
	}
	return nil
}

func (m *AuthScheme) WriteBody(w *wire.Writer) error {
	if len(m.Schemes) > wire.MaxPrefixed(1) {
		return wire.ErrFieldTooLong
	}
	w.U8(uint8(len(m.Schemes)))
	for _, t := range m.Schemes {
		if !t.IsValid() {
			return wire.InvalidEnumError("auth_scheme", uint64(t))
		}
		w.U8(uint8(t))
	}
	return nil
}

// TryAuth selects one of the offered schemes.
type TryAuth struct {
	AuthScheme AuthSchemeType
}

func (*TryAuth) MessageID() uint8 { return IDTryAuth }

func (m *TryAuth) ReadBody(r *wire.Reader) (err error) {
	m.AuthScheme, err = readScheme(r)
	return err
}

func (m *TryAuth) WriteBody(w *wire.Writer) error {
	if !m.AuthScheme.IsValid() {
		return wire.InvalidEnumError("auth_scheme", uint64(m.AuthScheme))
	}
	w.U8(uint8(m.AuthScheme))
	return nil
}

// AuthMessage tunnels one message of the selected scheme.
type AuthMessage struct {
	Data []byte
}

func (*AuthMessage) MessageID() uint8 { return IDAuthMessage }

func (m *AuthMessage) ReadBody(r *wire.Reader) (err error) {
	m.Data, err = r.Prefixed(2)
	return err
}

func (m *AuthMessage) WriteBody(w *wire.Writer) error {
	return w.Prefixed(m.Data, 2)
}

// AuthResult reports the host's verdict.
type AuthResult struct {
	OK bool
}

func (*AuthResult) MessageID() uint8 { return IDAuthResult }

func (m *AuthResult) ReadBody(r *wire.Reader) (err error) {
	m.OK, err = r.Bool()
	return err
}

func (m *AuthResult) WriteBody(w *wire.Writer) error {
	w.Bool(m.OK)
	return nil
}

// TransportDataMessageReliable carries ciphertext over an ordered
// transport. The nonce is implicit.
type TransportDataMessageReliable struct {
	Data []byte
}

func (*TransportDataMessageReliable) MessageID() uint8 { return IDTransportDataMessageReliable }

func (m *TransportDataMessageReliable) ReadBody(r *wire.Reader) (err error) {
	m.Data, err = r.Prefixed(2)
	return err
}

func (m *TransportDataMessageReliable) WriteBody(w *wire.Writer) error {
	return w.Prefixed(m.Data, 2)
}

// TransportDataMessageUnreliable carries ciphertext with the counter it
// was sealed under.
type TransportDataMessageUnreliable struct {
	Counter uint64
	Data    []byte
}

func (*TransportDataMessageUnreliable) MessageID() uint8 { return IDTransportDataMessageUnreliable }

func (m *TransportDataMessageUnreliable) ReadBody(r *wire.Reader) error {
	var err error
	if m.Counter, err = r.U64(); err != nil {
		return err
	}
	m.Data, err = r.Prefixed(2)
	return err
}

func (m *TransportDataMessageUnreliable) WriteBody(w *wire.Writer) error {
	w.U64(m.Counter)
	return w.Prefixed(m.Data, 2)
}
