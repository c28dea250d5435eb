// Package wpskka defines the messages of the peer-to-peer handshake and
// of the encrypted transport that follows it.
//
// The handshake exchanges X25519 public keys, lets the host offer
// authentication schemes, tunnels the chosen scheme's messages in
// AuthMessage and ends with AuthResult. Afterwards all application data
// travels in TransportDataMessageReliable or TransportDataMessageUnreliable.
package wpskka

import (
	"fmt"

	"github.com/backkem/screenview/pkg/wire"
)

// Domain separation contexts.
const (
	KDFContext            = "WPSKKA-KeyDerivation"
	AEADReliableContext   = "WPSKKA-Encryption-Reliable"
	AEADUnreliableContext = "WPSKKA-Encryption-Unreliable"
	AuthSRPContext        = "WPSKKA-Auth-SRP"
)

// PublicKeyLen is the size of an X25519 public key.
const PublicKeyLen = 32

// Message identifiers.
const (
	IDKeyExchange                    uint8 = 1
	IDAuthScheme                     uint8 = 2
	IDTryAuth                        uint8 = 3
	IDAuthMessage                    uint8 = 4
	IDAuthResult                     uint8 = 5
	IDTransportDataMessageReliable   uint8 = 6
	IDTransportDataMessageUnreliable uint8 = 7
)

// AuthSchemeType names an authentication scheme.
type AuthSchemeType uint8

const (
	// AuthSchemeNone accepts the raw key exchange without authentication.
	AuthSchemeNone AuthSchemeType = 0
	// AuthSchemeSrpDynamic authenticates with a one-time password shown by the host.
	AuthSchemeSrpDynamic AuthSchemeType = 1
	// AuthSchemeSrpStatic authenticates with a password configured on the host.
	AuthSchemeSrpStatic AuthSchemeType = 2
	// AuthSchemePublicKey is reserved for key-based authentication.
	AuthSchemePublicKey AuthSchemeType = 3
)

// String returns the scheme name.
func (t AuthSchemeType) String() string {
	switch t {
	case AuthSchemeNone:
		return "None"
	case AuthSchemeSrpDynamic:
		return "SrpDynamic"
	case AuthSchemeSrpStatic:
		return "SrpStatic"
	case AuthSchemePublicKey:
		return "PublicKey"
	default:
		return fmt.Sprintf("AuthSchemeType(%d)", uint8(t))
	}
}

// IsValid reports whether t is a defined scheme.
func (t AuthSchemeType) IsValid() bool {
	return t <= AuthSchemePublicKey
}

// IsSRP reports whether t uses the SRP exchange.
func (t AuthSchemeType) IsSRP() bool {
	return t == AuthSchemeSrpDynamic || t == AuthSchemeSrpStatic
}

// Namespace holds every WPSKKA message.
var Namespace = wire.NewNamespace("wpskka")

func init() {
	Namespace.Register(IDKeyExchange, func() wire.Message { return &KeyExchange{} })
	Namespace.Register(IDAuthScheme, func() wire.Message { return &AuthScheme{} })
	Namespace.Register(IDTryAuth, func() wire.Message { return &TryAuth{} })
	Namespace.Register(IDAuthMessage, func() wire.Message { return &AuthMessage{} })
	Namespace.Register(IDAuthResult, func() wire.Message { return &AuthResult{} })
	Namespace.Register(IDTransportDataMessageReliable, func() wire.Message { return &TransportDataMessageReliable{} })
	Namespace.Register(IDTransportDataMessageUnreliable, func() wire.Message { return &TransportDataMessageUnreliable{} })
}

// Decode parses one WPSKKA message.
func Decode(b []byte) (wire.Message, error) {
	return Namespace.Decode(b)
}

// Encode serializes one WPSKKA message.
func Encode(m wire.Message) ([]byte, error) {
	return wire.Encode(m)
}

func readScheme(r *wire.Reader) (AuthSchemeType, error) {
	v, err := r.U8()
	if err != nil {
		return 0, err
	}
	t := AuthSchemeType(v)
	if !t.IsValid() {
		return 0, wire.InvalidEnumError("auth_scheme", uint64(v))
	}
	return t, nil
}
