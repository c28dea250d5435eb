// Package srp implements SRP-6a (RFC 5054) over the 2048-bit group with
// BLAKE3 as the hash function.
//
// ScreenView uses SRP as a balanced PAKE: the host knows the password,
// registers a throwaway verifier for a random username and salt, and then
// plays the server role while the client proves knowledge of the same
// password.
//
// Protocol flow:
//
//	Host                                 Client
//	----                                 ------
//	v = Verifier(user, pass, salt)
//	s, B = NewServer(v)      --user, salt, B-->
//	                                     c, A = NewClient(user, pass, salt, B)
//	                         <---A-------
//	K = s.SessionKey(A)                  K = c.SessionKey()
package srp

import (
	"errors"
	"io"
	"math/big"

	"github.com/backkem/screenview/pkg/crypto"
)

const (
	// GroupSizeBytes is the byte length of the group modulus and of every
	// padded group element.
	GroupSizeBytes = 256

	// PrivateSizeBytes is the length of the random ephemeral exponents.
	PrivateSizeBytes = 32
)

// Errors
var (
	ErrInvalidPublic   = errors.New("srp: public value is zero modulo N")
	ErrInvalidScramble = errors.New("srp: scrambling parameter is zero")
	ErrPublicTooLarge  = errors.New("srp: public value exceeds group size")
)

// rfc5054N is the 2048-bit group modulus from RFC 5054 Appendix A.
const rfc5054N = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

// The group parameters are process-wide and read-only.
var (
	groupN = mustHex(rfc5054N)
	groupG = big.NewInt(2)
	paramK = hashInt(pad(groupN), pad(groupG))
)

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: bad group constant")
	}
	return n
}

// pad left-pads the big-endian encoding of n to GroupSizeBytes.
func pad(n *big.Int) []byte {
	return n.FillBytes(make([]byte, GroupSizeBytes))
}

func hashInt(parts ...[]byte) *big.Int {
	h := crypto.Hash(parts...)
	return new(big.Int).SetBytes(h[:])
}

// privateKey computes x = H(salt | H(username | ":" | password)).
func privateKey(username, password, salt []byte) *big.Int {
	inner := crypto.Hash(username, []byte(":"), password)
	return hashInt(salt, inner[:])
}

// Verifier computes v = g^x mod N for the given credentials.
func Verifier(username, password, salt []byte) []byte {
	x := privateKey(username, password, salt)
	v := new(big.Int).Exp(groupG, x, groupN)
	return pad(v)
}

func randomExponent(rand io.Reader) (*big.Int, error) {
	b := make([]byte, PrivateSizeBytes)
	if err := crypto.ReadRandom(rand, b); err != nil {
		return nil, err
	}
	defer crypto.Zero(b)
	return new(big.Int).SetBytes(b), nil
}

func parsePublic(b []byte) (*big.Int, error) {
	if len(b) > GroupSizeBytes {
		return nil, ErrPublicTooLarge
	}
	v := new(big.Int).SetBytes(b)
	if new(big.Int).Mod(v, groupN).Sign() == 0 {
		return nil, ErrInvalidPublic
	}
	return v, nil
}

func scramble(a, b *big.Int) (*big.Int, error) {
	u := hashInt(pad(a), pad(b))
	if u.Sign() == 0 {
		return nil, ErrInvalidScramble
	}
	return u, nil
}

func sessionKey(s *big.Int) []byte {
	k := crypto.Hash(pad(s))
	return k[:]
}

// Server is the verifier side of one exchange.
type Server struct {
	v    *big.Int
	b    *big.Int
	bPub *big.Int
}

// NewServer starts an exchange for a registered verifier. rand may be nil.
func NewServer(verifier []byte, rand io.Reader) (*Server, error) {
	b, err := randomExponent(rand)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(verifier)

	// B = k*v + g^b mod N
	bPub := new(big.Int).Mul(paramK, v)
	bPub.Add(bPub, new(big.Int).Exp(groupG, b, groupN))
	bPub.Mod(bPub, groupN)

	return &Server{v: v, b: b, bPub: bPub}, nil
}

// Public returns B padded to GroupSizeBytes.
func (s *Server) Public() []byte {
	return pad(s.bPub)
}

// SessionKey computes the shared key from the client's public value A.
func (s *Server) SessionKey(clientPublic []byte) ([]byte, error) {
	a, err := parsePublic(clientPublic)
	if err != nil {
		return nil, err
	}
	u, err := scramble(a, s.bPub)
	if err != nil {
		return nil, err
	}

	// S = (A * v^u)^b mod N
	base := new(big.Int).Exp(s.v, u, groupN)
	base.Mul(base, a)
	base.Mod(base, groupN)
	secret := new(big.Int).Exp(base, s.b, groupN)
	return sessionKey(secret), nil
}

// Client is the prover side of one exchange.
type Client struct {
	aPub *big.Int
	key  []byte
}

// NewClient answers a server challenge. It computes A and the shared key
// from the credentials, salt and the server public value B. rand may be nil.
func NewClient(username, password, salt, serverPublic []byte, rand io.Reader) (*Client, error) {
	bPub, err := parsePublic(serverPublic)
	if err != nil {
		return nil, err
	}
	a, err := randomExponent(rand)
	if err != nil {
		return nil, err
	}
	aPub := new(big.Int).Exp(groupG, a, groupN)

	u, err := scramble(aPub, bPub)
	if err != nil {
		return nil, err
	}
	x := privateKey(username, password, salt)

	// S = (B - k*g^x)^(a + u*x) mod N
	base := new(big.Int).Exp(groupG, x, groupN)
	base.Mul(base, paramK)
	base.Sub(bPub, base)
	base.Mod(base, groupN)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	secret := new(big.Int).Exp(base, exp, groupN)

	return &Client{aPub: aPub, key: sessionKey(secret)}, nil
}

// Public returns A padded to GroupSizeBytes.
func (c *Client) Public() []byte {
	return pad(c.aPub)
}

// SessionKey returns the shared key.
func (c *Client) SessionKey() []byte {
	return c.key
}
