package crypto

import (
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLenBytes is the size of every derived symmetric key.
const KeyLenBytes = 32

// Key is a 32-byte symmetric key.
type Key [KeyLenBytes]byte

// HKDF derives key material using HKDF (RFC 5869) with BLAKE3 as the
// hash. The salt is always empty.
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - info: Domain-separation context, such as a protocol label
//   - length: Number of bytes to derive
//
// Returns the derived key material of the specified length.
func HKDF(inputKey, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(NewHash, inputKey, nil, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

func deriveKeys(secret []byte, context string, n int) ([]Key, error) {
	okm, err := HKDF(secret, []byte(context), n*KeyLenBytes)
	if err != nil {
		return nil, err
	}
	defer Zero(okm)

	keys := make([]Key, n)
	for i := range keys {
		copy(keys[i][:], okm[i*KeyLenBytes:(i+1)*KeyLenBytes])
	}
	return keys, nil
}

// KDF1 derives one key from secret.
func KDF1(secret []byte, context string) (Key, error) {
	keys, err := deriveKeys(secret, context, 1)
	if err != nil {
		return Key{}, err
	}
	return keys[0], nil
}

// KDF2 derives two independent keys from secret.
func KDF2(secret []byte, context string) (Key, Key, error) {
	keys, err := deriveKeys(secret, context, 2)
	if err != nil {
		return Key{}, Key{}, err
	}
	return keys[0], keys[1], nil
}

// KDF4 derives four independent keys from secret.
//
// Parameters:
//   - secret: Shared secret from the handshake
//   - context: Domain-separation label, passed to HKDF as info
//
// Both peers call it with the same inputs. The caller assigns the keys to
// directions according to its role.
func KDF4(secret []byte, context string) ([4]Key, error) {
	keys, err := deriveKeys(secret, context, 4)
	if err != nil {
		return [4]Key{}, err
	}
	return [4]Key{keys[0], keys[1], keys[2], keys[3]}, nil
}
