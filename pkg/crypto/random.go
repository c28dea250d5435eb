package crypto

import (
	"crypto/rand"
	"io"
)

// ReadRandom fills b from r, or from crypto/rand when r is nil.
func ReadRandom(r io.Reader, b []byte) error {
	if r == nil {
		r = rand.Reader
	}
	_, err := io.ReadFull(r, b)
	return err
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := ReadRandom(nil, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Zero overwrites the key with zeros.
func (k *Key) Zero() {
	Zero(k[:])
}
