package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestNonceLayout(t *testing.T) {
	n := Nonce(0x0102030405060708)
	want := [NonceLenBytes]byte{0, 0, 0, 0, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if n != want {
		t.Errorf("Nonce = %x, want %x", n, want)
	}
}

func TestSealOpen(t *testing.T) {
	var key Key
	copy(key[:], bytes.Repeat([]byte{0x11}, KeyLenBytes))
	ad := []byte("WPSKKA-Encryption-Reliable")

	ct, err := Seal(&key, 3, []byte("hello"), ad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(ct) != len("hello")+TagLenBytes {
		t.Errorf("ciphertext length = %d, want %d", len(ct), len("hello")+TagLenBytes)
	}

	pt, err := Open(&key, 3, ct, ad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(pt) != "hello" {
		t.Errorf("Open = %q, want %q", pt, "hello")
	}

	tests := []struct {
		name    string
		key     Key
		counter uint64
		ct      []byte
		ad      []byte
	}{
		{"wrong counter", key, 4, ct, ad},
		{"wrong ad", key, 3, ct, []byte("other")},
		{"wrong key", Key{}, 3, ct, ad},
		{"flipped bit", key, 3, append([]byte{ct[0] ^ 0x80}, ct[1:]...), ad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(&tt.key, tt.counter, tt.ct, tt.ad); !errors.Is(err, ErrDecrypt) {
				t.Errorf("Open error = %v, want ErrDecrypt", err)
			}
		})
	}
}

func TestX25519Agreement(t *testing.T) {
	a, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	b, err := GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	s1, err := a.SharedSecret(b.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	s2, err := b.SharedSecret(a.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets differ")
	}

	if _, err := a.SharedSecret(make([]byte, PublicKeyLenBytes)); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("SharedSecret(zero point) error = %v, want ErrInvalidPublicKey", err)
	}
	if _, err := a.SharedSecret([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("SharedSecret(short) error = %v, want ErrInvalidPublicKey", err)
	}
}
