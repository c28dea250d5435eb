package wire

import (
	"encoding/binary"
)

// Reader is a forward-only cursor over an encoded message.
// Every read either consumes exactly the bytes of one field or fails
// without consuming anything.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U24 reads a little-endian 3-byte unsigned integer.
func (r *Reader) U24() (uint32, error) {
	b, err := r.take(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Bool reads a strict boolean. Only 0x00 and 0x01 are accepted.
func (r *Reader) Bool() (bool, error) {
	if r.Len() < 1 {
		return false, ErrTruncated
	}
	switch v := r.buf[r.off]; v {
	case 0:
		r.off++
		return false, nil
	case 1:
		r.off++
		return true, nil
	default:
		return false, &BadBoolError{Value: v}
	}
}

// Fixed fills dst with exactly len(dst) bytes.
func (r *Reader) Fixed(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Bytes reads exactly n bytes into a new slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Prefixed reads a length prefix of the given width (1, 2 or 3 bytes,
// little-endian) followed by that many bytes.
func (r *Reader) Prefixed(width int) ([]byte, error) {
	start := r.off
	var n uint32
	switch width {
	case 1:
		v, err := r.U8()
		if err != nil {
			return nil, err
		}
		n = uint32(v)
	case 2:
		v, err := r.U16()
		if err != nil {
			return nil, err
		}
		n = uint32(v)
	case 3:
		v, err := r.U24()
		if err != nil {
			return nil, err
		}
		n = v
	default:
		return nil, ErrInvalidPrefixWidth
	}
	if uint32(r.Len()) < n {
		r.off = start
		return nil, ErrBadLengthPrefix
	}
	return r.Bytes(int(n))
}

// String reads a fixed-length ASCII string of n bytes.
func (r *Reader) String(n int) (string, error) {
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Rest consumes and returns every remaining byte. It is used for a
// greedy trailing field and never fails.
func (r *Reader) Rest() []byte {
	out := make([]byte, r.Len())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}
