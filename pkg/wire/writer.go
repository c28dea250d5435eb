package wire

import (
	"encoding/binary"
)

// Writer appends encoded fields in declaration order.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded output.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// U8 appends one byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// U24 appends the low 3 bytes of v, little-endian.
func (w *Writer) U24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// Bool appends 0x01 for true and 0x00 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// Raw appends b unchanged. Used for fixed arrays and greedy trailing fields.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Fixed appends b, which must be exactly size bytes long.
func (w *Writer) Fixed(b []byte, size int) error {
	if len(b) != size {
		return ErrFixedSize
	}
	w.buf = append(w.buf, b...)
	return nil
}

// MaxPrefixed returns the largest value length a prefix of the given width can carry.
func MaxPrefixed(width int) int {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 3:
		return 0xFFFFFF
	default:
		return -1
	}
}

// Prefixed appends len(b) as a little-endian prefix of the given width
// followed by b.
func (w *Writer) Prefixed(b []byte, width int) error {
	limit := MaxPrefixed(width)
	if limit < 0 {
		return ErrInvalidPrefixWidth
	}
	if len(b) > limit {
		return ErrFieldTooLong
	}
	switch width {
	case 1:
		w.U8(uint8(len(b)))
	case 2:
		w.U16(uint16(len(b)))
	case 3:
		w.U24(uint32(len(b)))
	}
	w.buf = append(w.buf, b...)
	return nil
}

// String appends s as a fixed-length field of exactly n bytes.
func (w *Writer) String(s string, n int) error {
	return w.Fixed([]byte(s), n)
}
