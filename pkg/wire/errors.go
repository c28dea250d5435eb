package wire

import (
	"errors"
	"fmt"
)

// ErrCodec is the category of every error returned while decoding or
// encoding a message. Use errors.Is(err, ErrCodec) to classify.
var ErrCodec = errors.New("wire: codec error")

// Codec errors.
var (
	// ErrTruncated is returned when the input ends before a field is complete.
	ErrTruncated = fmt.Errorf("%w: truncated input", ErrCodec)

	// ErrBadLengthPrefix is returned when a length prefix exceeds the remaining input.
	ErrBadLengthPrefix = fmt.Errorf("%w: length prefix exceeds input", ErrCodec)

	// ErrFieldTooLong is returned when a value does not fit its length prefix.
	ErrFieldTooLong = fmt.Errorf("%w: field too long for prefix", ErrCodec)

	// ErrFixedSize is returned when a fixed-size field is written with the wrong length.
	ErrFixedSize = fmt.Errorf("%w: fixed-size field length mismatch", ErrCodec)

	// ErrUnknownMessageID is returned for an identifier not registered in the namespace.
	ErrUnknownMessageID = fmt.Errorf("%w: unknown message id", ErrCodec)

	// ErrInvalidEnumValue is returned when an enum byte has no defined meaning.
	ErrInvalidEnumValue = fmt.Errorf("%w: invalid enum value", ErrCodec)

	// ErrBadBool is returned when a boolean byte is neither 0 nor 1.
	ErrBadBool = fmt.Errorf("%w: bad boolean", ErrCodec)

	// ErrTrailingBytes is returned when input remains after the last field.
	ErrTrailingBytes = fmt.Errorf("%w: trailing bytes", ErrCodec)

	// ErrInvalidPrefixWidth is returned for a length prefix width other than 1, 2 or 3.
	ErrInvalidPrefixWidth = fmt.Errorf("%w: invalid prefix width", ErrCodec)
)

// BadBoolError carries the offending byte of a malformed boolean.
type BadBoolError struct {
	Value byte
}

func (e *BadBoolError) Error() string {
	return fmt.Sprintf("wire: bad boolean 0x%02x", e.Value)
}

// Is reports ErrBadBool and ErrCodec as matches.
func (e *BadBoolError) Is(target error) bool {
	return target == ErrBadBool || target == ErrCodec
}

// InvalidEnumError carries the offending value of an enum field.
func InvalidEnumError(field string, value uint64) error {
	return fmt.Errorf("%w: %s=%d", ErrInvalidEnumValue, field, value)
}
