package format

import "errors"

var (
	// ErrTag indicates a start or end sentinel did not hold its expected value.
	ErrTag = errors.New("format: sentinel tag mismatch")
	// ErrChecksum indicates a CRC-16 did not match the covered bytes.
	ErrChecksum = errors.New("format: checksum mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrName indicates a name is empty, too long or not printable.
	ErrName = errors.New("format: invalid name")
	// ErrField indicates a decoded field is outside its legal range.
	ErrField = errors.New("format: field out of range")
)
