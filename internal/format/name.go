package format

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Name is the fixed-width on-flash name field.
type Name [NameFieldSize]byte

// EncodeName converts a Go string to its single-byte on-flash form.
// Names are stored in Windows-1252 so that an operator can type them in
// UTF-8 while the record keeps one byte per character.
//
// The encoded name must be 1..MaxNameLen bytes and contain only printable
// characters (no control bytes, no DEL).
func EncodeName(s string) (Name, error) {
	var n Name
	if s == "" {
		return n, fmt.Errorf("name: %w: empty", ErrName)
	}
	raw, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return n, fmt.Errorf("name %q: %w: %v", s, ErrName, err)
	}
	if len(raw) > MaxNameLen {
		return n, fmt.Errorf("name %q: %w: %d bytes (max %d)", s, ErrName, len(raw), MaxNameLen)
	}
	for _, c := range raw {
		if !printable(c) {
			return n, fmt.Errorf("name %q: %w: byte 0x%02X not printable", s, ErrName, c)
		}
	}
	copy(n[:], raw)
	return n, nil
}

// MustName is EncodeName for compile-time constants such as AvailableName.
func MustName(s string) Name {
	n, err := EncodeName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String decodes the name back to UTF-8, stopping at the first NUL.
func (n Name) String() string {
	raw := n.Bytes()
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}

// Bytes returns the significant bytes of the name (up to the first NUL).
func (n Name) Bytes() []byte {
	if i := bytes.IndexByte(n[:], 0); i >= 0 {
		return n[:i]
	}
	return n[:]
}

// Valid reports whether the field is a well formed name: at least one
// printable byte, NUL terminated and NUL padded.
func (n Name) Valid() bool {
	raw := n.Bytes()
	if len(raw) == 0 || len(raw) > MaxNameLen {
		return false
	}
	for _, c := range raw {
		if !printable(c) {
			return false
		}
	}
	for _, c := range n[len(raw):] {
		if c != 0 {
			return false
		}
	}
	return true
}

func printable(c byte) bool {
	return c >= 0x20 && c != 0x7F
}

// AvailableItemName is the encoded placeholder name.
var AvailableItemName = MustName(AvailableName)
