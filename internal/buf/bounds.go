// Package buf contains overflow-safe helpers for flash address arithmetic.
package buf

import (
	"fmt"
	"math"
)

// AddU32 adds a and b, returning ok = false when the result would overflow uint32.
func AddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}

// MulU32 multiplies a and b, returning ok = false when the result would overflow uint32.
// Used for sector count * sector size when laying out a medium.
func MulU32(a, b uint32) (uint32, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint32/b {
		return 0, false
	}
	return a * b, true
}

// Within reports whether [addr, addr+n) lies inside [lo, hi).
func Within(addr, n, lo, hi uint32) bool {
	if addr < lo || lo > hi {
		return false
	}
	end, ok := AddU32(addr, n)
	if !ok {
		return false
	}
	return end <= hi
}

// CheckRange validates that n bytes starting at addr fit in a region of size
// bytes starting at 0. Returns the end address if valid, or an error describing
// the specific failure (overflow or out of bounds).
//
//	end, err := buf.CheckRange(dev.Size(), addr, uint32(len(p)))
//	if err != nil {
//	    return fmt.Errorf("write: %w", err)
//	}
func CheckRange(size, addr, n uint32) (uint32, error) {
	end, ok := AddU32(addr, n)
	if !ok {
		return 0, fmt.Errorf("overflow: addr=0x%X + len=%d", addr, n)
	}
	if end > size {
		return 0, fmt.Errorf("bounds: end=0x%X > size=0x%X", end, size)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	if n > math.MaxInt-off {
		return nil, false
	}
	end := off + n
	if end > len(b) {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	_, ok := Slice(b, off, n)
	return ok
}
