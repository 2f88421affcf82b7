package storage

import (
	"fmt"
	"strings"

	"github.com/joshuapare/paramkit/internal/format"
)

// Medium selects a physical flash target.
type Medium uint8

const (
	Internal Medium = iota // on-chip flash
	External               // external SPI NOR chip

	numMedia = 2
)

func (m Medium) String() string {
	switch m {
	case Internal:
		return "internal"
	case External:
		return "external"
	default:
		return fmt.Sprintf("medium(%d)", uint8(m))
	}
}

// ParseMedium accepts the names printed by Medium.String.
func ParseMedium(s string) (Medium, error) {
	switch strings.ToLower(s) {
	case "internal", "onchip", "int":
		return Internal, nil
	case "external", "ext":
		return External, nil
	}
	return 0, fmt.Errorf("unknown medium %q", s)
}

func (m Medium) valid() bool { return m < numMedia }

func (m Medium) tag() string {
	if m == External {
		return format.ExternalTag
	}
	return format.InternalTag
}

// Class selects a parameter partition within a medium.
type Class uint8

const (
	Boot Class = iota
	System
	User

	numClasses = format.NumSections
)

func (c Class) String() string {
	switch c {
	case Boot:
		return "boot"
	case System:
		return "system"
	case User:
		return "user"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseClass accepts the names printed by Class.String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(s) {
	case "boot":
		return Boot, nil
	case "system", "sys":
		return System, nil
	case "user":
		return User, nil
	}
	return 0, fmt.Errorf("unknown class %q", s)
}

func (c Class) valid() bool { return c < numClasses }

// Classes lists every class in on-flash order.
var Classes = [numClasses]Class{Boot, System, User}

// EnableMask selects media for Init. The bit positions match the firmware's
// enable register: bit 0 on-chip, bit 4 external.
type EnableMask uint8

const (
	EnableInternal EnableMask = 1 << 0
	EnableExternal EnableMask = 1 << 4

	EnableAll = EnableInternal | EnableExternal
)

func maskFor(m Medium) EnableMask {
	if m == External {
		return EnableExternal
	}
	return EnableInternal
}

// Has reports whether m is selected.
func (e EnableMask) Has(m Medium) bool { return e&maskFor(m) != 0 }

func (e EnableMask) String() string {
	var parts []string
	if e.Has(Internal) {
		parts = append(parts, "internal")
	}
	if e.Has(External) {
		parts = append(parts, "external")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Handle is an opaque reference to one item table entry. The zero Handle is
// invalid.
//
//	bit 31     valid marker
//	bits 24-27 medium
//	bits 16-23 class
//	bits 0-15  table index
type Handle uint32

// InvalidHandle is returned by Search when nothing matches.
const InvalidHandle Handle = 0

const (
	handleValidBit    = 1 << 31
	handleMediumShift = 24
	handleClassShift  = 16
	handleIndexMask   = 0xFFFF
)

func makeHandle(m Medium, c Class, idx int) Handle {
	return Handle(handleValidBit |
		uint32(m)<<handleMediumShift |
		uint32(c)<<handleClassShift |
		uint32(idx)&handleIndexMask)
}

// decode splits the handle; ok is false for structurally invalid handles.
func (h Handle) decode() (m Medium, c Class, idx int, ok bool) {
	if h&handleValidBit == 0 {
		return 0, 0, 0, false
	}
	m = Medium(h >> handleMediumShift & 0x0F)
	c = Class(h >> handleClassShift & 0xFF)
	idx = int(h & handleIndexMask)
	return m, c, idx, m.valid() && c.valid()
}

// Valid reports whether h could have been returned by Search.
func (h Handle) Valid() bool {
	_, _, _, ok := h.decode()
	return ok
}

func (h Handle) String() string {
	m, c, idx, ok := h.decode()
	if !ok {
		return "handle(invalid)"
	}
	return fmt.Sprintf("%s/%s#%d", m, c, idx)
}
