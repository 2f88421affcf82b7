package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrRange indicates an access outside the medium.
	ErrRange = errors.New("flash: address out of range")
	// ErrUnaligned indicates an erase that does not cover whole sectors.
	ErrUnaligned = errors.New("flash: erase not sector aligned")
	// ErrPowerLoss is returned by Mem once an injected power cut is active.
	ErrPowerLoss = errors.New("flash: power lost")
	// ErrInjected is returned by Mem for a single injected fault.
	ErrInjected = errors.New("flash: injected fault")
	// ErrClosed indicates the medium was closed.
	ErrClosed = errors.New("flash: medium closed")
)

// Device is the medium driver consumed by the store.
type Device interface {
	// Read copies len(p) bytes starting at addr into p.
	Read(addr uint32, p []byte) error
	// Write leaves exactly p at addr. Drivers for raw NOR perform the
	// sector read-erase-program cycle themselves.
	Write(addr uint32, p []byte) error
	// Erase resets [addr, addr+size) to 0xFF. Both must be sector aligned.
	Erase(addr, size uint32) error
	// Size returns the medium capacity in bytes.
	Size() uint32
	// SectorSize returns the erase unit in bytes.
	SectorSize() uint32
}

// ProductID is the identification a chip reports over its bus.
type ProductID struct {
	Type uint16 // manufacturer
	Code uint16 // device
}

func (p ProductID) String() string {
	return fmt.Sprintf("%04X:%04X", p.Type, p.Code)
}

// Identifier is implemented by media that can report a ProductID.
type Identifier interface {
	Identify() (ProductID, error)
}

// Syncer is implemented by media whose writes are buffered by the host
// and must be flushed to become durable.
type Syncer interface {
	Sync() error
}

// checkAccess validates [addr, addr+n) against a medium of size bytes.
func checkAccess(size, addr uint32, n int) error {
	if n < 0 || uint64(addr)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: addr=0x%X len=%d size=0x%X", ErrRange, addr, n, size)
	}
	return nil
}

// checkErase validates a sector-aligned erase range.
func checkErase(size, sector, addr, n uint32) error {
	if err := checkAccess(size, addr, int(n)); err != nil {
		return err
	}
	if sector == 0 || addr%sector != 0 || n%sector != 0 {
		return fmt.Errorf("%w: addr=0x%X len=%d sector=%d", ErrUnaligned, addr, n, sector)
	}
	return nil
}
