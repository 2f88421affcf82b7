package flash

import (
	"sync"
)

// Mem is a RAM-backed medium. A fresh Mem reads as erased flash.
//
// Fault injection mirrors what a flight controller sees on the bench:
// a power cut (every write after the Nth fails until Restore), a single
// failed erase, and a chip that does not answer identification.
//
// By default a write lands atomically. WithSectorRewrite models raw NOR
// instead: each touched sector is erased and then programmed, and a power
// cut between the two leaves that sector erased.
type Mem struct {
	mu     sync.Mutex
	data   []byte
	sector uint32
	id     ProductID

	writes  int // successful writes since creation
	rewrite bool

	cutAfter      int // writes still allowed before the cut, -1 when disarmed
	powerLost     bool
	failErases    int
	failIdentify  int
	eraseCount    int
	identifyCount int
}

// MemOption configures a Mem.
type MemOption func(*Mem)

// WithProductID sets the identification reported by Identify.
func WithProductID(id ProductID) MemOption {
	return func(m *Mem) { m.id = id }
}

// WithSectorRewrite makes every write a per-sector erase and program cycle.
// CutPowerAfter then counts sector cycles rather than writes.
func WithSectorRewrite() MemOption {
	return func(m *Mem) { m.rewrite = true }
}

// NewMem creates an erased medium of size bytes with the given erase unit.
func NewMem(size, sectorSize uint32, opts ...MemOption) *Mem {
	m := &Mem{
		data:     make([]byte, size),
		sector:   sectorSize,
		cutAfter: -1,
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Read implements Device.
func (m *Mem) Read(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAccess(m.Size(), addr, len(p)); err != nil {
		return err
	}
	copy(p, m.data[addr:])
	return nil
}

// Write implements Device. Once a power cut triggers, nothing is written.
func (m *Mem) Write(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAccess(m.Size(), addr, len(p)); err != nil {
		return err
	}
	if m.powerLost {
		return ErrPowerLoss
	}
	if m.rewrite {
		return m.rewriteSectors(addr, p)
	}
	if m.cutAfter == 0 {
		m.powerLost = true
		return ErrPowerLoss
	}
	if m.cutAfter > 0 {
		m.cutAfter--
	}
	copy(m.data[addr:], p)
	m.writes++
	return nil
}

// rewriteSectors programs p one sector at a time. A cut erases the sector
// it hits; sectors before it keep their new contents.
func (m *Mem) rewriteSectors(addr uint32, p []byte) error {
	end := addr + uint32(len(p))
	for cur := addr; cur < end; {
		start := cur - cur%m.sector
		next := min(start+m.sector, end)
		if m.cutAfter == 0 {
			for i := start; i < start+m.sector; i++ {
				m.data[i] = 0xFF
			}
			m.powerLost = true
			return ErrPowerLoss
		}
		if m.cutAfter > 0 {
			m.cutAfter--
		}
		copy(m.data[cur:next], p[cur-addr:])
		cur = next
	}
	m.writes++
	return nil
}

// Erase implements Device.
func (m *Mem) Erase(addr, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkErase(m.Size(), m.sector, addr, size); err != nil {
		return err
	}
	if m.powerLost {
		return ErrPowerLoss
	}
	if m.failErases > 0 {
		m.failErases--
		return ErrInjected
	}
	m.eraseCount++
	for i := addr; i < addr+size; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

// Size implements Device.
func (m *Mem) Size() uint32 { return uint32(len(m.data)) }

// SectorSize implements Device.
func (m *Mem) SectorSize() uint32 { return m.sector }

// Identify implements Identifier.
func (m *Mem) Identify() (ProductID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identifyCount++
	if m.failIdentify > 0 {
		m.failIdentify--
		return ProductID{}, ErrInjected
	}
	return m.id, nil
}

// CutPowerAfter lets the next n writes through and fails every write and
// erase after that, as if the supply dropped. n = 0 cuts immediately. In
// sector rewrite mode n counts sector cycles.
func (m *Mem) CutPowerAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutAfter = n
	m.powerLost = false
}

// Restore clears every armed fault, as after a reboot.
func (m *Mem) Restore() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutAfter = -1
	m.powerLost = false
	m.failErases = 0
	m.failIdentify = 0
}

// FailErases makes the next n erases fail.
func (m *Mem) FailErases(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErases = n
}

// FailIdentify makes the next n identifications fail.
func (m *Mem) FailIdentify(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIdentify = n
}

// Writes returns the number of writes that reached the medium.
func (m *Mem) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Erases returns the number of successful erases.
func (m *Mem) Erases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eraseCount
}

// Identifies returns the number of Identify calls.
func (m *Mem) Identifies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identifyCount
}

// Bytes returns a copy of the whole medium.
func (m *Mem) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Poke overwrites bytes directly, bypassing faults. Tests use it to corrupt
// stored structures.
func (m *Mem) Poke(addr uint32, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], p)
}
