package storage

import (
	"fmt"

	"github.com/joshuapare/paramkit/internal/buf"
	"github.com/joshuapare/paramkit/internal/format"
)

// SectionLayout sizes one class in whole sectors.
type SectionLayout struct {
	TableSectors uint32
	DataSectors  uint32
}

// Layout places the header copies, the write journal and the three
// sections on a medium:
//
//	[info A][info B][journal x2][boot tab][boot data][sys tab][sys data][user tab][user data]
//
// Every region starts on a sector boundary. BaseAddr offsets the whole
// layout within the medium and must be sector aligned.
type Layout struct {
	BaseAddr   uint32
	SectorSize uint32
	Sections   [numClasses]SectionLayout
}

// DefaultSectorSize is the erase unit both default layouts assume.
const DefaultSectorSize = 4096

// DefaultInternalLayout is the on-chip default.
func DefaultInternalLayout() Layout {
	return Layout{
		SectorSize: DefaultSectorSize,
		Sections: [numClasses]SectionLayout{
			Boot:   {TableSectors: 1, DataSectors: 1},
			System: {TableSectors: 1, DataSectors: 4},
			User:   {TableSectors: 1, DataSectors: 8},
		},
	}
}

// DefaultExternalLayout is the default for an external W25Qxx chip.
func DefaultExternalLayout() Layout {
	return Layout{
		SectorSize: DefaultSectorSize,
		Sections: [numClasses]SectionLayout{
			Boot:   {TableSectors: 1, DataSectors: 1},
			System: {TableSectors: 2, DataSectors: 16},
			User:   {TableSectors: 4, DataSectors: 64},
		},
	}
}

func defaultLayout(m Medium) Layout {
	if m == External {
		return DefaultExternalLayout()
	}
	return DefaultInternalLayout()
}

// reservedSectors precede the first section.
const reservedSectors = format.InfoCopies + format.JournalSectors

// Sectors returns the number of sectors the layout spans.
func (l Layout) Sectors() uint32 {
	n := uint32(reservedSectors)
	for _, s := range l.Sections {
		n += s.TableSectors + s.DataSectors
	}
	return n
}

// Span returns the number of bytes the layout spans.
func (l Layout) Span() uint64 {
	return uint64(l.Sectors()) * uint64(l.SectorSize)
}

// Validate checks the layout against a medium of the given geometry.
func (l Layout) Validate(mediumSize, deviceSector uint32) error {
	switch {
	case l.SectorSize < format.InfoSize:
		return fmt.Errorf("layout: sector size %d below flash info size %d", l.SectorSize, format.InfoSize)
	case l.SectorSize%format.ItemSize != 0:
		return fmt.Errorf("layout: sector size %d not a multiple of %d", l.SectorSize, format.ItemSize)
	case deviceSector == 0 || l.SectorSize%deviceSector != 0:
		return fmt.Errorf("layout: sector size %d not a multiple of device sector %d", l.SectorSize, deviceSector)
	case l.BaseAddr%l.SectorSize != 0:
		return fmt.Errorf("layout: base 0x%X not sector aligned", l.BaseAddr)
	}
	for c, s := range l.Sections {
		if s.TableSectors == 0 || s.DataSectors == 0 {
			return fmt.Errorf("layout: %s section needs at least one table and one data sector", Class(c))
		}
		if uint64(s.TableSectors)*uint64(l.SectorSize)/format.ItemSize > format.MaxPayload {
			return fmt.Errorf("layout: %s table exceeds %d entries", Class(c), format.MaxPayload)
		}
	}
	span, ok := buf.MulU32(l.Sectors(), l.SectorSize)
	if !ok {
		return fmt.Errorf("layout: %d sectors of %d bytes overflow", l.Sectors(), l.SectorSize)
	}
	if _, err := buf.CheckRange(mediumSize, l.BaseAddr, span); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return nil
}

// plan computes the flash info header for a freshly formatted medium.
func (l Layout) plan(m Medium, mediumSize uint32) format.Info {
	in := format.Info{
		Tag:       format.MediumTag(m.tag()),
		BaseAddr:  l.BaseAddr,
		TotalSize: mediumSize,
	}
	addr := l.sectionsAddr()
	for c, s := range l.Sections {
		tab := s.TableSectors * l.SectorSize
		data := s.DataSectors * l.SectorSize
		in.Sections[c] = format.SectionDesc{
			TabAddr:  addr,
			DataAddr: addr + tab,
			DataSize: data,
			PageNum:  s.TableSectors + s.DataSectors,
			TabSize:  tab,
			FreeAddr: addr + tab,
		}
		in.DataSize += data
		addr += tab + data
	}
	in.RemainSize = mediumSize - addr
	return in
}

// infoAddr returns the address of header copy i.
func (l Layout) infoAddr(i uint32) uint32 { return l.BaseAddr + i*l.SectorSize }

// journalAddr returns the start of the write journal.
func (l Layout) journalAddr() uint32 { return l.BaseAddr + format.InfoCopies*l.SectorSize }

// sectionsAddr returns the start of the first table.
func (l Layout) sectionsAddr() uint32 { return l.BaseAddr + reservedSectors*l.SectorSize }
