package flash

import (
	"errors"
	"fmt"
)

// BusType is the bus an external chip hangs off.
type BusType uint8

const (
	BusNone BusType = iota
	BusSPI
)

func (b BusType) String() string {
	switch b {
	case BusNone:
		return "none"
	case BusSPI:
		return "spi"
	default:
		return fmt.Sprintf("bus(%d)", uint8(b))
	}
}

// ChipType is the external chip family.
type ChipType uint8

const (
	ChipNone ChipType = iota
	ChipW25Qxx
)

func (c ChipType) String() string {
	switch c {
	case ChipNone:
		return "none"
	case ChipW25Qxx:
		return "w25qxx"
	default:
		return fmt.Sprintf("chip(%d)", uint8(c))
	}
}

// Winbond W25Qxx identification and geometry.
const (
	WinbondManufacturer = 0xEF

	W25Q16  = 0x4015
	W25Q32  = 0x4016
	W25Q64  = 0x4017
	W25Q128 = 0x4018
	W25Q256 = 0x4019

	w25qPageSize   = 256
	w25qSectorSize = 4 * 1024
	w25qBlockSize  = 64 * 1024

	// w25qBankSize is the span addressable with 3-byte addresses.
	w25qBankSize = 16 * 1024 * 1024
)

var (
	// ErrUnknownChip indicates a device code missing from the geometry table.
	ErrUnknownChip = errors.New("flash: unknown chip")
	// ErrGeometry indicates an ExtDevice whose counts and sizes disagree.
	ErrGeometry = errors.New("flash: inconsistent geometry")
)

var w25qCapacity = map[uint16]uint32{
	W25Q16:  2 << 20,
	W25Q32:  4 << 20,
	W25Q64:  8 << 20,
	W25Q128: 16 << 20,
	W25Q256: 32 << 20,
}

// ExtDevice describes an external flash chip. The store borrows it for the
// lifetime of the medium; Dev stays owned by the caller.
type ExtDevice struct {
	Bus  BusType
	Chip ChipType

	TotalSize uint32

	PageNum  uint32
	PageSize uint32

	BankNum  uint32
	BankSize uint32

	BlockNum  uint32
	BlockSize uint32

	SectorNum  uint32
	SectorSize uint32

	// Expected identification; Init compares it with what the chip reports.
	ProdType uint16
	ProdCode uint16

	Dev Device
}

// W25QDevice builds the descriptor of a Winbond W25Qxx chip on SPI.
func W25QDevice(code uint16, dev Device) (*ExtDevice, error) {
	total, ok := w25qCapacity[code]
	if !ok {
		return nil, fmt.Errorf("%w: W25Q device code 0x%04X", ErrUnknownChip, code)
	}
	bankSize := min(total, uint32(w25qBankSize))
	return &ExtDevice{
		Bus:        BusSPI,
		Chip:       ChipW25Qxx,
		TotalSize:  total,
		PageNum:    total / w25qPageSize,
		PageSize:   w25qPageSize,
		BankNum:    total / bankSize,
		BankSize:   bankSize,
		BlockNum:   total / w25qBlockSize,
		BlockSize:  w25qBlockSize,
		SectorNum:  total / w25qSectorSize,
		SectorSize: w25qSectorSize,
		ProdType:   WinbondManufacturer,
		ProdCode:   code,
		Dev:        dev,
	}, nil
}

// ProductID returns the identification the chip is expected to report.
func (d *ExtDevice) ProductID() ProductID {
	return ProductID{Type: d.ProdType, Code: d.ProdCode}
}

// CheckGeometry verifies that every count * size pair covers TotalSize and
// that the driver exposes at least that much.
func (d *ExtDevice) CheckGeometry() error {
	pairs := []struct {
		name      string
		num, size uint32
	}{
		{"page", d.PageNum, d.PageSize},
		{"bank", d.BankNum, d.BankSize},
		{"block", d.BlockNum, d.BlockSize},
		{"sector", d.SectorNum, d.SectorSize},
	}
	for _, p := range pairs {
		if p.num == 0 || p.size == 0 || uint64(p.num)*uint64(p.size) != uint64(d.TotalSize) {
			return fmt.Errorf("%w: %s %d x %d != total %d", ErrGeometry, p.name, p.num, p.size, d.TotalSize)
		}
	}
	if d.Dev != nil {
		if d.Dev.Size() < d.TotalSize {
			return fmt.Errorf("%w: driver exposes %d bytes, chip has %d", ErrGeometry, d.Dev.Size(), d.TotalSize)
		}
		if d.Dev.SectorSize() != d.SectorSize {
			return fmt.Errorf("%w: driver sector %d, chip sector %d", ErrGeometry, d.Dev.SectorSize(), d.SectorSize)
		}
	}
	return nil
}
