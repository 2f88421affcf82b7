// Package flash defines the medium driver boundary of the parameter store
// and provides the media used to run it off-target.
//
// # Driver Interface
//
// The store only needs four primitives from a medium:
//
//   - Read(addr, p): copy len(p) bytes starting at addr
//   - Write(addr, p): program len(p) bytes starting at addr
//   - Erase(addr, size): erase whole sectors back to 0xFF
//   - Identify(): report the chip's product type and code (external chips)
//
// Writes are issued by the store with write-then-read-back discipline, so a
// driver only has to report failures honestly; it does not verify.
//
// # Media
//
// Mem keeps the medium in RAM and can inject write, erase and identify
// faults. Tests use it to cut power between any two writes.
//
// File keeps the medium in a regular file. On Linux, macOS and FreeBSD the
// file is memory mapped and dirty ranges are flushed with msync on Sync;
// other platforms fall back to positional reads and writes.
//
// # External Chips
//
// ExtDevice describes an external SPI NOR chip. W25QDevice fills in the
// geometry of the Winbond W25Qxx family from its JEDEC device code:
//
//	dev := flash.NewMem(16<<20, 4096, flash.WithProductID(flash.ProductID{Type: 0xEF, Code: 0x4018}))
//	ext, err := flash.W25QDevice(0x4018, dev)
package flash
