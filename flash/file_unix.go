//go:build linux || darwin || freebsd

package flash

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapFile maps the image read/write so flash accesses are plain copies.
func (fl *File) mapFile() error {
	data, err := unix.Mmap(
		int(fl.f.Fd()),
		0,
		int(fl.size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return fmt.Errorf("flash: mmap failed: %w", err)
	}
	fl.data = data
	return nil
}

func (fl *File) unmap() error {
	if fl.data == nil {
		return nil
	}
	err := unix.Munmap(fl.data)
	fl.data = nil
	return err
}

func (fl *File) readAt(addr uint32, p []byte) error {
	copy(p, fl.data[addr:])
	return nil
}

func (fl *File) writeAt(addr uint32, p []byte) error {
	copy(fl.data[addr:], p)
	return nil
}

func (fl *File) eraseAt(addr, size uint32) error {
	region := fl.data[addr : addr+size]
	for i := range region {
		region[i] = 0xFF
	}
	return nil
}

// flush msyncs each coalesced range.
func (fl *File) flush(ranges []Range) error {
	for _, r := range ranges {
		start, end := int(r.Off), int(r.Off+r.Len)
		if end > len(fl.data) {
			continue
		}
		if err := unix.Msync(fl.data[start:end], unix.MS_SYNC); err != nil {
			return err
		}
	}
	return nil
}
