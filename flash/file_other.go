//go:build !linux && !darwin && !freebsd

package flash

// Without mmap the image is accessed with positional I/O and the OS page
// cache is flushed by File.Sync's fsync.

func (fl *File) mapFile() error { return nil }

func (fl *File) unmap() error { return nil }

func (fl *File) readAt(addr uint32, p []byte) error {
	_, err := fl.f.ReadAt(p, int64(addr))
	return err
}

func (fl *File) writeAt(addr uint32, p []byte) error {
	_, err := fl.f.WriteAt(p, int64(addr))
	return err
}

func (fl *File) eraseAt(addr, size uint32) error {
	return fillErased(fl.f, int64(addr), int64(size))
}

func (fl *File) flush([]Range) error { return nil }
