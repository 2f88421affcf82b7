package flash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// File is a medium stored in a regular file, one byte per flash byte.
// It lets the CLI keep a simulated on-chip or external chip between runs.
type File struct {
	mu     sync.Mutex
	f      *os.File
	data   []byte // mapping, nil on platforms without mmap
	size   uint32
	sector uint32
	id     ProductID
	dirty  *Tracker
}

// OpenFile opens the image at path, creating an erased image of size bytes
// when it does not exist. An existing image must be exactly size bytes.
func OpenFile(path string, size, sectorSize uint32, id ProductID) (*File, error) {
	if sectorSize == 0 || size == 0 || size%sectorSize != 0 {
		return nil, fmt.Errorf("flash: image size %d is not a multiple of sector %d", size, sectorSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f, err = createErased(path, size)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() != int64(size) {
		_ = f.Close()
		return nil, fmt.Errorf("flash: image %s is %d bytes, expected %d", path, st.Size(), size)
	}

	fl := &File{
		f:      f,
		size:   size,
		sector: sectorSize,
		id:     id,
		dirty:  NewTracker(hostPageSize),
	}
	if err := fl.mapFile(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return fl, nil
}

// createErased writes a new image filled with 0xFF.
func createErased(path string, size uint32) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := fillErased(f, 0, int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("flash: create %s: %w", path, err)
	}
	return f, nil
}

func fillErased(w io.WriterAt, off, n int64) error {
	chunk := make([]byte, min(n, 64*1024))
	for i := range chunk {
		chunk[i] = 0xFF
	}
	for n > 0 {
		c := min(n, int64(len(chunk)))
		if _, err := w.WriteAt(chunk[:c], off); err != nil {
			return err
		}
		off += c
		n -= c
	}
	return nil
}

// Read implements Device.
func (fl *File) Read(addr uint32, p []byte) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f == nil {
		return ErrClosed
	}
	if err := checkAccess(fl.size, addr, len(p)); err != nil {
		return err
	}
	return fl.readAt(addr, p)
}

// Write implements Device.
func (fl *File) Write(addr uint32, p []byte) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f == nil {
		return ErrClosed
	}
	if err := checkAccess(fl.size, addr, len(p)); err != nil {
		return err
	}
	if err := fl.writeAt(addr, p); err != nil {
		return err
	}
	fl.dirty.Add(int64(addr), int64(len(p)))
	return nil
}

// Erase implements Device.
func (fl *File) Erase(addr, size uint32) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f == nil {
		return ErrClosed
	}
	if err := checkErase(fl.size, fl.sector, addr, size); err != nil {
		return err
	}
	if err := fl.eraseAt(addr, size); err != nil {
		return err
	}
	fl.dirty.Add(int64(addr), int64(size))
	return nil
}

// Size implements Device.
func (fl *File) Size() uint32 { return fl.size }

// SectorSize implements Device.
func (fl *File) SectorSize() uint32 { return fl.sector }

// Identify implements Identifier with the ID given at open time.
func (fl *File) Identify() (ProductID, error) { return fl.id, nil }

// Sync implements Syncer: every dirty range is flushed and the file synced.
func (fl *File) Sync() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f == nil {
		return ErrClosed
	}
	if err := fl.flush(fl.dirty.Coalesced(int64(fl.size))); err != nil {
		return fmt.Errorf("flash: sync: %w", err)
	}
	fl.dirty.Reset()
	return fl.f.Sync()
}

// Close syncs and releases the image.
func (fl *File) Close() error {
	if err := fl.Sync(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.f == nil {
		return nil
	}
	unmapErr := fl.unmap()
	err := fl.f.Close()
	fl.f = nil
	if unmapErr != nil {
		return unmapErr
	}
	return err
}
