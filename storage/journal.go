package storage

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/paramkit/internal/buf"
	"github.com/joshuapare/paramkit/internal/format"
)

// Table and data sectors are written through a one-record journal. Before a
// sector changes, its complete new image and a trailer naming the target go
// to the journal sectors in a single write. Only then is the target itself
// rewritten. A cut during the journal write leaves the record invalid and
// the target untouched; a cut during the target write is finished at the
// next mount from the record. A valid record is never older than its
// target.

// program writes b at addr, one layout sector at a time, through the
// journal. Each sector is read back before the next one starts.
func (st *store) program(addr uint32, b []byte) error {
	sz := st.layout.SectorSize
	for off := uint32(0); off < uint32(len(b)); {
		cur := addr + off
		start := cur - cur%sz
		n := min(start+sz-cur, uint32(len(b))-off)
		if err := st.programSector(start, cur-start, b[off:off+n]); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// programSector replaces the bytes at start+at with part.
func (st *store) programSector(start, at uint32, part []byte) error {
	image, err := st.read(start, st.layout.SectorSize)
	if err != nil {
		return fmt.Errorf("read sector 0x%X: %w", start, err)
	}
	if bytes.Equal(image[at:at+uint32(len(part))], part) {
		return nil
	}
	copy(image[at:], part)
	if err := st.programDirect(st.layout.journalAddr(), format.EncodeJournal(start, image)); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return st.programDirect(start+at, part)
}

// replayJournal finishes a sector write torn by a power cut. Mount calls it
// once a header copy is adopted and before any table is read.
func (st *store) replayJournal() error {
	sz := st.layout.SectorSize
	raw, err := st.read(st.layout.journalAddr(), sz+format.JournalTrailerSize)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	target, image, err := format.DecodeJournal(raw, sz)
	if err != nil {
		st.log.Debug("no journal record", "err", err)
		return nil
	}
	lo := st.layout.sectionsAddr()
	hi := st.layout.BaseAddr + uint32(st.layout.Span())
	if target%sz != 0 || !buf.Within(target, sz, lo, hi) {
		st.log.Warn("journal target outside the sections, ignored", "target", target)
		return nil
	}
	cur, err := st.read(target, sz)
	if err != nil {
		return fmt.Errorf("read sector 0x%X: %w", target, err)
	}
	if bytes.Equal(cur, image) {
		return nil
	}
	st.log.Info("finishing torn sector write", "target", target)
	st.replayCount++
	if err := st.programDirect(target, image); err != nil {
		return fmt.Errorf("replay sector 0x%X: %w", target, err)
	}
	return nil
}
