package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/buf"
	"github.com/joshuapare/paramkit/internal/format"
)

var errVerify = errors.New("read-back mismatch")

// store is the runtime state of one medium.
type store struct {
	mu sync.RWMutex

	id     Medium
	dev    flash.Device
	layout Layout
	log    *slog.Logger

	info     format.Info // in-memory truth, persisted by commitHeader
	sections [numClasses]*section

	ready    bool
	degraded bool

	lastErr atomic.Uint32

	formatCount  int
	reinitCount  int
	rebuildCount int
	replayCount  int
	product      flash.ProductID
}

// section is the cached view of one class: its descriptor lives in
// store.info, the table cache and the free list live here.
type section struct {
	class Class
	desc  *format.SectionDesc

	items []format.Item
	bad   []bool // entry failed to decode when last read

	free    []span
	onFlash map[uint32]format.FreeNode // nodes as last persisted
	stale   bool                       // free list must be rebuilt before the next mutation
}

func newStore(id Medium, layout Layout, log *slog.Logger) *store {
	return &store{
		id:     id,
		layout: layout,
		log:    log.With("medium", id.String()),
	}
}

func (st *store) sec(c Class) *section { return st.sections[c] }

func (st *store) setLastErr(c Code) { st.lastErr.Store(uint32(c)) }

// fail records code as the medium's last error and wraps cause.
func (st *store) fail(op string, code Code, cause error) *Error {
	st.setLastErr(code)
	return &Error{Op: op, Medium: st.id, Code: code, Err: cause}
}

// read fetches n bytes at addr.
func (st *store) read(addr, n uint32) ([]byte, error) {
	b := make([]byte, n)
	if err := st.dev.Read(addr, b); err != nil {
		return nil, err
	}
	return b, nil
}

// programDirect writes b at addr and reads it back. A write only counts
// once the medium returns exactly what was written.
func (st *store) programDirect(addr uint32, b []byte) error {
	if err := st.dev.Write(addr, b); err != nil {
		return fmt.Errorf("write 0x%X+%d: %w", addr, len(b), err)
	}
	got, err := st.read(addr, uint32(len(b)))
	if err != nil {
		return fmt.Errorf("read back 0x%X+%d: %w", addr, len(b), err)
	}
	if !bytes.Equal(got, b) {
		return fmt.Errorf("0x%X+%d: %w", addr, len(b), errVerify)
	}
	return nil
}

// sync flushes host-buffered media after a committed mutation.
func (st *store) sync() error {
	if s, ok := st.dev.(flash.Syncer); ok {
		return s.Sync()
	}
	return nil
}

// bindSections points every section at its descriptor in st.info.
func (st *store) bindSections() {
	for i := range st.sections {
		st.sections[i] = &section{
			class: Class(i),
			desc:  &st.info.Sections[i],
		}
	}
}

// dataEnd returns the first address past the section's data area.
func (s *section) dataEnd() uint32 { return s.desc.DataAddr + s.desc.DataSize }

// inData reports whether [addr, addr+n) lies in the section's data area.
func (s *section) inData(addr, n uint32) bool {
	return buf.Within(addr, n, s.desc.DataAddr, s.dataEnd())
}
