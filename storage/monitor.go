package storage

import (
	"github.com/joshuapare/paramkit/flash"
	"github.com/joshuapare/paramkit/internal/format"
)

// Entry describes one live item.
type Entry struct {
	Handle Handle
	Name   string
	Len    int
}

// List returns the live items of a class in table order.
func (e *Engine) List(m Medium, c Class) ([]Entry, error) {
	st, fe := e.lookup("list", m, c)
	if fe != nil {
		return nil, fe
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if fe := st.usable("list"); fe != nil {
		return nil, fe
	}
	s := st.sec(c)
	idxs := s.live()
	out := make([]Entry, 0, len(idxs))
	for _, idx := range idxs {
		it := s.items[idx]
		out = append(out, Entry{
			Handle: makeHandle(m, c, idx),
			Name:   it.Name.String(),
			Len:    int(it.Len),
		})
	}
	return out, nil
}

// SectionStats summarises one class.
type SectionStats struct {
	Class        Class
	TableEntries int
	Items        int
	BadEntries   int
	DataSize     uint32
	UsedBytes    uint32 // payload bytes of live items
	FreeBytes    uint32
	FreeNodes    int
	LargestFree  uint32
	Stale        bool
}

// MediumStats summarises one medium.
type MediumStats struct {
	Medium     Medium
	Seq        uint32
	BaseAddr   uint32
	TotalSize  uint32
	RemainSize uint32
	DataSize   uint32
	Sections   [numClasses]SectionStats
}

// Stats reports space usage of a mounted medium.
func (e *Engine) Stats(m Medium) (MediumStats, error) {
	if !m.valid() {
		return MediumStats{}, &Error{Op: "stats", Medium: m, Code: CodeParam}
	}
	st := e.stores[m]
	st.mu.RLock()
	defer st.mu.RUnlock()
	if fe := st.usable("stats"); fe != nil {
		return MediumStats{}, fe
	}
	out := MediumStats{
		Medium:     m,
		Seq:        st.info.Seq,
		BaseAddr:   st.info.BaseAddr,
		TotalSize:  st.info.TotalSize,
		RemainSize: st.info.RemainSize,
		DataSize:   st.info.DataSize,
	}
	for i, s := range st.sections {
		bad := 0
		for _, b := range s.bad {
			if b {
				bad++
			}
		}
		out.Sections[i] = SectionStats{
			Class:        s.class,
			TableEntries: s.desc.Items(),
			Items:        int(s.desc.ParaNum),
			BadEntries:   bad,
			DataSize:     s.desc.DataSize,
			UsedBytes:    s.desc.ParaSize,
			FreeBytes:    spanBytes(s.free),
			FreeNodes:    len(s.free),
			LargestFree:  largestSpan(s.free),
			Stale:        s.stale,
		}
	}
	return out, nil
}

// LastError returns the code of the most recent failure on medium m.
func (e *Engine) LastError(m Medium) Code {
	if !m.valid() {
		return CodeParam
	}
	return Code(e.stores[m].lastErr.Load())
}

// MediumMonitor is the diagnostic state of one medium.
type MediumMonitor struct {
	Ready        bool
	Degraded     bool
	FormatCount  int
	ReInitCount  int
	RebuildCount int // free list rebuilds from the item table
	ReplayCount  int // torn sector writes finished from the journal
	LastError    Code
	Product      flash.ProductID
	Info         format.Info
}

// Monitor is a snapshot of the engine's diagnostic counters.
type Monitor struct {
	Enabled     EnableMask
	Initialized EnableMask
	Media       [numMedia]MediumMonitor
}

// Monitor returns a snapshot of the diagnostic counters.
func (e *Engine) Monitor() Monitor {
	e.mu.Lock()
	out := Monitor{Enabled: e.enabled, Initialized: e.inited}
	e.mu.Unlock()
	for m, st := range e.stores {
		st.mu.RLock()
		out.Media[m] = MediumMonitor{
			Ready:        st.ready,
			Degraded:     st.degraded,
			FormatCount:  st.formatCount,
			ReInitCount:  st.reinitCount,
			RebuildCount: st.rebuildCount,
			ReplayCount:  st.replayCount,
			LastError:    Code(st.lastErr.Load()),
			Product:      st.product,
			Info:         st.info,
		}
		st.mu.RUnlock()
	}
	return out
}
