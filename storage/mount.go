package storage

import (
	"slices"

	"github.com/joshuapare/paramkit/internal/format"
)

const (
	// FormatRetryLimit bounds format attempts per Init.
	FormatRetryLimit = 5

	// ReInitRetryLimit bounds external chip identification attempts.
	ReInitRetryLimit = 5
)

// open adopts the persisted layout of the medium, formatting it when no
// header copy matches the configured layout, then mounts every section.
func (st *store) open() *Error {
	want := st.layout.plan(st.id, st.dev.Size())
	copies, err := st.readHeaders()
	if err != nil {
		return st.fail("init", CodeRead, err)
	}
	if info, ok := st.pickHeader(copies, want); ok {
		st.info = info
		st.log.Debug("flash info adopted", "seq", info.Seq)
		if err := st.replayJournal(); err != nil {
			return st.fail("init", CodeWrite, err)
		}
	} else {
		st.log.Info("no usable flash info, formatting", "base", st.layout.BaseAddr, "span", st.layout.Span())
		if e := st.formatWithRetry(want); e != nil {
			return e
		}
	}
	st.bindSections()

	dirty := false
	for _, s := range st.sections {
		changed, e := st.mountSection(s)
		if e != nil {
			return e
		}
		dirty = dirty || changed
	}
	if dirty {
		if err := st.commitHeader(); err != nil {
			st.setLastErr(CodeBaseInfoUpdate)
			st.log.Error("flash info update after mount failed", "err", err)
		}
	}
	st.ready = true
	return nil
}

// formatWithRetry formats the medium up to FormatRetryLimit times. When
// every attempt fails the medium is degraded for the engine's lifetime.
func (st *store) formatWithRetry(want format.Info) *Error {
	var last error
	for attempt := 1; attempt <= FormatRetryLimit; attempt++ {
		st.formatCount++
		err := st.format(want)
		if err == nil {
			st.log.Info("medium formatted", "attempt", attempt)
			return nil
		}
		last = err
		st.log.Warn("format attempt failed", "attempt", attempt, "err", err)
	}
	st.degraded = true
	return st.fail("init", CodeFormatExhausted, last)
}

// format erases the layout span, journal included, and writes empty tables,
// one free node per data area and both header copies.
func (st *store) format(want format.Info) error {
	if err := st.dev.Erase(st.layout.BaseAddr, uint32(st.layout.Span())); err != nil {
		return err
	}
	for c, d := range want.Sections {
		tab := make([]byte, d.TabSize)
		placeholder := format.AvailableItem(uint8(c))
		for off := uint32(0); off < d.TabSize; off += format.ItemSize {
			placeholder.Encode(tab[off:])
		}
		if err := st.programDirect(d.TabAddr, tab); err != nil {
			return err
		}
		node := format.FreeNode{Total: d.DataSize, Size: d.DataSize, Next: format.NoAddr}
		if err := st.programDirect(d.DataAddr, node.Bytes()); err != nil {
			return err
		}
	}
	a, b := want, want
	a.Seq, b.Seq = 0, 1
	if err := st.writeHeader(a); err != nil {
		return err
	}
	if err := st.writeHeader(b); err != nil {
		return err
	}
	st.info = b
	return nil
}

// mountSection loads the table cache, recomputes the parameter counters and
// checks the persisted free list against the live chains. changed reports
// whether the descriptor needs to be persisted.
func (st *store) mountSection(s *section) (changed bool, e *Error) {
	bad, err := st.loadTable(s)
	if err != nil {
		return false, st.fail("init", CodeRead, err)
	}
	if bad > 0 {
		st.setLastErr(CodeTableCorrupt)
	}

	live := st.collectExtents(s)
	size, num := s.paraTotals()
	if size != s.desc.ParaSize || num != s.desc.ParaNum {
		s.desc.ParaSize, s.desc.ParaNum = size, num
		changed = true
	}

	free, nodes, err := st.loadFreeList(s)
	if err == nil {
		err = checkConservation(s, live, free)
	}
	if err == nil {
		s.free, s.onFlash = free, nodes
		return changed, nil
	}

	st.log.Warn("free list does not match item table, rebuilding", "class", s.class.String(), "err", err)
	head := s.desc.FreeAddr
	if err := st.rebuildFreeList(s, live); err != nil {
		st.setLastErr(CodeFreeSlotUpdate)
		st.log.Error("free list rebuild failed", "class", s.class.String(), "err", err)
	}
	return changed || head != s.desc.FreeAddr, nil
}

// collectExtents walks the chain of every live entry. A broken chain
// contributes the fragments reachable before the break.
func (st *store) collectExtents(s *section) []span {
	var out []span
	for _, idx := range s.live() {
		ext, err := st.chainExtents(s, s.items[idx])
		if err != nil {
			st.log.Warn("broken slot chain", "class", s.class.String(), "index", idx,
				"name", s.items[idx].Name.String(), "err", err)
		}
		out = append(out, ext...)
	}
	return out
}

// paraTotals sums payload bytes and counts live items.
func (s *section) paraTotals() (size, num uint32) {
	for _, idx := range s.live() {
		size += uint32(s.items[idx].Len)
		num++
	}
	return size, num
}

// rebuildFreeList replaces the free list with the gaps between the live
// extents and persists every node.
func (st *store) rebuildFreeList(s *section, live []span) error {
	ext := slices.Clone(live)
	if ov := sortSpans(ext); ov != nil {
		st.log.Error("slot extents overlap", "class", s.class.String(),
			"a", ov[0].addr, "b", ov[1].addr)
	}
	free, lost := gaps(ext, s.desc.DataAddr, s.dataEnd())
	if lost > 0 {
		st.log.Warn("unrecoverable gaps in data area", "class", s.class.String(), "bytes", lost)
	}
	s.free = free
	s.onFlash = nil
	st.rebuildCount++
	if err := st.persistFreeList(s); err != nil {
		s.stale = true
		return err
	}
	s.stale = false
	return nil
}

// refresh rebuilds a stale free list before a mutation relies on it.
func (st *store) refresh(s *section) error {
	if !s.stale {
		return nil
	}
	st.log.Info("rebuilding stale free list", "class", s.class.String())
	return st.rebuildFreeList(s, st.collectExtents(s))
}
