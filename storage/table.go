package storage

import (
	"github.com/joshuapare/paramkit/internal/format"
)

func (s *section) entryAddr(idx int) uint32 {
	return s.desc.TabAddr + uint32(idx)*format.ItemSize
}

// loadTable reads the whole table into the cache. Entries that fail to
// decode are marked bad and never handed out or reused.
func (st *store) loadTable(s *section) (bad int, err error) {
	raw, err := st.read(s.desc.TabAddr, s.desc.TabSize)
	if err != nil {
		return 0, err
	}
	n := s.desc.Items()
	s.items = make([]format.Item, n)
	s.bad = make([]bool, n)
	for i := 0; i < n; i++ {
		it, err := format.DecodeItem(raw[i*format.ItemSize:])
		if err == nil && it.Class != uint8(s.class) {
			err = errWrongClass
		}
		if err != nil {
			s.bad[i] = true
			bad++
			st.log.Warn("corrupt item entry", "class", s.class.String(), "index", i, "err", err)
			continue
		}
		s.items[i] = it
	}
	return bad, nil
}

// readEntry re-reads one entry from flash and checks it against the cache.
func (st *store) readEntry(s *section, idx int) (format.Item, error) {
	b, err := st.read(s.entryAddr(idx), format.ItemSize)
	if err != nil {
		return format.Item{}, readErr{err}
	}
	it, err := format.DecodeItem(b)
	if err != nil {
		return format.Item{}, err
	}
	if it.Class != uint8(s.class) {
		return format.Item{}, errWrongClass
	}
	return it, nil
}

// search scans the table on flash for name. corrupt counts entries that
// failed verification during the scan.
func (st *store) search(s *section, name format.Name) (idx int, corrupt int, err error) {
	raw, err := st.read(s.desc.TabAddr, s.desc.TabSize)
	if err != nil {
		return -1, 0, err
	}
	for i := 0; i < s.desc.Items(); i++ {
		it, err := format.DecodeItem(raw[i*format.ItemSize:])
		if err == nil && it.Class != uint8(s.class) {
			err = errWrongClass
		}
		if err != nil {
			corrupt++
			st.log.Warn("skipping corrupt item entry", "class", s.class.String(), "index", i, "err", err)
			continue
		}
		if it.Name == name {
			return i, corrupt, nil
		}
	}
	return -1, corrupt, nil
}

// firstAvailable returns the first placeholder entry, or -1.
func (s *section) firstAvailable() int {
	for i, it := range s.items {
		if !s.bad[i] && it.IsAvailable() {
			return i
		}
	}
	return -1
}

// writeEntry commits it at idx and updates the cache. This is the single
// commit point of every mutation.
func (st *store) writeEntry(s *section, idx int, it format.Item) error {
	if err := st.program(s.entryAddr(idx), it.Bytes()); err != nil {
		return err
	}
	s.items[idx] = it
	s.bad[idx] = false
	return nil
}

// live returns the indexes of entries that hold an item.
func (s *section) live() []int {
	var out []int
	for i, it := range s.items {
		if !s.bad[i] && !it.IsAvailable() {
			out = append(out, i)
		}
	}
	return out
}
