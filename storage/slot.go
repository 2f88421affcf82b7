package storage

import (
	"errors"
	"fmt"

	"github.com/joshuapare/paramkit/internal/format"
)

var errChain = errors.New("broken slot chain")

// writeChain programs every planned fragment of data, linking them in
// order. Each fragment is read back before the next one is written.
func (st *store) writeChain(name format.Name, frags []fragment, data []byte) error {
	var total uint32
	for _, f := range frags {
		total += f.cur
	}
	off := uint32(0)
	for i, f := range frags {
		h := format.SlotHeader{
			Name:      name,
			TotalSize: total,
			CurSize:   f.cur,
			Next:      format.NoAddr,
			Align:     f.align,
		}
		if i+1 < len(frags) {
			h.Next = frags[i+1].addr
		}
		n := f.dataLen()
		b, err := format.EncodeSlot(h, data[off:off+n])
		if err != nil {
			return err
		}
		if err := st.program(f.addr, b); err != nil {
			return fmt.Errorf("fragment %d: %w", i, err)
		}
		off += n
	}
	return nil
}

// walkChain follows the chain of it, calling visit with each fragment's
// address and raw bytes. With full set, whole fragments are read and
// checksummed; otherwise only headers are read. The walk checks that every
// fragment lies in the data area, carries the item's name and agrees on
// the chain's total size, and that the sizes add up.
func (st *store) walkChain(s *section, it format.Item, full bool, visit func(addr uint32, h format.SlotHeader, data []byte)) error {
	addr := it.DataAddr
	limit := int(s.desc.DataSize / format.SlotOverhead)
	var cur, dataLen, total uint32
	for n := 0; addr != format.NoAddr; n++ {
		if n >= limit {
			return fmt.Errorf("%w: more than %d fragments", errChain, limit)
		}
		if addr%format.DataAlign != 0 || !s.inData(addr, format.SlotHeaderSize) {
			return fmt.Errorf("%w: fragment at 0x%X outside data area", errChain, addr)
		}
		hb, err := st.read(addr, format.SlotHeaderSize)
		if err != nil {
			return readErr{err}
		}
		h, err := format.DecodeSlotHeader(hb)
		if err != nil {
			return fmt.Errorf("fragment at 0x%X: %w", addr, err)
		}
		if !s.inData(addr, h.Extent()) {
			return fmt.Errorf("%w: fragment at 0x%X overruns data area", errChain, addr)
		}
		if h.Name != it.Name {
			return fmt.Errorf("%w: fragment at 0x%X belongs to %q", errChain, addr, h.Name.String())
		}
		if n == 0 {
			total = h.TotalSize
		} else if h.TotalSize != total {
			return fmt.Errorf("%w: fragment at 0x%X total %d, chain total %d", errChain, addr, h.TotalSize, total)
		}

		var data []byte
		if full {
			b, err := st.read(addr, h.Extent())
			if err != nil {
				return readErr{err}
			}
			if h, data, err = format.DecodeSlot(b); err != nil {
				return fmt.Errorf("fragment at 0x%X: %w", addr, err)
			}
		}
		visit(addr, h, data)
		cur += h.CurSize
		dataLen += h.DataLen()
		addr = h.Next
	}
	if cur != total || dataLen != uint32(it.Len) {
		return fmt.Errorf("%w: sizes %d/%d, item length %d, chain total %d", errChain, cur, dataLen, it.Len, total)
	}
	return nil
}

// chainExtents returns the regions the chain occupies, reading headers only.
func (st *store) chainExtents(s *section, it format.Item) ([]span, error) {
	var out []span
	err := st.walkChain(s, it, false, func(addr uint32, h format.SlotHeader, _ []byte) {
		out = append(out, span{addr: addr, size: h.Extent()})
	})
	return out, err
}

// readChain reassembles and verifies the payload of it.
func (st *store) readChain(s *section, it format.Item) ([]byte, error) {
	out := make([]byte, 0, it.Len)
	err := st.walkChain(s, it, true, func(_ uint32, _ format.SlotHeader, data []byte) {
		out = append(out, data...)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readErr marks a failure of the medium itself rather than of its content.
type readErr struct{ err error }

func (e readErr) Error() string { return "read: " + e.err.Error() }

func (e readErr) Unwrap() error { return e.err }

// chainCode maps a chain failure to the code reported to callers.
func chainCode(err error) Code {
	var re readErr
	switch {
	case errors.As(err, &re):
		return CodeRead
	case errors.Is(err, format.ErrChecksum):
		return CodeCRC
	default:
		return CodeSlotHeader
	}
}
