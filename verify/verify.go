package verify

import (
	"fmt"
	"slices"

	"github.com/joshuapare/paramkit/internal/buf"
	"github.com/joshuapare/paramkit/internal/format"
)

// ValidationError describes the first invariant violation found.
type ValidationError struct {
	Type    string
	Message string
	Offset  int
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%X: %s", e.Type, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func fail(typ string, off uint32, msg string, args ...any) *ValidationError {
	return &ValidationError{Type: typ, Message: fmt.Sprintf(msg, args...), Offset: int(off)}
}

// SectionSummary counts what Section found in one class.
type SectionSummary struct {
	Class     int
	Items     int
	Fragments int
	LiveBytes uint32 // slot extents, overhead included
	PayBytes  uint32 // payload bytes recorded in the item table
	FreeBytes uint32
	FreeNodes int
	Largest   uint32
}

// Summary is the result of a successful AllInvariants.
type Summary struct {
	Info     format.Info
	Sections [format.NumSections]SectionSummary
}

// AllInvariants validates the header and every section of the image of a
// medium whose layout starts at base and uses sector-sized regions. Returns
// the first error encountered. A pending journal record is not applied.
func AllInvariants(img []byte, base, sector uint32) (*Summary, error) {
	info, err := Header(img, base, sector)
	if err != nil {
		return nil, err
	}
	out := &Summary{Info: info}
	for c, d := range info.Sections {
		s, err := Section(img, c, d)
		if err != nil {
			return nil, err
		}
		out.Sections[c] = s
	}
	return out, nil
}

// Header returns the authoritative flash info header: the valid copy with
// the highest sequence number. Each copy must sit in the sector its
// sequence parity selects, and the section descriptors must lie past the
// header and journal sectors without overlapping.
func Header(img []byte, base, sector uint32) (format.Info, error) {
	var (
		best  format.Info
		found bool
		errs  []error
	)
	for i := uint32(0); i < format.InfoCopies; i++ {
		off := base + i*sector
		b, ok := buf.Slice(img, int(off), format.InfoSize)
		if !ok {
			return format.Info{}, fail("Header", off, "image too small for header copy")
		}
		in, err := format.DecodeInfo(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if in.Seq%2 != i {
			errs = append(errs, fmt.Errorf("sequence %d stored in copy %d", in.Seq, i))
			continue
		}
		if !found || in.Seq > best.Seq {
			best, found = in, true
		}
	}
	if !found {
		return format.Info{}, &ValidationError{
			Type:    "Header",
			Message: "no valid flash info copy",
			Offset:  int(base),
			Details: map[string]interface{}{"copy_a": errs[0], "copy_b": errs[1]},
		}
	}
	if best.BaseAddr != base {
		return format.Info{}, fail("Header", base, "base field 0x%X", best.BaseAddr)
	}

	first := base + (format.InfoCopies+format.JournalSectors)*sector
	var regions []region
	var data uint32
	for c, d := range best.Sections {
		switch {
		case d.TabSize == 0 || d.TabSize%format.ItemSize != 0:
			return format.Info{}, fail("Header", base, "section %d table size %d", c, d.TabSize)
		case d.DataSize == 0 || d.DataSize%format.DataAlign != 0:
			return format.Info{}, fail("Header", base, "section %d data size %d", c, d.DataSize)
		case !buf.Within(d.TabAddr, d.TabSize, first, uint32(len(img))):
			return format.Info{}, fail("Header", d.TabAddr, "section %d table outside image", c)
		case !buf.Within(d.DataAddr, d.DataSize, first, uint32(len(img))):
			return format.Info{}, fail("Header", d.DataAddr, "section %d data area outside image", c)
		}
		regions = append(regions, region{d.TabAddr, d.TabSize}, region{d.DataAddr, d.DataSize})
		data += d.DataSize
	}
	if ov := overlap(regions); ov != nil {
		return format.Info{}, fail("Header", ov[1].addr, "regions 0x%X+%d and 0x%X+%d overlap",
			ov[0].addr, ov[0].size, ov[1].addr, ov[1].size)
	}
	if data != best.DataSize {
		return format.Info{}, fail("Header", base, "data size field %d, sections hold %d", best.DataSize, data)
	}
	return best, nil
}

type region struct{ addr, size uint32 }

func (r region) end() uint32 { return r.addr + r.size }

// overlap sorts regions by address and returns the first overlapping pair.
func overlap(rs []region) *[2]region {
	slices.SortFunc(rs, func(a, b region) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
	for i := 1; i < len(rs); i++ {
		if rs[i].addr < rs[i-1].end() {
			return &[2]region{rs[i-1], rs[i]}
		}
	}
	return nil
}

// Section validates one class: every table entry decodes, names are
// unique, every live chain is intact, the free list is well formed, and
// live slots plus free nodes tile the data area exactly.
func Section(img []byte, class int, d format.SectionDesc) (SectionSummary, error) {
	sum := SectionSummary{Class: class}
	names := make(map[format.Name]int)
	var live []region

	for i := 0; i < d.Items(); i++ {
		off := d.TabAddr + uint32(i)*format.ItemSize
		b, _ := buf.Slice(img, int(off), format.ItemSize)
		it, err := format.DecodeItem(b)
		if err != nil {
			return sum, fail("ItemTable", off, "entry %d: %v", i, err)
		}
		if int(it.Class) != class {
			return sum, fail("ItemTable", off, "entry %d: class %d in section %d", i, it.Class, class)
		}
		if it.IsAvailable() {
			continue
		}
		if prev, dup := names[it.Name]; dup {
			return sum, fail("ItemTable", off, "entry %d: name %q also at entry %d", i, it.Name.String(), prev)
		}
		names[it.Name] = i
		frags, err := chain(img, d, it)
		if err != nil {
			return sum, fail("SlotChain", it.DataAddr, "entry %d (%q): %v", i, it.Name.String(), err)
		}
		live = append(live, frags...)
		sum.Items++
		sum.Fragments += len(frags)
		sum.PayBytes += uint32(it.Len)
	}
	if sum.Items != int(d.ParaNum) || sum.PayBytes != d.ParaSize {
		return sum, fail("ItemTable", d.TabAddr, "descriptor counts %d items/%d bytes, table holds %d/%d",
			d.ParaNum, d.ParaSize, sum.Items, sum.PayBytes)
	}

	free, err := freeList(img, d)
	if err != nil {
		return sum, err
	}
	for _, f := range free {
		sum.FreeBytes += f.size
		sum.Largest = max(sum.Largest, f.size)
	}
	sum.FreeNodes = len(free)
	for _, l := range live {
		sum.LiveBytes += l.size
	}

	all := append(slices.Clone(live), free...)
	if ov := overlap(all); ov != nil {
		return sum, fail("Conservation", ov[1].addr, "0x%X+%d overlaps 0x%X+%d",
			ov[0].addr, ov[0].size, ov[1].addr, ov[1].size)
	}
	if sum.LiveBytes+sum.FreeBytes != d.DataSize {
		return sum, &ValidationError{
			Type:    "Conservation",
			Message: fmt.Sprintf("live %d + free %d != data area %d", sum.LiveBytes, sum.FreeBytes, d.DataSize),
			Offset:  int(d.DataAddr),
			Details: map[string]interface{}{
				"live":      sum.LiveBytes,
				"free":      sum.FreeBytes,
				"data_size": d.DataSize,
			},
		}
	}
	return sum, nil
}

// chain walks and fully verifies the slot chain of it.
func chain(img []byte, d format.SectionDesc, it format.Item) ([]region, error) {
	var (
		out               []region
		total, cur, bytes uint32
	)
	limit := int(d.DataSize / format.SlotOverhead)
	for addr := it.DataAddr; addr != format.NoAddr; {
		if len(out) >= limit {
			return nil, fmt.Errorf("more than %d fragments", limit)
		}
		if addr%format.DataAlign != 0 || !buf.Within(addr, format.SlotHeaderSize, d.DataAddr, d.DataAddr+d.DataSize) {
			return nil, fmt.Errorf("fragment 0x%X outside data area", addr)
		}
		h, err := format.DecodeSlotHeader(img[addr:])
		if err != nil {
			return nil, fmt.Errorf("fragment 0x%X: %w", addr, err)
		}
		if !buf.Within(addr, h.Extent(), d.DataAddr, d.DataAddr+d.DataSize) {
			return nil, fmt.Errorf("fragment 0x%X overruns data area", addr)
		}
		if _, _, err := format.DecodeSlot(img[addr : addr+h.Extent()]); err != nil {
			return nil, fmt.Errorf("fragment 0x%X: %w", addr, err)
		}
		if h.Name != it.Name {
			return nil, fmt.Errorf("fragment 0x%X named %q", addr, h.Name.String())
		}
		if len(out) == 0 {
			total = h.TotalSize
		} else if h.TotalSize != total {
			return nil, fmt.Errorf("fragment 0x%X total %d, chain total %d", addr, h.TotalSize, total)
		}
		out = append(out, region{addr, h.Extent()})
		cur += h.CurSize
		bytes += h.DataLen()
		addr = h.Next
	}
	if cur != total || bytes != uint32(it.Len) {
		return nil, fmt.Errorf("chain holds %d/%d bytes, item length %d, total %d", cur, bytes, it.Len, total)
	}
	return out, nil
}

// freeList walks the persisted free list of d. Nodes must be ascending and
// non-adjacent, and each node's total must equal the sum of the sizes from
// that node to the end of the list.
func freeList(img []byte, d format.SectionDesc) ([]region, error) {
	var (
		out   []region
		nodes []format.FreeNode
		floor = d.DataAddr
		limit = int(d.DataSize / format.FreeNodeSize)
	)
	for addr := d.FreeAddr; addr != format.NoAddr; {
		if len(out) >= limit {
			return nil, fail("FreeList", addr, "more than %d nodes", limit)
		}
		if addr%format.DataAlign != 0 || addr < floor ||
			!buf.Within(addr, format.FreeNodeSize, d.DataAddr, d.DataAddr+d.DataSize) {
			return nil, fail("FreeList", addr, "node address out of order or outside data area")
		}
		n, err := format.DecodeFreeNode(img[addr:])
		if err != nil {
			return nil, fail("FreeList", addr, "%v", err)
		}
		if !buf.Within(addr, n.Size, d.DataAddr, d.DataAddr+d.DataSize) {
			return nil, fail("FreeList", addr, "node size %d overruns data area", n.Size)
		}
		if len(out) > 0 && out[len(out)-1].end() == addr {
			return nil, fail("FreeList", addr, "node adjacent to its predecessor was not coalesced")
		}
		out = append(out, region{addr, n.Size})
		nodes = append(nodes, n)
		floor = addr + n.Size
		addr = n.Next
	}
	var total uint32
	for i := len(out) - 1; i >= 0; i-- {
		total += out[i].size
		if nodes[i].Total != total {
			return nil, &ValidationError{
				Type:    "FreeList",
				Message: fmt.Sprintf("total %d, suffix sum %d", nodes[i].Total, total),
				Offset:  int(out[i].addr),
				Details: map[string]interface{}{"stored": nodes[i].Total, "calculated": total},
			}
		}
	}
	return out, nil
}
