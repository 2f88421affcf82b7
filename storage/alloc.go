package storage

import (
	"fmt"
	"slices"

	"github.com/joshuapare/paramkit/internal/format"
)

// span is a contiguous region of a data area. In the free list every span
// starts with a free node; as a chain extent it starts with a slot header.
type span struct {
	addr uint32
	size uint32
}

func (s span) end() uint32 { return s.addr + s.size }

// fragment is one planned slot of a chain.
type fragment struct {
	addr  uint32
	cur   uint32 // padded payload bytes held here
	align uint8  // padding bytes at the end of this fragment's payload
}

func (f fragment) extent() uint32 { return format.SlotExtent(f.cur) }

func (f fragment) dataLen() uint32 { return f.cur - uint32(f.align) }

// spanBytes sums the sizes of spans.
func spanBytes(free []span) uint32 {
	var n uint32
	for _, s := range free {
		n += s.size
	}
	return n
}

// largestSpan returns the size of the biggest free region.
func largestSpan(free []span) uint32 {
	var n uint32
	for _, s := range free {
		n = max(n, s.size)
	}
	return n
}

// minFragment is the smallest span that can hold a fragment.
const minFragment = format.SlotOverhead + format.DataAlign

// planSlots reserves room for n payload bytes in free, which is sorted by
// address. It returns the fragments in chain order and the free list that
// remains; free itself is not modified.
//
// A single fragment goes into the smallest span that fits (lowest address
// on ties), carved from the span's tail. If no span fits, spans are taken
// largest first and the payload is split across them. A leftover smaller
// than a free node is absorbed into the fragment as padding.
func planSlots(free []span, n uint32) ([]fragment, []span, error) {
	need := format.Align4(n)
	pad := need - n
	rest := slices.Clone(free)

	best := -1
	for i, s := range rest {
		if s.size < format.SlotExtent(need) {
			continue
		}
		if best < 0 || s.size < rest[best].size {
			best = i
		}
	}
	if best >= 0 {
		f, left := carve(rest[best], need, pad)
		rest = replaceSpan(rest, best, left)
		return []fragment{f}, rest, nil
	}

	// Chain: biggest spans first, stable on address for equal sizes.
	order := make([]int, len(rest))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case rest[a].size > rest[b].size:
			return -1
		case rest[a].size < rest[b].size:
			return 1
		}
		return 0
	})

	var (
		frags     []fragment
		used      = make([]span, len(rest)) // replacement per index; size 0 drops it
		remaining = need
	)
	copy(used, rest)
	for _, i := range order {
		s := rest[i]
		if s.size < minFragment {
			break
		}
		capacity := format.Floor4(s.size - format.SlotOverhead)
		if capacity >= remaining {
			f, left := carve(s, remaining, pad)
			frags = append(frags, f)
			used[i] = left
			remaining = 0
			break
		}
		frags = append(frags, fragment{addr: s.addr, cur: capacity})
		used[i] = span{addr: s.addr}
		remaining -= capacity
	}
	if remaining > 0 {
		return nil, nil, fmt.Errorf("%d payload bytes do not fit in %d free bytes over %d spans",
			n, spanBytes(free), len(free))
	}

	out := rest[:0]
	for _, s := range used {
		if s.size > 0 {
			out = append(out, s)
		}
	}
	return frags, out, nil
}

// carve takes a fragment holding cur padded bytes from the tail of s. The
// part of s left in front is returned; it is empty when the leftover was
// too small for a free node and went into the fragment.
func carve(s span, cur, pad uint32) (fragment, span) {
	ext := format.SlotExtent(cur)
	left := s.size - ext
	if left < format.FreeNodeSize {
		return fragment{addr: s.addr, cur: cur + left, align: uint8(pad + left)}, span{addr: s.addr}
	}
	return fragment{addr: s.addr + left, cur: cur, align: uint8(pad)}, span{addr: s.addr, size: left}
}

func replaceSpan(free []span, i int, s span) []span {
	if s.size == 0 {
		return slices.Delete(free, i, i+1)
	}
	free[i] = s
	return free
}

// releaseSpan returns r to the address-ordered free list, merging it with
// an adjacent span on either side.
func releaseSpan(free []span, r span) []span {
	i, _ := slices.BinarySearchFunc(free, r.addr, func(s span, addr uint32) int {
		switch {
		case s.addr < addr:
			return -1
		case s.addr > addr:
			return 1
		}
		return 0
	})
	if i > 0 && free[i-1].end() == r.addr {
		free[i-1].size += r.size
		if i < len(free) && free[i-1].end() == free[i].addr {
			free[i-1].size += free[i].size
			free = slices.Delete(free, i, i+1)
		}
		return free
	}
	if i < len(free) && r.end() == free[i].addr {
		free[i].addr = r.addr
		free[i].size += r.size
		return free
	}
	return slices.Insert(free, i, r)
}

// gaps returns the holes between the sorted, disjoint extents inside
// [lo, hi). Holes too small for a free node cannot be recorded and are
// reported as lost bytes.
func gaps(extents []span, lo, hi uint32) (free []span, lost uint32) {
	cursor := lo
	add := func(a, b uint32) {
		if b <= a {
			return
		}
		if b-a < format.FreeNodeSize {
			lost += b - a
			return
		}
		free = append(free, span{addr: a, size: b - a})
	}
	for _, e := range extents {
		add(cursor, e.addr)
		cursor = max(cursor, e.end())
	}
	add(cursor, hi)
	return free, lost
}

// sortSpans orders spans by address and reports the first overlap.
func sortSpans(spans []span) (overlap *[2]span) {
	slices.SortFunc(spans, func(a, b span) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
	for i := 1; i < len(spans); i++ {
		if spans[i].addr < spans[i-1].end() {
			return &[2]span{spans[i-1], spans[i]}
		}
	}
	return nil
}
