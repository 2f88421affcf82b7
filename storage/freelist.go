package storage

import (
	"errors"
	"fmt"

	"github.com/joshuapare/paramkit/internal/format"
)

var errFreeList = errors.New("free list inconsistent")

// loadFreeList walks the persisted free list of s. Nodes must lie in the
// data area in ascending address order, and every node's total must equal
// the sum of the sizes from that node to the end of the list.
func (st *store) loadFreeList(s *section) ([]span, map[uint32]format.FreeNode, error) {
	var (
		free  []span
		nodes = make(map[uint32]format.FreeNode)
		limit = int(s.desc.DataSize / format.FreeNodeSize)
		floor = s.desc.DataAddr
	)
	for addr, n := s.desc.FreeAddr, 0; addr != format.NoAddr; n++ {
		switch {
		case n >= limit:
			return nil, nil, fmt.Errorf("%w: more than %d nodes", errFreeList, limit)
		case addr%format.DataAlign != 0 || addr < floor || !s.inData(addr, format.FreeNodeSize):
			return nil, nil, fmt.Errorf("%w: node address 0x%X", errFreeList, addr)
		}
		b, err := st.read(addr, format.FreeNodeSize)
		if err != nil {
			return nil, nil, readErr{err}
		}
		node, err := format.DecodeFreeNode(b)
		if err != nil {
			return nil, nil, fmt.Errorf("node at 0x%X: %w", addr, err)
		}
		if !s.inData(addr, node.Size) {
			return nil, nil, fmt.Errorf("%w: node at 0x%X size %d overruns data area", errFreeList, addr, node.Size)
		}
		nodes[addr] = node
		free = append(free, span{addr: addr, size: node.Size})
		floor = addr + node.Size
		addr = node.Next
	}

	var total uint32
	for i := len(free) - 1; i >= 0; i-- {
		total += free[i].size
		if got := nodes[free[i].addr].Total; got != total {
			return nil, nil, fmt.Errorf("%w: node at 0x%X total %d, want %d", errFreeList, free[i].addr, got, total)
		}
	}
	return free, nodes, nil
}

// encodeFreeList derives the on-flash nodes for an address-ordered list.
func encodeFreeList(free []span) map[uint32]format.FreeNode {
	nodes := make(map[uint32]format.FreeNode, len(free))
	total := spanBytes(free)
	for i, s := range free {
		next := uint32(format.NoAddr)
		if i+1 < len(free) {
			next = free[i+1].addr
		}
		nodes[s.addr] = format.FreeNode{Total: total, Size: s.size, Next: next}
		total -= s.size
	}
	return nodes
}

// persistFreeList writes every node of s.free that differs from what is
// known to be on flash and points the descriptor at the new head. After a
// failure nothing on flash is trusted and the next call rewrites all nodes.
func (st *store) persistFreeList(s *section) error {
	nodes := encodeFreeList(s.free)
	for _, sp := range s.free {
		n := nodes[sp.addr]
		if old, ok := s.onFlash[sp.addr]; ok && old == n {
			continue
		}
		if err := st.program(sp.addr, n.Bytes()); err != nil {
			s.onFlash = nil
			return fmt.Errorf("free node at 0x%X: %w", sp.addr, err)
		}
	}
	s.onFlash = nodes
	s.desc.FreeAddr = format.NoAddr
	if len(s.free) > 0 {
		s.desc.FreeAddr = s.free[0].addr
	}
	return nil
}

// checkConservation verifies that the free list and the live extents are
// disjoint and together cover the data area exactly.
func checkConservation(s *section, live, free []span) error {
	all := make([]span, 0, len(live)+len(free))
	all = append(all, live...)
	all = append(all, free...)
	if ov := sortSpans(all); ov != nil {
		return fmt.Errorf("%w: 0x%X+%d overlaps 0x%X+%d", errFreeList, ov[0].addr, ov[0].size, ov[1].addr, ov[1].size)
	}
	if got := spanBytes(all); got != s.desc.DataSize {
		return fmt.Errorf("%w: live %d + free %d != data area %d",
			errFreeList, spanBytes(live), spanBytes(free), s.desc.DataSize)
	}
	return nil
}
