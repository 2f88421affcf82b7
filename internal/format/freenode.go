package format

import "fmt"

// FreeNode is one entry of a section's free list.
type FreeNode struct {
	Total uint32 // reclaimable bytes from this node to the end of the list
	Size  uint32 // bytes of this contiguous region, node header included
	Next  uint32 // next node address, NoAddr at the end of the list
}

// Encode writes the node into b.
func (n FreeNode) Encode(b []byte) {
	_ = b[FreeNodeSize-1]
	PutU32(b, FreeNodeHeadTagOffset, FreeNodeHeadTag)
	PutU32(b, FreeNodeTotalOffset, n.Total)
	PutU32(b, FreeNodeSizeOffset, n.Size)
	PutU32(b, FreeNodeNextOffset, n.Next)
	PutU32(b, FreeNodeEndTagOffset, FreeNodeEndTag)
}

// Bytes returns the encoded node.
func (n FreeNode) Bytes() []byte {
	b := make([]byte, FreeNodeSize)
	n.Encode(b)
	return b
}

// DecodeFreeNode validates both sentinels and the size fields.
func DecodeFreeNode(b []byte) (FreeNode, error) {
	if len(b) < FreeNodeSize {
		return FreeNode{}, fmt.Errorf("free node: %w", ErrTruncated)
	}
	head := ReadU32(b, FreeNodeHeadTagOffset)
	end := ReadU32(b, FreeNodeEndTagOffset)
	if head != FreeNodeHeadTag || end != FreeNodeEndTag {
		return FreeNode{}, fmt.Errorf("free node: %w (head=0x%08X end=0x%08X)", ErrTag, head, end)
	}
	n := FreeNode{
		Total: ReadU32(b, FreeNodeTotalOffset),
		Size:  ReadU32(b, FreeNodeSizeOffset),
		Next:  ReadU32(b, FreeNodeNextOffset),
	}
	if n.Size < FreeNodeSize || n.Size%DataAlign != 0 || n.Total < n.Size {
		return FreeNode{}, fmt.Errorf("free node: %w: size=%d total=%d", ErrField, n.Size, n.Total)
	}
	return n, nil
}
