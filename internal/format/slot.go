package format

import (
	"fmt"
)

// SlotHeader holds the fixed fields of one data slot (one chain fragment).
type SlotHeader struct {
	Name      Name
	TotalSize uint32 // padded payload bytes across the whole chain
	CurSize   uint32 // padded payload bytes held by this fragment
	Next      uint32 // next fragment address, NoAddr at the end of the chain
	Align     uint8  // bytes of this fragment's payload that are padding
}

// Extent returns the bytes this fragment occupies in the data area.
func (h SlotHeader) Extent() uint32 { return SlotExtent(h.CurSize) }

// DataLen returns the number of real data bytes in this fragment.
func (h SlotHeader) DataLen() uint32 { return h.CurSize - uint32(h.Align) }

// EncodeSlot builds a complete fragment. data holds the real bytes of this
// fragment; it is zero padded up to h.CurSize. h.Align must equal the pad.
func EncodeSlot(h SlotHeader, data []byte) ([]byte, error) {
	if h.CurSize%DataAlign != 0 {
		return nil, fmt.Errorf("slot: %w: cur size %d not aligned", ErrField, h.CurSize)
	}
	if uint32(len(data))+uint32(h.Align) != h.CurSize {
		return nil, fmt.Errorf("slot: %w: data %d + align %d != cur size %d",
			ErrField, len(data), h.Align, h.CurSize)
	}
	b := make([]byte, h.Extent())
	PutU32(b, SlotHeadTagOffset, SlotHeadTag)
	copy(b[SlotNameOffset:SlotNameOffset+NameFieldSize], h.Name[:])
	PutU32(b, SlotTotalSizeOffset, h.TotalSize)
	PutU32(b, SlotCurSizeOffset, h.CurSize)
	PutU32(b, SlotNextOffset, h.Next)
	b[SlotAlignOffset] = h.Align
	copy(b[SlotPayloadOffset:], data)

	crcOff := SlotPayloadOffset + int(h.CurSize)
	PutU16(b, crcOff, CRC16(b[SlotNameOffset:crcOff]))
	PutU32(b, crcOff+2, SlotEndTag)
	return b, nil
}

// DecodeSlotHeader decodes the fixed header of a fragment without touching
// its payload. Only the start tag and field ranges are checked; use
// DecodeSlot to verify the checksum and end tag.
func DecodeSlotHeader(b []byte) (SlotHeader, error) {
	if len(b) < SlotHeaderSize {
		return SlotHeader{}, fmt.Errorf("slot header: %w", ErrTruncated)
	}
	if tag := ReadU32(b, SlotHeadTagOffset); tag != SlotHeadTag {
		return SlotHeader{}, fmt.Errorf("slot header: %w (head=0x%08X)", ErrTag, tag)
	}
	var h SlotHeader
	copy(h.Name[:], b[SlotNameOffset:SlotNameOffset+NameFieldSize])
	h.TotalSize = ReadU32(b, SlotTotalSizeOffset)
	h.CurSize = ReadU32(b, SlotCurSizeOffset)
	h.Next = ReadU32(b, SlotNextOffset)
	h.Align = b[SlotAlignOffset]

	switch {
	case !h.Name.Valid():
		return SlotHeader{}, fmt.Errorf("slot header: %w", ErrName)
	case h.CurSize == 0 || h.CurSize%DataAlign != 0:
		return SlotHeader{}, fmt.Errorf("slot header: %w: cur size %d", ErrField, h.CurSize)
	case uint32(h.Align) > h.CurSize:
		return SlotHeader{}, fmt.Errorf("slot header: %w: align %d > cur size %d", ErrField, h.Align, h.CurSize)
	case h.CurSize > h.TotalSize:
		return SlotHeader{}, fmt.Errorf("slot header: %w: cur size %d > total %d", ErrField, h.CurSize, h.TotalSize)
	}
	return h, nil
}

// DecodeSlot validates a complete fragment (both tags and the checksum) and
// returns its header and the real data bytes. The returned slice aliases b.
func DecodeSlot(b []byte) (SlotHeader, []byte, error) {
	h, err := DecodeSlotHeader(b)
	if err != nil {
		return SlotHeader{}, nil, err
	}
	if uint64(len(b)) < uint64(h.Extent()) {
		return SlotHeader{}, nil, fmt.Errorf("slot: %w", ErrTruncated)
	}
	crcOff := SlotPayloadOffset + int(h.CurSize)
	if tag := ReadU32(b, crcOff+2); tag != SlotEndTag {
		return SlotHeader{}, nil, fmt.Errorf("slot: %w (end=0x%08X)", ErrTag, tag)
	}
	if got, want := ReadU16(b, crcOff), CRC16(b[SlotNameOffset:crcOff]); got != want {
		return SlotHeader{}, nil, fmt.Errorf("slot: %w (stored=0x%04X computed=0x%04X)", ErrChecksum, got, want)
	}
	return h, b[SlotPayloadOffset : SlotPayloadOffset+int(h.DataLen())], nil
}
