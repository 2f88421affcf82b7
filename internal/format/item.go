package format

import (
	"fmt"
)

// Item is one decoded table entry.
type Item struct {
	Class    uint8
	Name     Name
	DataAddr uint32
	Len      uint16
}

// AvailableItem returns the placeholder entry for class.
func AvailableItem(class uint8) Item {
	return Item{Class: class, Name: AvailableItemName}
}

// IsAvailable reports whether the entry is the placeholder.
func (it Item) IsAvailable() bool {
	return it.Name == AvailableItemName
}

// Encode writes the 64-byte record into b, computing its checksum.
func (it Item) Encode(b []byte) {
	_ = b[ItemSize-1]
	clear(b[:ItemSize])
	b[ItemHeadTagOffset] = ItemHeadTag
	b[ItemClassOffset] = it.Class
	copy(b[ItemNameOffset:ItemNameOffset+NameFieldSize], it.Name[:])
	PutU32(b, ItemDataAddrOffset, it.DataAddr)
	PutU16(b, ItemLenOffset, it.Len)
	b[ItemEndTagOffset] = ItemEndTag
	PutU16(b, ItemCRCOffset, itemCRC(b))
}

// Bytes returns the encoded record.
func (it Item) Bytes() []byte {
	b := make([]byte, ItemSize)
	it.Encode(b)
	return b
}

// DecodeItem validates and decodes a table entry. Both sentinels, the
// checksum and the name field must be well formed.
func DecodeItem(b []byte) (Item, error) {
	if len(b) < ItemSize {
		return Item{}, fmt.Errorf("item: %w", ErrTruncated)
	}
	if b[ItemHeadTagOffset] != ItemHeadTag || b[ItemEndTagOffset] != ItemEndTag {
		return Item{}, fmt.Errorf("item: %w (head=0x%02X end=0x%02X)",
			ErrTag, b[ItemHeadTagOffset], b[ItemEndTagOffset])
	}
	if got, want := ReadU16(b, ItemCRCOffset), itemCRC(b); got != want {
		return Item{}, fmt.Errorf("item: %w (stored=0x%04X computed=0x%04X)", ErrChecksum, got, want)
	}
	var it Item
	it.Class = b[ItemClassOffset]
	copy(it.Name[:], b[ItemNameOffset:ItemNameOffset+NameFieldSize])
	it.DataAddr = ReadU32(b, ItemDataAddrOffset)
	it.Len = ReadU16(b, ItemLenOffset)
	if !it.Name.Valid() {
		return Item{}, fmt.Errorf("item: %w", ErrName)
	}
	if it.Class >= NumSections {
		return Item{}, fmt.Errorf("item: %w: class %d", ErrField, it.Class)
	}
	if it.IsAvailable() && (it.DataAddr != NoAddr || it.Len != 0) {
		return Item{}, fmt.Errorf("item: %w: placeholder with data", ErrField)
	}
	return it, nil
}

// itemCRC covers the whole record except the checksum field itself.
func itemCRC(b []byte) uint16 {
	crc := CRC16(b[:ItemCRCOffset])
	return UpdateCRC16(crc, b[ItemEndTagOffset:ItemEndTagOffset+1])
}
