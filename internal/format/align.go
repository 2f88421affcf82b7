package format

// Alignment utilities for slot payloads. Payloads are padded to DataAlign
// bytes so every slot and free node starts on a 4-byte boundary.

// Align4 returns n aligned up to the next 4-byte boundary.
//
// Example:
//
//	Align4(1)  = 4
//	Align4(4)  = 4
//	Align4(13) = 16
func Align4(n uint32) uint32 {
	return (n + DataAlignMask) &^ DataAlignMask
}

// Floor4 returns n aligned down to a 4-byte boundary.
func Floor4(n uint32) uint32 {
	return n &^ DataAlignMask
}

// SlotExtent returns the bytes a fragment holding cur padded payload bytes
// occupies in the data area.
func SlotExtent(cur uint32) uint32 {
	return SlotOverhead + cur
}
