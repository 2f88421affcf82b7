// Package format houses the bit-exact on-flash layout of the parameter store:
// item records, data slots, free nodes and the flash info header. Decoders
// validate sentinels and checksums so higher-level packages never see a
// structure that did not pass integrity checks.
//
// Every multi-byte field is little-endian.
package format

// ============================================================================
// Item Record Constants
// ============================================================================
//
// Item record layout (64 bytes, fixed):
//
//	Offset  Size  Field
//	0x00    1     start tag (0xAA)
//	0x01    1     class (0 boot, 1 system, 2 user)
//	0x02    41    name, NUL padded (<= 40 bytes + terminator)
//	0x2B    4     data address (first slot of the chain, 0 = none)
//	0x2F    2     payload length
//	0x31    12    reserved
//	0x3D    2     CRC-16 over 0x00..0x3C and 0x3F
//	0x3F    1     end tag (0xBB)
const (
	ItemSize = 64

	ItemHeadTag = 0xAA
	ItemEndTag  = 0xBB

	ItemHeadTagOffset  = 0x00
	ItemClassOffset    = 0x01
	ItemNameOffset     = 0x02
	ItemDataAddrOffset = 0x2B
	ItemLenOffset      = 0x2F
	ItemReservedOffset = 0x31
	ItemReservedSize   = 12
	ItemCRCOffset      = 0x3D
	ItemEndTagOffset   = 0x3F

	// AvailableName marks a table entry that holds no item. The spelling is
	// part of the persisted format and must not be corrected.
	AvailableName = "Item_Avaliable"
)

// Name field sizing shared by item records and slots.
const (
	// NameFieldSize is the on-flash width of a name field.
	NameFieldSize = 41

	// MaxNameLen is the longest name that fits with its NUL terminator.
	MaxNameLen = NameFieldSize - 1
)

// ============================================================================
// Data Slot Constants
// ============================================================================
//
// Slot layout (64 bytes of overhead around the padded payload):
//
//	Offset  Size  Field
//	0x00    4     start tag (0xEF0110EF)
//	0x04    41    item name
//	0x2D    4     total data size (padded, whole chain)
//	0x31    4     current slot size (padded payload held here)
//	0x35    4     next fragment address (0 = end of chain)
//	0x39    1     alignment padding count
//	0x3A    n     payload (n = current slot size)
//	0x3A+n  2     CRC-16 over 0x04 .. 0x3A+n-1
//	0x3C+n  4     end tag (0xFE1001FE)
const (
	SlotHeadTag = 0xEF0110EF
	SlotEndTag  = 0xFE1001FE

	SlotHeadTagOffset   = 0x00
	SlotNameOffset      = 0x04
	SlotTotalSizeOffset = 0x2D
	SlotCurSizeOffset   = 0x31
	SlotNextOffset      = 0x35
	SlotAlignOffset     = 0x39
	SlotPayloadOffset   = 0x3A

	// SlotHeaderSize is the number of bytes before the payload.
	SlotHeaderSize = SlotPayloadOffset

	// SlotTrailerSize covers the CRC and the end tag after the payload.
	SlotTrailerSize = 2 + 4

	// SlotOverhead is the fixed cost of a fragment around its payload.
	SlotOverhead = SlotHeaderSize + SlotTrailerSize
)

// ============================================================================
// Free Node Constants
// ============================================================================
//
// Free node layout (20 bytes):
//
//	Offset  Size  Field
//	0x00    4     start tag (0xA55AF00F)
//	0x04    4     total reclaimable size from this node to the end of the list
//	0x08    4     size of this node's contiguous region (node included)
//	0x0C    4     next free node address (0 = end of list)
//	0x10    4     end tag (0xF00FA55A)
const (
	FreeNodeHeadTag = 0xA55AF00F
	FreeNodeEndTag  = 0xF00FA55A

	FreeNodeHeadTagOffset = 0x00
	FreeNodeTotalOffset   = 0x04
	FreeNodeSizeOffset    = 0x08
	FreeNodeNextOffset    = 0x0C
	FreeNodeEndTagOffset  = 0x10

	FreeNodeSize = 0x14
)

// ============================================================================
// Flash Info Header Constants
// ============================================================================
//
// Flash info layout (160 bytes). Two copies live at the start of the first
// two sectors of the layout, so rewriting one never erases the other:
//
//	Offset  Size  Field
//	0x00    4     start tag (0xEF0110EF)
//	0x04    4     sequence number
//	0x08    32    medium tag, NUL padded
//	0x28    4     base address
//	0x2C    4     total size
//	0x30    4     remaining size
//	0x34    4     data-area size over all sections
//	0x38    96    boot, system, user section descriptors (32 bytes each)
//	0x98    2     CRC-16 over 0x04..0x97
//	0x9A    2     reserved
//	0x9C    4     end tag (0xFE1001FE)
const (
	InfoHeadTag = SlotHeadTag
	InfoEndTag  = SlotEndTag

	InfoHeadTagOffset  = 0x00
	InfoSeqOffset      = 0x04
	InfoTagOffset      = 0x08
	InfoTagSize        = 32
	InfoBaseOffset     = 0x28
	InfoTotalOffset    = 0x2C
	InfoRemainOffset   = 0x30
	InfoDataSizeOffset = 0x34
	InfoSectionsOffset = 0x38
	InfoCRCOffset      = 0x98
	InfoEndTagOffset   = 0x9C

	InfoSize = 0xA0

	// InfoCopies is the number of header copies, one per sector.
	InfoCopies = 2

	// SectionDescSize is the encoded size of one section descriptor.
	SectionDescSize = 32

	// NumSections is the number of parameter classes per medium.
	NumSections = 3

	InternalTag = "[InternalFlash Storage]"
	ExternalTag = "[ExternalFlash Storage]"
)

// ============================================================================
// Write Journal Constants
// ============================================================================
//
// The journal spans two sectors. The first holds the full new image of the
// sector being rewritten; the trailer follows at the start of the second:
//
//	Offset  Size  Field
//	0x00    4     start tag (0x4A4E5257)
//	0x04    4     target sector address
//	0x08    4     image length (one layout sector)
//	0x0C    2     CRC-16 over the image and 0x04..0x0B
//	0x0E    2     reserved
//	0x10    4     end tag (0x57524E4A)
const (
	JournalHeadTag = 0x4A4E5257
	JournalEndTag  = 0x57524E4A

	JournalHeadTagOffset = 0x00
	JournalAddrOffset    = 0x04
	JournalLenOffset     = 0x08
	JournalCRCOffset     = 0x0C
	JournalEndTagOffset  = 0x10

	JournalTrailerSize = 0x14

	// JournalSectors is the number of layout sectors the journal occupies.
	JournalSectors = 2
)

// Section descriptor field offsets, relative to the descriptor start.
const (
	SecTabAddrOffset  = 0x00
	SecDataAddrOffset = 0x04
	SecDataSizeOffset = 0x08
	SecPageNumOffset  = 0x0C
	SecTabSizeOffset  = 0x10
	SecFreeAddrOffset = 0x14
	SecParaSizeOffset = 0x18
	SecParaNumOffset  = 0x1C
)

const (
	// DataAlign is the payload alignment inside a slot.
	DataAlign = 4

	// DataAlignMask is DataAlign - 1.
	DataAlignMask = DataAlign - 1

	// NoAddr terminates slot chains and the free list. Address 0 is either
	// below the layout or inside header copy A, so it can never name a slot.
	NoAddr = 0

	// MaxPayload is the largest payload an item record can describe.
	MaxPayload = 0xFFFF

	// ErasedByte is the value of erased NOR flash.
	ErasedByte = 0xFF
)
