package format

import (
	"bytes"
	"fmt"
)

// SectionDesc locates one class's table and data area on a medium.
type SectionDesc struct {
	TabAddr  uint32
	DataAddr uint32
	DataSize uint32
	PageNum  uint32 // sectors spanned by table + data
	TabSize  uint32
	FreeAddr uint32 // free list head, NoAddr when the area is full
	ParaSize uint32 // payload bytes held by live items
	ParaNum  uint32 // live item count
}

// SameGeometry reports whether the static placement fields match. The
// free list head and the parameter counters are runtime state.
func (d SectionDesc) SameGeometry(o SectionDesc) bool {
	return d.TabAddr == o.TabAddr &&
		d.DataAddr == o.DataAddr &&
		d.DataSize == o.DataSize &&
		d.PageNum == o.PageNum &&
		d.TabSize == o.TabSize
}

// Items returns the number of records the table holds.
func (d SectionDesc) Items() int { return int(d.TabSize / ItemSize) }

func (d SectionDesc) encode(b []byte) {
	PutU32(b, SecTabAddrOffset, d.TabAddr)
	PutU32(b, SecDataAddrOffset, d.DataAddr)
	PutU32(b, SecDataSizeOffset, d.DataSize)
	PutU32(b, SecPageNumOffset, d.PageNum)
	PutU32(b, SecTabSizeOffset, d.TabSize)
	PutU32(b, SecFreeAddrOffset, d.FreeAddr)
	PutU32(b, SecParaSizeOffset, d.ParaSize)
	PutU32(b, SecParaNumOffset, d.ParaNum)
}

func decodeSectionDesc(b []byte) SectionDesc {
	return SectionDesc{
		TabAddr:  ReadU32(b, SecTabAddrOffset),
		DataAddr: ReadU32(b, SecDataAddrOffset),
		DataSize: ReadU32(b, SecDataSizeOffset),
		PageNum:  ReadU32(b, SecPageNumOffset),
		TabSize:  ReadU32(b, SecTabSizeOffset),
		FreeAddr: ReadU32(b, SecFreeAddrOffset),
		ParaSize: ReadU32(b, SecParaSizeOffset),
		ParaNum:  ReadU32(b, SecParaNumOffset),
	}
}

// Info is the per-medium flash info header.
type Info struct {
	Seq        uint32
	Tag        [InfoTagSize]byte
	BaseAddr   uint32
	TotalSize  uint32
	RemainSize uint32
	DataSize   uint32
	Sections   [NumSections]SectionDesc
}

// MediumTag pads s into a tag field.
func MediumTag(s string) [InfoTagSize]byte {
	var t [InfoTagSize]byte
	copy(t[:], s)
	return t
}

// TagString returns the tag up to the first NUL.
func (in Info) TagString() string {
	if i := bytes.IndexByte(in.Tag[:], 0); i >= 0 {
		return string(in.Tag[:i])
	}
	return string(in.Tag[:])
}

// SameGeometry compares every static field of two headers.
func (in Info) SameGeometry(o Info) bool {
	if in.Tag != o.Tag || in.BaseAddr != o.BaseAddr || in.TotalSize != o.TotalSize ||
		in.RemainSize != o.RemainSize || in.DataSize != o.DataSize {
		return false
	}
	for i := range in.Sections {
		if !in.Sections[i].SameGeometry(o.Sections[i]) {
			return false
		}
	}
	return true
}

// Encode writes one 160-byte header copy into b.
func (in Info) Encode(b []byte) {
	_ = b[InfoSize-1]
	clear(b[:InfoSize])
	PutU32(b, InfoHeadTagOffset, InfoHeadTag)
	PutU32(b, InfoSeqOffset, in.Seq)
	copy(b[InfoTagOffset:InfoTagOffset+InfoTagSize], in.Tag[:])
	PutU32(b, InfoBaseOffset, in.BaseAddr)
	PutU32(b, InfoTotalOffset, in.TotalSize)
	PutU32(b, InfoRemainOffset, in.RemainSize)
	PutU32(b, InfoDataSizeOffset, in.DataSize)
	for i, s := range in.Sections {
		off := InfoSectionsOffset + i*SectionDescSize
		s.encode(b[off : off+SectionDescSize])
	}
	PutU16(b, InfoCRCOffset, CRC16(b[InfoSeqOffset:InfoCRCOffset]))
	PutU32(b, InfoEndTagOffset, InfoEndTag)
}

// Bytes returns one encoded header copy.
func (in Info) Bytes() []byte {
	b := make([]byte, InfoSize)
	in.Encode(b)
	return b
}

// DecodeInfo validates tags and checksum of one header copy.
func DecodeInfo(b []byte) (Info, error) {
	if len(b) < InfoSize {
		return Info{}, fmt.Errorf("flash info: %w", ErrTruncated)
	}
	head := ReadU32(b, InfoHeadTagOffset)
	end := ReadU32(b, InfoEndTagOffset)
	if head != InfoHeadTag || end != InfoEndTag {
		return Info{}, fmt.Errorf("flash info: %w (head=0x%08X end=0x%08X)", ErrTag, head, end)
	}
	if got, want := ReadU16(b, InfoCRCOffset), CRC16(b[InfoSeqOffset:InfoCRCOffset]); got != want {
		return Info{}, fmt.Errorf("flash info: %w (stored=0x%04X computed=0x%04X)", ErrChecksum, got, want)
	}
	var in Info
	in.Seq = ReadU32(b, InfoSeqOffset)
	copy(in.Tag[:], b[InfoTagOffset:InfoTagOffset+InfoTagSize])
	in.BaseAddr = ReadU32(b, InfoBaseOffset)
	in.TotalSize = ReadU32(b, InfoTotalOffset)
	in.RemainSize = ReadU32(b, InfoRemainOffset)
	in.DataSize = ReadU32(b, InfoDataSizeOffset)
	for i := range in.Sections {
		off := InfoSectionsOffset + i*SectionDescSize
		in.Sections[i] = decodeSectionDesc(b[off : off+SectionDescSize])
	}
	return in, nil
}
