package format

import "fmt"

// EncodeJournal returns image followed by its trailer. The result is written
// at the journal base, so the trailer lands at the start of the second
// journal sector.
func EncodeJournal(target uint32, image []byte) []byte {
	n := len(image)
	b := make([]byte, n+JournalTrailerSize)
	copy(b, image)
	t := b[n:]
	PutU32(t, JournalHeadTagOffset, JournalHeadTag)
	PutU32(t, JournalAddrOffset, target)
	PutU32(t, JournalLenOffset, uint32(n))
	PutU16(t, JournalCRCOffset, journalCRC(b[:n], t))
	PutU32(t, JournalEndTagOffset, JournalEndTag)
	return b
}

// DecodeJournal validates a record whose image is n bytes and returns the
// target address and the image. b must hold the image and the trailer.
func DecodeJournal(b []byte, n uint32) (uint32, []byte, error) {
	if uint64(len(b)) < uint64(n)+JournalTrailerSize {
		return 0, nil, fmt.Errorf("journal: %w", ErrTruncated)
	}
	t := b[n : n+JournalTrailerSize]
	head := ReadU32(t, JournalHeadTagOffset)
	end := ReadU32(t, JournalEndTagOffset)
	if head != JournalHeadTag || end != JournalEndTag {
		return 0, nil, fmt.Errorf("journal: %w (head=0x%08X end=0x%08X)", ErrTag, head, end)
	}
	if l := ReadU32(t, JournalLenOffset); l != n {
		return 0, nil, fmt.Errorf("journal: %w: image length %d, sector %d", ErrField, l, n)
	}
	if got, want := ReadU16(t, JournalCRCOffset), journalCRC(b[:n], t); got != want {
		return 0, nil, fmt.Errorf("journal: %w (stored=0x%04X calc=0x%04X)", ErrChecksum, got, want)
	}
	return ReadU32(t, JournalAddrOffset), b[:n], nil
}

func journalCRC(image, trailer []byte) uint16 {
	return UpdateCRC16(CRC16(image), trailer[JournalAddrOffset:JournalCRCOffset])
}
