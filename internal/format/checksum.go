package format

import "github.com/sigurn/crc16"

// crcTable is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection,
// no final XOR.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 returns the checksum of b.
func CRC16(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// UpdateCRC16 folds b into a running checksum. Start from CRC16(nil) or a
// previous result to checksum non-contiguous ranges.
func UpdateCRC16(crc uint16, b []byte) uint16 {
	return crc16.Complete(crc16.Update(crc, b, crcTable), crcTable)
}
