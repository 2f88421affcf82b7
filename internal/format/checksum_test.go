package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC16_CheckValue(t *testing.T) {
	// Standard CRC-16/CCITT-FALSE check value.
	require.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
}

func TestCRC16_Empty(t *testing.T) {
	require.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestUpdateCRC16_Split(t *testing.T) {
	data := []byte("flight controller parameters")
	whole := CRC16(data)
	split := UpdateCRC16(CRC16(data[:7]), data[7:])
	require.Equal(t, whole, split)
}

func TestUpdateCRC16_ThreeRanges(t *testing.T) {
	data := []byte("imu_cal gyro offsets")
	crc := UpdateCRC16(UpdateCRC16(CRC16(data[:3]), data[3:11]), data[11:])
	require.Equal(t, CRC16(data), crc)
}
