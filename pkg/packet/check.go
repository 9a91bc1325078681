package packet

import "github.com/sigurn/crc16"

// crcTable is the CRC-16/AUG-CCITT parameters OSDP mandates:
// polynomial 0x1021, initial value 0x1D0F, no reflection.
var crcTable = crc16.MakeTable(crc16.CRC16_AUG_CCITT)

// CRC16 computes the OSDP frame CRC over data.
// It is transmitted least-significant byte first.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Checksum computes the legacy 8-bit check value: the two's complement of
// the byte sum, so that summing the frame including the check yields zero.
func Checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
