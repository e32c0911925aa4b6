package dynamixel

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// Protocol2 uses the CRC-16/BUYPASS variant: polynomial 0x8005, zero seed,
// no reflection and no final xor.
var crcTable = crc16.MakeTable(crc16.CRC16_BUYPASS)

// Checksum1 computes the Protocol1 checksum of a framed packet: the sum of
// every byte between the header and the trailing checksum byte, truncated to
// eight bits and inverted.
func Checksum1(packet []byte) (byte, error) {
	if len(packet) < minPacketSize1 {
		return 0, fmt.Errorf("%w: %d bytes, need at least %d", ErrPacketTooShort, len(packet), minPacketSize1)
	}

	var sum byte
	for _, b := range packet[2 : len(packet)-1] {
		sum += b
	}
	return ^sum, nil
}

// CRC16 computes the Protocol2 CRC of a framed packet over every byte except
// the two trailing CRC bytes. Slices shorter than two bytes yield 0.
func CRC16(packet []byte) uint16 {
	if len(packet) < 2 {
		return 0
	}
	return crc16.Checksum(packet[:len(packet)-2], crcTable)
}
