package dynamixel

import (
	"bytes"
	"fmt"
)

var header1 = []byte{0xFF, 0xFF}

// Protocol1 status error bits.
const (
	ErrBitVoltage     byte = 1 << 0
	ErrBitAngleLimit  byte = 1 << 1
	ErrBitOverheat    byte = 1 << 2
	ErrBitRange       byte = 1 << 3
	ErrBitChecksum    byte = 1 << 4
	ErrBitOverload    byte = 1 << 5
	ErrBitInstruction byte = 1 << 6
)

var errorBits1 = []struct {
	bit  byte
	name string
}{
	{ErrBitVoltage, "input voltage"},
	{ErrBitAngleLimit, "angle limit"},
	{ErrBitOverheat, "overheating"},
	{ErrBitRange, "range"},
	{ErrBitChecksum, "checksum"},
	{ErrBitOverload, "overload"},
	{ErrBitInstruction, "instruction"},
}

// protocol1 frames packets as FF FF id len instr params... checksum.
type protocol1 struct{}

func (protocol1) Version() Version   { return Protocol1 }
func (protocol1) AddressWidth() int  { return 1 }
func (protocol1) MaxValueWidth() int { return 2 }

// The length byte counts the parameters plus instruction and checksum.
func (protocol1) MaxParams() int { return 0xFF - 2 }

func (protocol1) Supports(inst Instruction) bool {
	switch inst {
	case InstPing, InstRead, InstWrite, InstRegWrite, InstAction, InstFactoryReset, InstSyncWrite:
		return true
	}
	return false
}

func (protocol1) Encode(id byte, inst Instruction, params []byte) []byte {
	packet := make([]byte, 0, minPacketSize1+len(params))
	packet = append(packet, header1...)
	packet = append(packet, id, byte(len(params)+2), byte(inst))
	packet = append(packet, params...)
	packet = append(packet, 0)

	// Length is at least minPacketSize1, so this cannot fail.
	sum, _ := Checksum1(packet)
	packet[len(packet)-1] = sum
	return packet
}

func (protocol1) AppendAddress(dst []byte, v int) []byte {
	return append(dst, byte(v))
}

func (protocol1) Decode(buf []byte) (DecodeState, *StatusPacket, error) {
	if len(buf) == 0 {
		return StateEmpty, nil, nil
	}
	if err := checkHeader(buf, header1); err != nil {
		return StateInvalid, nil, err
	}
	if len(buf) > 2 && buf[2] > MaxServoID {
		return StateInvalid, nil, &FramingError{Packet: bytes.Clone(buf), Reason: fmt.Sprintf("invalid id %d", buf[2])}
	}
	if len(buf) < 4 {
		return StateAccumulating, nil, nil
	}

	length := int(buf[3])
	if length < 2 {
		return StateInvalid, nil, &FramingError{
			Packet: bytes.Clone(buf),
			Reason: fmt.Sprintf("declared length %d is too small", length),
		}
	}

	total := length + 4
	if len(buf) < total {
		return StateAccumulating, nil, nil
	}
	frame := buf[:total]

	expected, err := Checksum1(frame)
	if err != nil {
		return StateInvalid, nil, err
	}
	if received := frame[total-1]; expected != received {
		return StateInvalid, nil, &CRCError{
			ID:       frame[2],
			Protocol: Protocol1,
			Expected: uint16(expected),
			Received: uint16(received),
		}
	}

	return StateDone, &StatusPacket{
		ID:         frame[2],
		Error:      frame[4],
		Parameters: bytes.Clone(frame[5 : total-1]),
		Raw:        bytes.Clone(frame),
	}, nil
}

func (p protocol1) CheckStatus(pkt *StatusPacket, tolerate byte) error {
	if pkt.Error&^tolerate == 0 {
		return nil
	}
	return &StatusError{
		ID:         pkt.ID,
		Protocol:   Protocol1,
		Code:       pkt.Error,
		Categories: p.Categories(pkt.Error),
	}
}

func (protocol1) Categories(code byte) []string {
	var names []string
	for _, e := range errorBits1 {
		if code&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return names
}

func (protocol1) SpeedRange(mode OperatingMode, minTicks, maxTicks int) (int, int) {
	if mode == ModeWheel {
		return -maxTicks, maxTicks
	}
	return minTicks, maxTicks
}

// In wheel mode bit 10 of the speed word carries the direction: negative
// speeds are stored as abs(ticks) + maxTicks + 1.
func (protocol1) EncodeSpeed(ticks int, mode OperatingMode, maxTicks int) int64 {
	if mode == ModeWheel && ticks < 0 {
		return int64(-ticks + maxTicks + 1)
	}
	return int64(ticks)
}

func (protocol1) DecodeSpeed(raw int64, mode OperatingMode, maxTicks int) int {
	if raw > int64(maxTicks) {
		return -int(raw - int64(maxTicks) - 1)
	}
	return int(raw)
}
