package dynamixel

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var header2 = []byte{0xFF, 0xFF, 0xFD, 0x00}

// ErrBitAlert is the Protocol2 hardware alert flag. The low seven bits of a
// Protocol2 error byte hold a result code rather than flags.
const ErrBitAlert byte = 0x80

var resultCodes2 = map[byte]string{
	1: "result fail",
	2: "instruction",
	3: "CRC",
	4: "data range",
	5: "data length",
	6: "data limit",
	7: "access",
}

// protocol2 frames packets as FF FF FD 00 id lenL lenH instr params... crcL crcH.
type protocol2 struct{}

func (protocol2) Version() Version   { return Protocol2 }
func (protocol2) AddressWidth() int  { return 2 }
func (protocol2) MaxValueWidth() int { return 4 }

// The length field counts the parameters plus instruction and CRC.
func (protocol2) MaxParams() int { return 0xFFFF - 3 }

func (protocol2) Supports(inst Instruction) bool {
	switch inst {
	case InstPing, InstRead, InstWrite, InstRegWrite, InstAction, InstFactoryReset,
		InstReboot, InstSyncRead, InstSyncWrite, InstBulkRead, InstBulkWrite:
		return true
	}
	return false
}

func (protocol2) Encode(id byte, inst Instruction, params []byte) []byte {
	packet := make([]byte, 0, minPacketSize2+len(params))
	packet = append(packet, header2...)
	packet = append(packet, id)
	packet = binary.LittleEndian.AppendUint16(packet, uint16(len(params)+3))
	packet = append(packet, byte(inst))
	packet = append(packet, params...)
	packet = append(packet, 0, 0)

	binary.LittleEndian.PutUint16(packet[len(packet)-2:], CRC16(packet))
	return packet
}

func (protocol2) AppendAddress(dst []byte, v int) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(v))
}

func (protocol2) Decode(buf []byte) (DecodeState, *StatusPacket, error) {
	if len(buf) == 0 {
		return StateEmpty, nil, nil
	}
	if err := checkHeader(buf, header2); err != nil {
		return StateInvalid, nil, err
	}
	if len(buf) > 4 && buf[4] > MaxServoID {
		return StateInvalid, nil, &FramingError{Packet: bytes.Clone(buf), Reason: fmt.Sprintf("invalid id %d", buf[4])}
	}
	if len(buf) < 7 {
		return StateAccumulating, nil, nil
	}

	// instruction + error + CRC
	length := int(binary.LittleEndian.Uint16(buf[5:7]))
	if length < 4 {
		return StateInvalid, nil, &FramingError{
			Packet: bytes.Clone(buf),
			Reason: fmt.Sprintf("declared length %d is too small", length),
		}
	}

	total := length + 7
	if len(buf) < total {
		return StateAccumulating, nil, nil
	}
	frame := buf[:total]

	expected := CRC16(frame)
	if received := binary.LittleEndian.Uint16(frame[total-2:]); expected != received {
		return StateInvalid, nil, &CRCError{
			ID:       frame[4],
			Protocol: Protocol2,
			Expected: expected,
			Received: received,
		}
	}

	// Echoed instruction packets have a valid CRC but are not replies.
	if Instruction(frame[7]) != InstStatus {
		return StateInvalid, nil, &FramingError{
			Packet: bytes.Clone(frame),
			Reason: fmt.Sprintf("instruction byte 0x%02X is not a status reply", frame[7]),
		}
	}

	return StateDone, &StatusPacket{
		ID:         frame[4],
		Error:      frame[8],
		Parameters: bytes.Clone(frame[9 : total-2]),
		Raw:        bytes.Clone(frame),
	}, nil
}

// Result codes are always fatal; only the alert flag can be tolerated.
func (p protocol2) CheckStatus(pkt *StatusPacket, tolerate byte) error {
	code := pkt.Error &^ ErrBitAlert
	alert := pkt.Error & ErrBitAlert &^ tolerate
	if code == 0 && alert == 0 {
		return nil
	}
	return &StatusError{
		ID:         pkt.ID,
		Protocol:   Protocol2,
		Code:       pkt.Error,
		Categories: p.Categories(pkt.Error),
	}
}

func (protocol2) Categories(code byte) []string {
	var names []string
	if code&ErrBitAlert != 0 {
		names = append(names, "hardware alert")
	}
	if result := code &^ ErrBitAlert; result != 0 {
		if name, ok := resultCodes2[result]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("result code %d", result))
		}
	}
	return names
}

func (protocol2) SpeedRange(_ OperatingMode, minTicks, maxTicks int) (int, int) {
	return minTicks, maxTicks
}

func (protocol2) EncodeSpeed(ticks int, _ OperatingMode, _ int) int64 {
	return int64(ticks)
}

func (protocol2) DecodeSpeed(raw int64, _ OperatingMode, _ int) int {
	return int(int32(raw))
}
