package dynamixel

import (
	"bytes"
	"fmt"
)

// Version selects one of the two Dynamixel wire formats.
type Version int

// Protocol versions
const (
	Protocol1 Version = 1
	Protocol2 Version = 2
)

func (v Version) String() string {
	return fmt.Sprintf("protocol%d", int(v))
}

// Instruction is an instruction opcode.
type Instruction byte

// Instruction opcodes shared by both protocols unless noted.
const (
	InstPing         Instruction = 0x01
	InstRead         Instruction = 0x02
	InstWrite        Instruction = 0x03
	InstRegWrite     Instruction = 0x04
	InstAction       Instruction = 0x05
	InstFactoryReset Instruction = 0x06
	InstReboot       Instruction = 0x08 // Protocol2 only
	InstStatus       Instruction = 0x55 // Protocol2 status reply
	InstSyncRead     Instruction = 0x82 // Protocol2 only
	InstSyncWrite    Instruction = 0x83
	InstBulkRead     Instruction = 0x92 // Protocol2 only
	InstBulkWrite    Instruction = 0x93 // Protocol2 only
)

// Special IDs
const (
	BroadcastID byte = 0xFE
	MaxServoID  byte = 0xFD
)

// Packet sizes without parameters.
const (
	minPacketSize1 = 6
	minPacketSize2 = 10
)

var instructionNames = map[Instruction]string{
	InstPing:         "ping",
	InstRead:         "read",
	InstWrite:        "write",
	InstRegWrite:     "reg_write",
	InstAction:       "action",
	InstFactoryReset: "factory_reset",
	InstReboot:       "reboot",
	InstStatus:       "status",
	InstSyncRead:     "sync_read",
	InstSyncWrite:    "sync_write",
	InstBulkRead:     "bulk_read",
	InstBulkWrite:    "bulk_write",
}

func (i Instruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("instruction(0x%02X)", byte(i))
}

// DecodeState is the progress of an incremental status decode.
type DecodeState int

// Decode states
const (
	StateEmpty DecodeState = iota
	StateAccumulating
	StateDone
	StateInvalid
)

func (s DecodeState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateDone:
		return "done"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// StatusPacket is a decoded status reply.
type StatusPacket struct {
	ID         byte
	Error      byte
	Parameters []byte
	Raw        []byte
}

// Protocol holds every wire rule of one protocol version. Protocol1 and
// Protocol2 are the only implementations.
type Protocol interface {
	Version() Version

	// AddressWidth is the byte width of address and length parameters.
	AddressWidth() int

	// MaxValueWidth is the widest integer the control table can hold.
	MaxValueWidth() int

	// MaxParams is the most parameter bytes the length field can describe.
	MaxParams() int

	// Supports reports whether the instruction exists in this protocol.
	Supports(inst Instruction) bool

	// Encode frames an instruction packet around params.
	Encode(id byte, inst Instruction, params []byte) []byte

	// AppendAddress appends v as an address or length parameter.
	AppendAddress(dst []byte, v int) []byte

	// Decode inspects a partially received status packet. It returns
	// StateAccumulating while more bytes are needed, StateDone with the
	// packet once the declared length is reached and the checksum matches,
	// and StateInvalid with a *FramingError or *CRCError otherwise.
	Decode(buf []byte) (DecodeState, *StatusPacket, error)

	// CheckStatus turns the error byte of pkt into a *StatusError, ignoring
	// the bits set in tolerate. It returns nil if nothing fatal is set.
	CheckStatus(pkt *StatusPacket, tolerate byte) error

	// Categories names the conditions encoded in a status error byte.
	Categories(code byte) []string

	// SpeedRange is the signed range of speeds, in ticks, a servo accepts
	// in mode given the limits of its speed register.
	SpeedRange(mode OperatingMode, minTicks, maxTicks int) (lo, hi int)

	// EncodeSpeed maps a signed speed in ticks onto the register value for
	// the operating mode. ticks must lie within SpeedRange.
	EncodeSpeed(ticks int, mode OperatingMode, maxTicks int) int64

	// DecodeSpeed is the inverse of EncodeSpeed.
	DecodeSpeed(raw int64, mode OperatingMode, maxTicks int) int
}

// NewProtocol returns the protocol implementation for version.
func NewProtocol(version Version) (Protocol, error) {
	switch version {
	case Protocol1:
		return protocol1{}, nil
	case Protocol2:
		return protocol2{}, nil
	}
	return nil, fmt.Errorf("unknown protocol version %d", int(version))
}

// OperatingMode is the control mode a servo runs in.
type OperatingMode int

// Operating modes
const (
	ModeUnknown OperatingMode = iota
	ModeJoint
	ModeWheel
	ModeMultiTurn
	ModeTorque
)

func (m OperatingMode) String() string {
	switch m {
	case ModeJoint:
		return "joint"
	case ModeWheel:
		return "wheel"
	case ModeMultiTurn:
		return "multi-turn"
	case ModeTorque:
		return "torque"
	}
	return "unknown"
}

// checkHeader compares the received prefix of buf against header.
func checkHeader(buf []byte, header []byte) error {
	for i := 0; i < len(buf) && i < len(header); i++ {
		if buf[i] != header[i] {
			return &FramingError{Packet: bytes.Clone(buf), Reason: fmt.Sprintf("bad header byte %d", i)}
		}
	}
	return nil
}
