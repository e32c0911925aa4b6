package dynamixel

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout                = errors.New("communication timeout")
	ErrNoResponse             = errors.New("no response from servo")
	ErrBusClosed              = errors.New("bus is closed")
	ErrInvalidID              = errors.New("invalid servo ID")
	ErrInvalidAddress         = errors.New("address out of range")
	ErrPacketTooShort         = errors.New("packet too short")
	ErrUnsupportedWidth       = errors.New("unsupported value width for protocol")
	ErrUnsupportedInstruction = errors.New("instruction not supported by protocol")
	ErrUnknownModel           = errors.New("unknown model")
	ErrUnknownField           = errors.New("unknown field")
	ErrReadOnlyField          = errors.New("field is read-only")
	ErrUnexpectedReply        = errors.New("reply from unexpected servo")
)

// CommError represents a transport-level failure.
type CommError struct {
	Op  string // Operation that failed (e.g., "send", "recv")
	Err error  // Underlying error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// FramingError reports a malformed status packet: a bad header, an
// impossible length field or a packet that is not a status reply.
type FramingError struct {
	Packet []byte
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bad packet (%s): % X", e.Reason, e.Packet)
}

// CRCError reports a status packet whose checksum (Protocol1) or CRC
// (Protocol2) does not match its contents.
type CRCError struct {
	ID       byte
	Protocol Version
	Expected uint16
	Received uint16
}

func (e *CRCError) Error() string {
	if e.Protocol == Protocol1 {
		return fmt.Sprintf("status from servo %d: checksum mismatch: computed %02X, received %02X",
			e.ID, e.Expected, e.Received)
	}
	return fmt.Sprintf("status from servo %d: CRC mismatch: computed %04X, received %04X",
		e.ID, e.Expected, e.Received)
}

// StatusError is a device-reported error carried in the error byte of an
// otherwise well-formed status packet.
type StatusError struct {
	ID         byte
	Protocol   Version
	Code       byte
	Categories []string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("servo %d reported error 0x%02X (protocol %d): %s",
		e.ID, e.Code, e.Protocol, strings.Join(e.Categories, ", "))
}

// UnpackError is returned when a byte slice does not have the width of the
// integer it is decoded into.
type UnpackError struct {
	Size     int
	Expected int
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("unpack length mismatch: got %d bytes, want %d", e.Size, e.Expected)
}

// LimitError is returned when a requested angle, speed or torque is outside
// the physical range of the servo. Nothing is sent when it occurs.
type LimitError struct {
	ID       int
	Quantity string
	Min      float64
	Max      float64
	Value    float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("servo %d: %s %g out of range [%g, %g]", e.ID, e.Quantity, e.Value, e.Min, e.Max)
}

// PacketSizeError is returned by a builder whose parameters do not fit the
// length field of the protocol.
type PacketSizeError struct {
	Instruction Instruction
	Protocol    Version
	Size        int
	Max         int
}

func (e *PacketSizeError) Error() string {
	return fmt.Sprintf("%s: %d parameter bytes exceed the %s limit of %d", e.Instruction, e.Size, e.Protocol, e.Max)
}

// VectorEmptyError is returned by a builder given an empty id or data vector.
type VectorEmptyError struct {
	Op   string
	Name string
}

func (e *VectorEmptyError) Error() string {
	return fmt.Sprintf("%s: %s must not be empty", e.Op, e.Name)
}

// VectorSizeError is returned by a builder whose parallel vectors disagree
// in length.
type VectorSizeError struct {
	Op       string
	Name     string
	Other    string
	Len      int
	OtherLen int
}

func (e *VectorSizeError) Error() string {
	return fmt.Sprintf("%s: %s has %d entries, %s has %d", e.Op, e.Name, e.Len, e.Other, e.OtherLen)
}

// ServoError represents a failed operation on a specific servo.
type ServoError struct {
	ID  int    // Servo ID
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *ServoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("servo %d %s failed: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("servo %d %s failed", e.ID, e.Op)
}

func (e *ServoError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNoResponse returns true if the error indicates no response was received.
func IsNoResponse(err error) bool {
	return errors.Is(err, ErrNoResponse)
}

// GetServoError extracts a ServoError from an error chain, if present.
func GetServoError(err error) (*ServoError, bool) {
	var servoErr *ServoError
	if errors.As(err, &servoErr) {
		return servoErr, true
	}
	return nil, false
}

// GetStatusError extracts a device-reported error from an error chain.
func GetStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}
