package dynamixel

import (
	"bytes"
	"fmt"
)

// InstructionPacket is a framed, ready to send instruction. It is never
// modified after it is built.
type InstructionPacket struct {
	ID          byte
	Instruction Instruction
	wire        []byte
}

// Bytes returns a copy of the packet's wire bytes.
func (p InstructionPacket) Bytes() []byte {
	return bytes.Clone(p.wire)
}

// Len returns the packet size in bytes.
func (p InstructionPacket) Len() int {
	return len(p.wire)
}

// Broadcast reports whether the packet is addressed to every servo.
func (p InstructionPacket) Broadcast() bool {
	return p.ID == BroadcastID
}

func (p InstructionPacket) String() string {
	return fmt.Sprintf("%s(id=%d) % X", p.Instruction, p.ID, p.wire)
}

// NewInstruction frames an arbitrary instruction.
func NewInstruction(proto Protocol, id byte, inst Instruction, params []byte) (InstructionPacket, error) {
	if !proto.Supports(inst) {
		return InstructionPacket{}, fmt.Errorf("%w: %s under %s", ErrUnsupportedInstruction, inst, proto.Version())
	}
	if len(params) > proto.MaxParams() {
		return InstructionPacket{}, &PacketSizeError{
			Instruction: inst,
			Protocol:    proto.Version(),
			Size:        len(params),
			Max:         proto.MaxParams(),
		}
	}
	return InstructionPacket{
		ID:          id,
		Instruction: inst,
		wire:        proto.Encode(id, inst, params),
	}, nil
}

// Ping builds a ping instruction.
func Ping(proto Protocol, id byte) InstructionPacket {
	pkt, _ := NewInstruction(proto, id, InstPing, nil)
	return pkt
}

// Read builds a read of length bytes starting at address.
func Read(proto Protocol, id byte, address, length int) (InstructionPacket, error) {
	if err := checkAddress(proto, "read", "address", address); err != nil {
		return InstructionPacket{}, err
	}
	if err := checkAddress(proto, "read", "length", length); err != nil {
		return InstructionPacket{}, err
	}
	params := proto.AppendAddress(nil, address)
	params = proto.AppendAddress(params, length)
	return NewInstruction(proto, id, InstRead, params)
}

// Write builds an immediate write of data at address.
func Write(proto Protocol, id byte, address int, data []byte) (InstructionPacket, error) {
	return writeInstruction(proto, InstWrite, id, address, data)
}

// RegWrite builds a deferred write, applied by a later Action.
func RegWrite(proto Protocol, id byte, address int, data []byte) (InstructionPacket, error) {
	return writeInstruction(proto, InstRegWrite, id, address, data)
}

func writeInstruction(proto Protocol, inst Instruction, id byte, address int, data []byte) (InstructionPacket, error) {
	if len(data) == 0 {
		return InstructionPacket{}, &VectorEmptyError{Op: inst.String(), Name: "data"}
	}
	if err := checkAddress(proto, inst.String(), "address", address); err != nil {
		return InstructionPacket{}, err
	}
	params := proto.AppendAddress(nil, address)
	params = append(params, data...)
	return NewInstruction(proto, id, inst, params)
}

// Action builds the trigger for writes staged with RegWrite. It is usually
// sent to BroadcastID.
func Action(proto Protocol, id byte) InstructionPacket {
	pkt, _ := NewInstruction(proto, id, InstAction, nil)
	return pkt
}

// FactoryReset builds a factory reset instruction.
func FactoryReset(proto Protocol, id byte) InstructionPacket {
	pkt, _ := NewInstruction(proto, id, InstFactoryReset, nil)
	return pkt
}

// Reboot builds a reboot instruction (Protocol2 only).
func Reboot(proto Protocol, id byte) (InstructionPacket, error) {
	return NewInstruction(proto, id, InstReboot, nil)
}

// SyncWrite builds a broadcast write of one block per servo at a shared
// address. Every block must have the same length.
func SyncWrite(proto Protocol, address int, ids []byte, data [][]byte) (InstructionPacket, error) {
	const op = "sync_write"
	if err := checkIDs(op, ids); err != nil {
		return InstructionPacket{}, err
	}
	if len(data) != len(ids) {
		return InstructionPacket{}, &VectorSizeError{Op: op, Name: "ids", Other: "data", Len: len(ids), OtherLen: len(data)}
	}
	width := len(data[0])
	if width == 0 {
		return InstructionPacket{}, &VectorEmptyError{Op: op, Name: "data"}
	}
	for i, d := range data {
		if len(d) != width {
			return InstructionPacket{}, &VectorSizeError{
				Op: op, Name: fmt.Sprintf("data[%d]", i), Other: "data[0]", Len: len(d), OtherLen: width,
			}
		}
	}
	if err := checkAddress(proto, op, "address", address); err != nil {
		return InstructionPacket{}, err
	}
	if err := checkAddress(proto, op, "length", width); err != nil {
		return InstructionPacket{}, err
	}

	params := proto.AppendAddress(nil, address)
	params = proto.AppendAddress(params, width)
	for i, id := range ids {
		params = append(params, id)
		params = append(params, data[i]...)
	}
	return NewInstruction(proto, BroadcastID, InstSyncWrite, params)
}

// SyncRead builds a broadcast read of the same block from several servos
// (Protocol2 only). Each servo replies in id order.
func SyncRead(proto Protocol, address, length int, ids []byte) (InstructionPacket, error) {
	const op = "sync_read"
	if !proto.Supports(InstSyncRead) {
		return InstructionPacket{}, fmt.Errorf("%w: %s under %s", ErrUnsupportedInstruction, InstSyncRead, proto.Version())
	}
	if err := checkIDs(op, ids); err != nil {
		return InstructionPacket{}, err
	}
	if err := checkAddress(proto, op, "address", address); err != nil {
		return InstructionPacket{}, err
	}
	if err := checkAddress(proto, op, "length", length); err != nil {
		return InstructionPacket{}, err
	}

	params := proto.AppendAddress(nil, address)
	params = proto.AppendAddress(params, length)
	params = append(params, ids...)
	return NewInstruction(proto, BroadcastID, InstSyncRead, params)
}

// BulkRead builds a broadcast read of a different block from each servo
// (Protocol2 only).
func BulkRead(proto Protocol, ids []byte, addresses, lengths []int) (InstructionPacket, error) {
	const op = "bulk_read"
	if !proto.Supports(InstBulkRead) {
		return InstructionPacket{}, fmt.Errorf("%w: %s under %s", ErrUnsupportedInstruction, InstBulkRead, proto.Version())
	}
	if err := checkIDs(op, ids); err != nil {
		return InstructionPacket{}, err
	}
	if len(addresses) != len(ids) {
		return InstructionPacket{}, &VectorSizeError{Op: op, Name: "ids", Other: "addresses", Len: len(ids), OtherLen: len(addresses)}
	}
	if len(lengths) != len(ids) {
		return InstructionPacket{}, &VectorSizeError{Op: op, Name: "ids", Other: "lengths", Len: len(ids), OtherLen: len(lengths)}
	}

	var params []byte
	for i, id := range ids {
		if err := checkAddress(proto, op, "address", addresses[i]); err != nil {
			return InstructionPacket{}, err
		}
		if err := checkAddress(proto, op, "length", lengths[i]); err != nil {
			return InstructionPacket{}, err
		}
		params = append(params, id)
		params = proto.AppendAddress(params, addresses[i])
		params = proto.AppendAddress(params, lengths[i])
	}
	return NewInstruction(proto, BroadcastID, InstBulkRead, params)
}

// BulkWrite builds a broadcast write of a different block to each servo
// (Protocol2 only).
func BulkWrite(proto Protocol, ids []byte, addresses []int, data [][]byte) (InstructionPacket, error) {
	const op = "bulk_write"
	if !proto.Supports(InstBulkWrite) {
		return InstructionPacket{}, fmt.Errorf("%w: %s under %s", ErrUnsupportedInstruction, InstBulkWrite, proto.Version())
	}
	if err := checkIDs(op, ids); err != nil {
		return InstructionPacket{}, err
	}
	if len(addresses) != len(ids) {
		return InstructionPacket{}, &VectorSizeError{Op: op, Name: "ids", Other: "addresses", Len: len(ids), OtherLen: len(addresses)}
	}
	if len(data) != len(ids) {
		return InstructionPacket{}, &VectorSizeError{Op: op, Name: "ids", Other: "data", Len: len(ids), OtherLen: len(data)}
	}

	var params []byte
	for i, id := range ids {
		if len(data[i]) == 0 {
			return InstructionPacket{}, &VectorEmptyError{Op: op, Name: fmt.Sprintf("data[%d]", i)}
		}
		if err := checkAddress(proto, op, "address", addresses[i]); err != nil {
			return InstructionPacket{}, err
		}
		if err := checkAddress(proto, op, "length", len(data[i])); err != nil {
			return InstructionPacket{}, err
		}
		params = append(params, id)
		params = proto.AppendAddress(params, addresses[i])
		params = proto.AppendAddress(params, len(data[i]))
		params = append(params, data[i]...)
	}
	return NewInstruction(proto, BroadcastID, InstBulkWrite, params)
}

func checkIDs(op string, ids []byte) error {
	if len(ids) == 0 {
		return &VectorEmptyError{Op: op, Name: "ids"}
	}
	for _, id := range ids {
		if id > MaxServoID {
			return fmt.Errorf("%s: %w: %d", op, ErrInvalidID, id)
		}
	}
	return nil
}

func checkAddress(proto Protocol, op, name string, v int) error {
	limit := 1 << (8 * proto.AddressWidth())
	if v < 0 || v >= limit {
		return fmt.Errorf("%s: %w: %s %d not in [0, %d)", op, ErrInvalidAddress, name, v, limit)
	}
	return nil
}
