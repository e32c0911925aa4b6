package dynamixel

import "fmt"

// Range returns the smallest and largest value the field can hold.
func (f Field) Range() (int64, int64) {
	bits := uint(8 * f.Width)
	if f.Signed {
		return -1 << (bits - 1), 1<<(bits-1) - 1
	}
	return 0, 1<<bits - 1
}

// Encode packs v into the field's width.
func (f Field) Encode(proto Protocol, v int64) ([]byte, error) {
	lo, hi := f.Range()
	if v < lo || v > hi {
		return nil, &LimitError{Quantity: f.Name, Min: float64(lo), Max: float64(hi), Value: float64(v)}
	}
	return EncodeValue(proto, v, f.Width)
}

// Decode unpacks the field from the parameters of a status packet.
func (f Field) Decode(params []byte) (int64, error) {
	if len(params) != f.Width {
		return 0, &UnpackError{Size: len(params), Expected: f.Width}
	}
	return DecodeValue(params, f.Signed)
}

// ReadField builds a read of one field.
func ReadField(proto Protocol, id byte, f Field) (InstructionPacket, error) {
	return Read(proto, id, f.Address, f.Width)
}

// WriteField builds an immediate write of one field.
func WriteField(proto Protocol, id byte, f Field, v int64) (InstructionPacket, error) {
	data, err := encodeWritable(proto, f, v)
	if err != nil {
		return InstructionPacket{}, err
	}
	return Write(proto, id, f.Address, data)
}

// RegWriteField builds a deferred write of one field.
func RegWriteField(proto Protocol, id byte, f Field, v int64) (InstructionPacket, error) {
	data, err := encodeWritable(proto, f, v)
	if err != nil {
		return InstructionPacket{}, err
	}
	return RegWrite(proto, id, f.Address, data)
}

func encodeWritable(proto Protocol, f Field, v int64) ([]byte, error) {
	if f.ReadOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyField, f.Name)
	}
	return f.Encode(proto, v)
}
