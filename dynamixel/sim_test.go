package dynamixel

import (
	"encoding/binary"
	"testing"

	"github.com/hipsterbrown/dynamixel/transports"
)

// simServo is an in-memory control table answering like a real servo.
type simServo struct {
	model  *Model
	mem    [1024]byte
	staged []stagedWrite
}

type stagedWrite struct {
	address int
	data    []byte
}

// simBus answers instruction packets for a set of simulated servos.
type simBus struct {
	t      *testing.T
	proto  Protocol
	servos map[byte]*simServo
}

func newSimBus(t *testing.T, version Version) *simBus {
	return &simBus{
		t:      t,
		proto:  mustProtocol(t, version),
		servos: make(map[byte]*simServo),
	}
}

// add places a servo of the named model on the bus.
func (s *simBus) add(id byte, modelName string) *simServo {
	s.t.Helper()
	m, err := DefaultRegistry().ByName(modelName)
	if err != nil {
		s.t.Fatalf("unknown model %s: %v", modelName, err)
	}
	servo := &simServo{model: m}
	s.servos[id] = servo
	servo.set(s.t, "model_number", int64(m.Number))
	servo.set(s.t, "id", int64(id))
	return servo
}

func (sv *simServo) set(t *testing.T, name string, v int64) {
	t.Helper()
	f, err := sv.model.Field(name)
	if err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
	p2, _ := NewProtocol(Protocol2)
	data, err := EncodeValue(p2, v, f.Width)
	if err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
	copy(sv.mem[f.Address:], data)
}

func (sv *simServo) get(t *testing.T, name string) int64 {
	t.Helper()
	f, err := sv.model.Field(name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	v, _ := DecodeValue(sv.mem[f.Address:f.Address+f.Width], f.Signed)
	return v
}

// transport returns a mock whose replies come from the simulated servos.
func (s *simBus) transport() *transports.MockTransport {
	return &transports.MockTransport{Respond: s.respond}
}

func (s *simBus) status(id byte, params ...byte) []byte {
	if s.proto.Version() == Protocol1 {
		return status1(id, 0, params...)
	}
	return status2(id, 0, params...)
}

func (s *simBus) addr(b []byte) (int, []byte) {
	if s.proto.AddressWidth() == 1 {
		return int(b[0]), b[1:]
	}
	return int(binary.LittleEndian.Uint16(b)), b[2:]
}

func (s *simBus) respond(packet []byte) []byte {
	var id byte
	var inst Instruction
	var params []byte
	if s.proto.Version() == Protocol1 {
		id, inst, params = packet[2], Instruction(packet[4]), packet[5:len(packet)-1]
	} else {
		id, inst, params = packet[4], Instruction(packet[7]), packet[8:len(packet)-2]
	}

	switch inst {
	case InstSyncWrite:
		address, rest := s.addr(params)
		width, rest := s.addr(rest)
		for len(rest) > 0 {
			if sv, ok := s.servos[rest[0]]; ok {
				copy(sv.mem[address:], rest[1:1+width])
			}
			rest = rest[1+width:]
		}
		return nil

	case InstSyncRead:
		address, rest := s.addr(params)
		length, ids := s.addr(rest)
		var out []byte
		for _, target := range ids {
			if sv, ok := s.servos[target]; ok {
				out = append(out, s.status(target, sv.mem[address:address+length]...)...)
			}
		}
		return out

	case InstBulkRead:
		var out []byte
		for rest := params; len(rest) > 0; {
			target := rest[0]
			var address, length int
			address, rest = s.addr(rest[1:])
			length, rest = s.addr(rest)
			if sv, ok := s.servos[target]; ok {
				out = append(out, s.status(target, sv.mem[address:address+length]...)...)
			}
		}
		return out

	case InstBulkWrite:
		for rest := params; len(rest) > 0; {
			target := rest[0]
			var address, length int
			address, rest = s.addr(rest[1:])
			length, rest = s.addr(rest)
			if sv, ok := s.servos[target]; ok {
				copy(sv.mem[address:], rest[:length])
			}
			rest = rest[length:]
		}
		return nil

	case InstAction:
		for target, sv := range s.servos {
			if id == BroadcastID || id == target {
				for _, w := range sv.staged {
					copy(sv.mem[w.address:], w.data)
				}
				sv.staged = nil
			}
		}
		if id == BroadcastID {
			return nil
		}
	}

	sv, ok := s.servos[id]
	if !ok {
		return nil
	}

	switch inst {
	case InstPing:
		if s.proto.Version() == Protocol2 {
			return s.status(id, byte(sv.model.Number), byte(sv.model.Number>>8), 0x26)
		}
		return s.status(id)
	case InstRead:
		address, rest := s.addr(params)
		length, _ := s.addr(rest)
		return s.status(id, sv.mem[address:address+length]...)
	case InstWrite:
		address, data := s.addr(params)
		copy(sv.mem[address:], data)
	case InstRegWrite:
		address, data := s.addr(params)
		sv.staged = append(sv.staged, stagedWrite{address: address, data: append([]byte(nil), data...)})
	}
	return s.status(id)
}
