package dynamixel

import (
	"bytes"
	"errors"
	"testing"
)

func TestSyncWritePacket(t *testing.T) {
	p := mustProtocol(t, Protocol1)

	pkt, err := SyncWrite(p, 30, []byte{1, 2}, [][]byte{{0x00, 0x02}, {0xFF, 0x01}})
	if err != nil {
		t.Fatalf("SyncWrite failed: %v", err)
	}

	want := []byte{0xFF, 0xFF, 0xFE, 0x0A, 0x83, 0x1E, 0x02, 0x01, 0x00, 0x02, 0x02, 0xFF, 0x01, 0x4F}
	if got := pkt.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet: got % X, want % X", got, want)
	}
	if !pkt.Broadcast() {
		t.Error("sync write must be broadcast")
	}
}

func TestSyncWriteVectorErrors(t *testing.T) {
	p := mustProtocol(t, Protocol1)

	tests := []struct {
		name string
		ids  []byte
		data [][]byte
		want any
	}{
		{"ids longer than data", []byte{1, 2, 3}, [][]byte{{0x00}, {0x01}}, &VectorSizeError{}},
		{"ragged data", []byte{1, 2}, [][]byte{{0x00, 0x01}, {0x01}}, &VectorSizeError{}},
		{"no ids", nil, nil, &VectorEmptyError{}},
		{"empty block", []byte{1}, [][]byte{{}}, &VectorEmptyError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SyncWrite(p, 30, tt.ids, tt.data)
			switch tt.want.(type) {
			case *VectorSizeError:
				var sizeErr *VectorSizeError
				if !errors.As(err, &sizeErr) {
					t.Errorf("got %v, want *VectorSizeError", err)
				}
			case *VectorEmptyError:
				var emptyErr *VectorEmptyError
				if !errors.As(err, &emptyErr) {
					t.Errorf("got %v, want *VectorEmptyError", err)
				}
			}
		})
	}

	_, err := SyncWrite(p, 30, []byte{1, 2, 3}, [][]byte{{0x00}, {0x01}})
	var sizeErr *VectorSizeError
	if errors.As(err, &sizeErr) && (sizeErr.Len != 3 || sizeErr.OtherLen != 2) {
		t.Errorf("sizes: got %d and %d, want 3 and 2", sizeErr.Len, sizeErr.OtherLen)
	}
}

// syncBlocks returns n two-byte blocks for servos 1..n.
func syncBlocks(n int) ([]byte, [][]byte) {
	ids := make([]byte, n)
	data := make([][]byte, n)
	for i := range ids {
		ids[i] = byte(i + 1)
		data[i] = []byte{0x00, 0x02}
	}
	return ids, data
}

func TestProtocol1PacketSizeLimit(t *testing.T) {
	p := mustProtocol(t, Protocol1)

	tests := []struct {
		name    string
		build   func() (InstructionPacket, error)
		wantErr bool
	}{
		{"params at limit", func() (InstructionPacket, error) {
			return NewInstruction(p, 1, InstWrite, make([]byte, 253))
		}, false},
		{"params over limit", func() (InstructionPacket, error) {
			return NewInstruction(p, 1, InstWrite, make([]byte, 254))
		}, true},
		// One address byte plus the data.
		{"write at limit", func() (InstructionPacket, error) {
			return Write(p, 1, 0, make([]byte, 252))
		}, false},
		{"write over limit", func() (InstructionPacket, error) {
			return Write(p, 1, 0, make([]byte, 253))
		}, true},
		// Address and width, then three bytes per servo: 2+3*83 = 251.
		{"sync write at limit", func() (InstructionPacket, error) {
			ids, data := syncBlocks(83)
			return SyncWrite(p, 30, ids, data)
		}, false},
		{"sync write over limit", func() (InstructionPacket, error) {
			ids, data := syncBlocks(84)
			return SyncWrite(p, 30, ids, data)
		}, true},
		{"sync write of 100 servos", func() (InstructionPacket, error) {
			ids, data := syncBlocks(100)
			return SyncWrite(p, 30, ids, data)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := tt.build()
			if tt.wantErr {
				var sizeErr *PacketSizeError
				if !errors.As(err, &sizeErr) {
					t.Fatalf("got %v, want *PacketSizeError", err)
				}
				if sizeErr.Max != 253 || sizeErr.Protocol != Protocol1 {
					t.Errorf("limit: got %d under %s", sizeErr.Max, sizeErr.Protocol)
				}
				if pkt.Len() != 0 {
					t.Errorf("built % X despite the error", pkt.Bytes())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			wire := pkt.Bytes()
			if got, want := int(wire[3]), len(wire)-4; got != want {
				t.Errorf("length field %d, want %d remaining bytes", got, want)
			}
		})
	}
}

func TestProtocol2PacketSizeLimit(t *testing.T) {
	p := mustProtocol(t, Protocol2)

	if _, err := NewInstruction(p, 1, InstWrite, make([]byte, 65532)); err != nil {
		t.Errorf("params at limit: %v", err)
	}
	var sizeErr *PacketSizeError
	if _, err := NewInstruction(p, 1, InstWrite, make([]byte, 65533)); !errors.As(err, &sizeErr) {
		t.Errorf("params over limit: got %v, want *PacketSizeError", err)
	}
}

func TestProtocol2OnlyInstructions(t *testing.T) {
	p1 := mustProtocol(t, Protocol1)

	if _, err := Reboot(p1, 1); !errors.Is(err, ErrUnsupportedInstruction) {
		t.Errorf("Reboot: got %v", err)
	}
	if _, err := SyncRead(p1, 36, 2, []byte{1, 2}); !errors.Is(err, ErrUnsupportedInstruction) {
		t.Errorf("SyncRead: got %v", err)
	}
	if _, err := BulkRead(p1, []byte{1}, []int{36}, []int{2}); !errors.Is(err, ErrUnsupportedInstruction) {
		t.Errorf("BulkRead: got %v", err)
	}
	if _, err := BulkWrite(p1, []byte{1}, []int{30}, [][]byte{{0, 2}}); !errors.Is(err, ErrUnsupportedInstruction) {
		t.Errorf("BulkWrite: got %v", err)
	}
}

func TestSyncReadPacket(t *testing.T) {
	p := mustProtocol(t, Protocol2)

	pkt, err := SyncRead(p, 132, 4, []byte{1, 2})
	if err != nil {
		t.Fatalf("SyncRead failed: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFD, 0x00, 0xFE, 0x09, 0x00, 0x82, 0x84, 0x00, 0x04, 0x00, 0x01, 0x02, 0xCE, 0xFA}
	if got := pkt.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet: got % X, want % X", got, want)
	}
}

func TestBulkReadPacket(t *testing.T) {
	p := mustProtocol(t, Protocol2)

	pkt, err := BulkRead(p, []byte{1, 2}, []int{132, 37}, []int{4, 2})
	if err != nil {
		t.Fatalf("BulkRead failed: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFD, 0x00, 0xFE, 0x0D, 0x00, 0x92,
		0x01, 0x84, 0x00, 0x04, 0x00,
		0x02, 0x25, 0x00, 0x02, 0x00,
		0xCC, 0xDA}
	if got := pkt.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet: got % X, want % X", got, want)
	}

	if _, err := BulkRead(p, []byte{1, 2}, []int{132}, []int{4, 2}); err == nil {
		t.Error("mismatched addresses should fail")
	}
}

func TestBulkWriteLayout(t *testing.T) {
	p := mustProtocol(t, Protocol2)

	pkt, err := BulkWrite(p, []byte{1, 2}, []int{116, 30}, [][]byte{{0x00, 0x08, 0x00, 0x00}, {0x00, 0x02}})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	wire := pkt.Bytes()
	params := wire[8 : len(wire)-2]
	want := []byte{
		0x01, 0x74, 0x00, 0x04, 0x00, 0x00, 0x08, 0x00, 0x00,
		0x02, 0x1E, 0x00, 0x02, 0x00, 0x00, 0x02,
	}
	if !bytes.Equal(params, want) {
		t.Errorf("params: got % X, want % X", params, want)
	}
}

func TestInstructionValidation(t *testing.T) {
	p1 := mustProtocol(t, Protocol1)

	if _, err := Read(p1, 1, 256, 2); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("address 256 under protocol1: got %v", err)
	}
	if _, err := Read(mustProtocol(t, Protocol2), 1, 256, 2); err != nil {
		t.Errorf("address 256 under protocol2: %v", err)
	}
	if _, err := Write(p1, 1, 30, nil); err == nil {
		t.Error("empty write should fail")
	}
	if _, err := SyncWrite(p1, 30, []byte{0xFE}, [][]byte{{0}}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("broadcast id in sync write: got %v", err)
	}
}

func TestFieldBuilders(t *testing.T) {
	p := mustProtocol(t, Protocol1)
	goal := Field{Name: "goal_position", Address: 30, Width: 2}
	present := Field{Name: "present_position", Address: 36, Width: 2, ReadOnly: true}

	pkt, err := WriteField(p, 1, goal, 512)
	if err != nil {
		t.Fatalf("WriteField failed: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0x01, 0x05, 0x03, 0x1E, 0x00, 0x02, 0xD6}
	if got := pkt.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet: got % X, want % X", got, want)
	}

	if _, err := WriteField(p, 1, present, 1); !errors.Is(err, ErrReadOnlyField) {
		t.Errorf("read-only field: got %v", err)
	}

	var limitErr *LimitError
	if _, err := WriteField(p, 1, goal, 70000); !errors.As(err, &limitErr) {
		t.Errorf("out of range: got %v", err)
	}

	signed := Field{Name: "goal_pwm", Address: 100, Width: 2, Signed: true}
	if lo, hi := signed.Range(); lo != -32768 || hi != 32767 {
		t.Errorf("signed range: got [%d, %d]", lo, hi)
	}
	v, err := signed.Decode([]byte{0x9C, 0xFF})
	if err != nil || v != -100 {
		t.Errorf("Decode: got (%d, %v), want -100", v, err)
	}
}
