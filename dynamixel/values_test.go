package dynamixel

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

var ax12 = Calibration{MinTick: 0, MaxTick: 1023, MinDeg: 30, MaxDeg: 330, RPMPerTick: 0.111, MinSpeed: 0, MaxSpeed: 1023, TorqueMax: 1023}

var mx28 = Calibration{MinTick: 0, MaxTick: 4095, MinDeg: 0, MaxDeg: 360, RPMPerTick: 0.114, MinSpeed: 0, MaxSpeed: 1023, TorqueMax: 1023}

func TestPack(t *testing.T) {
	p1 := mustProtocol(t, Protocol1)
	p2 := mustProtocol(t, Protocol2)

	got, err := Pack(p1, uint16(0x1234))
	if err != nil {
		t.Fatalf("Pack uint16 failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x34, 0x12}) {
		t.Errorf("uint16: got % X, want 34 12", got)
	}

	got, err = Pack(p2, int32(-2))
	if err != nil {
		t.Fatalf("Pack int32 failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xFE, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("int32: got % X, want FE FF FF FF", got)
	}

	if _, err := Pack(p1, uint32(1)); !errors.Is(err, ErrUnsupportedWidth) {
		t.Errorf("uint32 under protocol1: got %v, want ErrUnsupportedWidth", err)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	p2 := mustProtocol(t, Protocol2)

	for _, v := range []uint8{0, 1, 0x7F, 0xFF} {
		data, _ := Pack(p2, v)
		if got, err := Unpack[uint8](data); err != nil || got != v {
			t.Errorf("uint8 %d: got (%d, %v)", v, got, err)
		}
	}
	for _, v := range []uint16{0, 512, 0xFFFF} {
		data, _ := Pack(p2, v)
		if got, err := Unpack[uint16](data); err != nil || got != v {
			t.Errorf("uint16 %d: got (%d, %v)", v, got, err)
		}
	}
	for _, v := range []uint32{0, 1 << 20, math.MaxUint32} {
		data, _ := Pack(p2, v)
		if got, err := Unpack[uint32](data); err != nil || got != v {
			t.Errorf("uint32 %d: got (%d, %v)", v, got, err)
		}
	}
	for _, v := range []int32{math.MinInt32, -1, 0, 2048, math.MaxInt32} {
		data, _ := Pack(p2, v)
		if got, err := Unpack[int32](data); err != nil || got != v {
			t.Errorf("int32 %d: got (%d, %v)", v, got, err)
		}
	}
}

func TestUnpackSizeMismatch(t *testing.T) {
	_, err := Unpack[uint16]([]byte{0x01, 0x02, 0x03})

	var unpackErr *UnpackError
	if !errors.As(err, &unpackErr) {
		t.Fatalf("got %v, want *UnpackError", err)
	}
	if unpackErr.Size != 3 || unpackErr.Expected != 2 {
		t.Errorf("got size=%d expected=%d", unpackErr.Size, unpackErr.Expected)
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	p2 := mustProtocol(t, Protocol2)

	tests := []struct {
		v      int64
		width  int
		signed bool
		want   []byte
	}{
		{200, 1, false, []byte{0xC8}},
		{-1, 1, true, []byte{0xFF}},
		{2048, 2, false, []byte{0x00, 0x08}},
		{-100, 2, true, []byte{0x9C, 0xFF}},
		{-2, 4, true, []byte{0xFE, 0xFF, 0xFF, 0xFF}},
		{1 << 31, 4, false, []byte{0x00, 0x00, 0x00, 0x80}},
	}

	for _, tt := range tests {
		got, err := EncodeValue(p2, tt.v, tt.width)
		if err != nil {
			t.Fatalf("EncodeValue(%d, %d) failed: %v", tt.v, tt.width, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeValue(%d, %d): got % X, want % X", tt.v, tt.width, got, tt.want)
		}
		back, err := DecodeValue(got, tt.signed)
		if err != nil || back != tt.v {
			t.Errorf("DecodeValue(% X): got (%d, %v), want %d", got, back, err, tt.v)
		}
	}

	if _, err := EncodeValue(mustProtocol(t, Protocol1), 1, 4); !errors.Is(err, ErrUnsupportedWidth) {
		t.Errorf("4 bytes under protocol1: got %v", err)
	}
	if _, err := DecodeValue([]byte{1, 2, 3}, false); !errors.Is(err, ErrUnsupportedWidth) {
		t.Errorf("3 bytes: got %v", err)
	}
}

func TestRadiansTicksRoundTrip(t *testing.T) {
	for _, c := range []Calibration{ax12, mx28} {
		for ticks := c.MinTick; ticks <= c.MaxTick; ticks++ {
			rad := c.TicksToRadians(ticks)
			back, err := c.RadiansToTicks(rad)
			if err != nil {
				t.Fatalf("ticks %d: %v", ticks, err)
			}
			if back != ticks {
				t.Fatalf("ticks %d: round trip gave %d", ticks, back)
			}
		}
	}
}

func TestRadiansToTicks(t *testing.T) {
	tests := []struct {
		name string
		c    Calibration
		rad  float64
		want int
	}{
		{"ax12 center", ax12, math.Pi, 512},
		{"ax12 min", ax12, 30 * math.Pi / 180, 0},
		{"ax12 max", ax12, 330 * math.Pi / 180, 1023},
		{"mx28 zero", mx28, 0, 0},
		{"mx28 center", mx28, math.Pi, 2048},
		{"mx28 full turn", mx28, 2 * math.Pi, 4095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.RadiansToTicks(tt.rad)
			if err != nil {
				t.Fatalf("RadiansToTicks failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRadiansToTicksLimit(t *testing.T) {
	_, err := ax12.RadiansToTicks(0.1)

	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("got %v, want *LimitError", err)
	}
	if math.Abs(limitErr.Min-30*math.Pi/180) > 1e-12 || math.Abs(limitErr.Max-330*math.Pi/180) > 1e-12 {
		t.Errorf("range: got [%g, %g]", limitErr.Min, limitErr.Max)
	}
	if limitErr.Value != 0.1 {
		t.Errorf("value: got %g, want 0.1", limitErr.Value)
	}
}

func TestEncodeSpeedProtocol1(t *testing.T) {
	p1 := mustProtocol(t, Protocol1)
	tick := ax12.TicksToSpeed(1)

	tests := []struct {
		name string
		rad  float64
		mode OperatingMode
		want int64
	}{
		{"joint", 100 * tick, ModeJoint, 100},
		{"wheel forward", 100 * tick, ModeWheel, 100},
		{"wheel reverse", -100 * tick, ModeWheel, 1124},
		{"wheel full reverse", -1023 * tick, ModeWheel, 2047},
		{"stopped", 0, ModeWheel, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ax12.EncodeSpeed(p1, tt.rad, tt.mode)
			if err != nil {
				t.Fatalf("EncodeSpeed failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
			back := ax12.DecodeSpeed(p1, got, tt.mode)
			if math.Abs(back-tt.rad) > 1e-9 {
				t.Errorf("decode: got %g, want %g", back, tt.rad)
			}
		})
	}

	if _, err := ax12.EncodeSpeed(p1, -tick*10, ModeJoint); err == nil {
		t.Error("negative speed in joint mode should fail")
	}
	if _, err := ax12.EncodeSpeed(p1, tick*2000, ModeWheel); err == nil {
		t.Error("speed above max should fail")
	}
}

func TestEncodeSpeedProtocol2(t *testing.T) {
	p2 := mustProtocol(t, Protocol2)
	xl430 := Calibration{MinTick: 0, MaxTick: 4095, MinDeg: 0, MaxDeg: 360, RPMPerTick: 0.229, MinSpeed: -1023, MaxSpeed: 1023}
	tick := xl430.TicksToSpeed(1)

	got, err := xl430.EncodeSpeed(p2, -50*tick, ModeWheel)
	if err != nil {
		t.Fatalf("EncodeSpeed failed: %v", err)
	}
	if got != -50 {
		t.Errorf("got %d, want -50", got)
	}

	// Registers are read back unsigned; the sign is in bit 31
	if back := xl430.DecodeSpeed(p2, 0xFFFFFFCE, ModeWheel); math.Abs(back+50*tick) > 1e-9 {
		t.Errorf("decode: got %g, want %g", back, -50*tick)
	}

	_, err = xl430.EncodeSpeed(p2, 2000*tick, ModeJoint)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || limitErr.Quantity != "speed (rad/s)" {
		t.Errorf("got %v, want speed *LimitError", err)
	}
}

func TestTorque(t *testing.T) {
	tests := []struct {
		ratio float64
		want  int
	}{
		{0, 0},
		{0.5, 512},
		{1, 1023},
	}
	for _, tt := range tests {
		got, err := ax12.TorqueToTicks(tt.ratio)
		if err != nil || got != tt.want {
			t.Errorf("TorqueToTicks(%g): got (%d, %v), want %d", tt.ratio, got, err, tt.want)
		}
	}

	if _, err := ax12.TorqueToTicks(1.5); err == nil {
		t.Error("ratio above 1 should fail")
	}
	if got := ax12.TicksToTorque(1023); got != 1 {
		t.Errorf("TicksToTorque(1023): got %g, want 1", got)
	}
	if got := (Calibration{}).TicksToTorque(10); got != 0 {
		t.Errorf("TicksToTorque without max: got %g, want 0", got)
	}
}
