package dynamixel

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func newSimServo(t *testing.T, version Version, id byte, modelName string) (*simBus, *simServo, *Servo) {
	t.Helper()
	sim := newSimBus(t, version)
	sv := sim.add(id, modelName)
	mock := sim.transport()
	bus := newTestBus(t, mock, BusConfig{Protocol: version})
	return sim, sv, NewServo(bus, int(id), sv.model)
}

func TestServo_DetectModel(t *testing.T) {
	for _, tc := range []struct {
		version Version
		model   string
	}{
		{Protocol1, "AX-12A"},
		{Protocol1, "MX-64"},
		{Protocol2, "XL430-W250"},
		{Protocol2, "XL-320"},
	} {
		_, _, s := newSimServo(t, tc.version, 4, tc.model)
		detected := NewServo(s.bus, 4, nil)
		if err := detected.DetectModel(context.Background()); err != nil {
			t.Fatalf("%s: DetectModel failed: %v", tc.model, err)
		}
		if detected.Model().Name != tc.model {
			t.Errorf("detected %s, want %s", detected.Model().Name, tc.model)
		}
	}
}

func TestServo_DetectModelProtocolMismatch(t *testing.T) {
	sim := newSimBus(t, Protocol1)
	sv := sim.add(1, "AX-12A")
	sv.set(t, "model_number", 1060) // an XL430 speaks protocol 2
	bus := newTestBus(t, sim.transport(), BusConfig{})

	s := NewServo(bus, 1, nil)
	if err := s.DetectModel(context.Background()); err == nil {
		t.Error("expected protocol mismatch error")
	}
	if s.Model() != nil {
		t.Error("model set despite mismatch")
	}
}

func TestServo_WithoutModel(t *testing.T) {
	bus := newTestBus(t, newSimBus(t, Protocol1).transport(), BusConfig{})
	s := NewServo(bus, 1, nil)

	if _, err := s.Position(context.Background()); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Position: got %v, want ErrUnknownModel", err)
	}
	if err := s.SetPosition(context.Background(), 1); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("SetPosition: got %v, want ErrUnknownModel", err)
	}
}

func TestServo_Position(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol1, 1, "MX-28")
	sv.set(t, "present_position", 2048)

	pos, err := s.Position(context.Background())
	if err != nil {
		t.Fatalf("Position failed: %v", err)
	}
	if want := s.Model().Calibration.TicksToRadians(2048); pos != want {
		t.Errorf("position: got %g, want %g", pos, want)
	}
	if math.Abs(pos-math.Pi) > 0.001 {
		t.Errorf("position: got %g, want about pi", pos)
	}
}

func TestServo_PositionProtocol2Signed(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol2, 1, "XL430-W250")
	sv.set(t, "present_position", -1)

	v, err := s.ReadField(context.Background(), "present_position")
	if err != nil {
		t.Fatalf("ReadField failed: %v", err)
	}
	if v != -1 {
		t.Errorf("present_position: got %d, want -1", v)
	}
}

func TestServo_SetPosition(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol1, 1, "AX-12A")

	if err := s.SetPosition(context.Background(), math.Pi); err != nil {
		t.Fatalf("SetPosition failed: %v", err)
	}
	if got := sv.get(t, "goal_position"); got != 512 {
		t.Errorf("goal_position: got %d, want 512", got)
	}
}

func TestServo_SetPositionOutOfRange(t *testing.T) {
	sim := newSimBus(t, Protocol1)
	sv := sim.add(7, "AX-12A")
	mock := sim.transport()
	bus := newTestBus(t, mock, BusConfig{})
	s := NewServo(bus, 7, sv.model)

	err := s.SetPosition(context.Background(), 0.1)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("got %v, want *LimitError", err)
	}
	if limitErr.ID != 7 {
		t.Errorf("limit error id: got %d, want 7", limitErr.ID)
	}
	if len(mock.WriteData) != 0 {
		t.Errorf("sent % X for an out-of-range angle", mock.WriteData)
	}
}

func TestServo_RegPositionAndAction(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol1, 1, "MX-28")
	ctx := context.Background()

	if err := s.RegPosition(ctx, math.Pi); err != nil {
		t.Fatalf("RegPosition failed: %v", err)
	}
	if got := sv.get(t, "goal_position"); got != 0 {
		t.Errorf("goal_position applied before action: %d", got)
	}
	if err := s.bus.Action(ctx, 1); err != nil {
		t.Fatalf("Action failed: %v", err)
	}
	if got := sv.get(t, "goal_position"); got != 2048 {
		t.Errorf("goal_position after action: got %d, want 2048", got)
	}
}

func TestServo_SetSpeed(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol1, 1, "AX-12A")
	ctx := context.Background()
	tick := s.Model().Calibration.TicksToSpeed(1)

	if err := s.SetSpeed(ctx, -100*tick, ModeWheel); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if got := sv.get(t, "moving_speed"); got != 1124 {
		t.Errorf("moving_speed: got %d, want 1124", got)
	}

	sv.set(t, "present_speed", 1124)
	speed, err := s.Speed(ctx)
	if err != nil {
		t.Fatalf("Speed failed: %v", err)
	}
	if math.Abs(speed+100*tick) > 1e-9 {
		t.Errorf("speed: got %g, want %g", speed, -100*tick)
	}

	var limitErr *LimitError
	if err := s.SetSpeed(ctx, -100*tick, ModeJoint); !errors.As(err, &limitErr) {
		t.Errorf("negative joint speed: got %v, want *LimitError", err)
	}
}

func TestServo_Torque(t *testing.T) {
	ctx := context.Background()

	_, sv, s := newSimServo(t, Protocol1, 1, "AX-12A")
	if err := s.SetTorqueEnabled(ctx, true); err != nil {
		t.Fatalf("SetTorqueEnabled failed: %v", err)
	}
	if enabled, err := s.TorqueEnabled(ctx); err != nil || !enabled {
		t.Errorf("TorqueEnabled: got (%v, %v)", enabled, err)
	}
	if err := s.SetTorqueLimit(ctx, 0.5); err != nil {
		t.Fatalf("SetTorqueLimit failed: %v", err)
	}
	if got := sv.get(t, "torque_limit"); got != 512 {
		t.Errorf("torque_limit: got %d, want 512", got)
	}
	if ratio, err := s.TorqueLimit(ctx); err != nil || math.Abs(ratio-512.0/1023) > 1e-12 {
		t.Errorf("TorqueLimit: got (%g, %v)", ratio, err)
	}
	if err := s.SetTorqueLimit(ctx, 2); err == nil {
		t.Error("ratio 2 should fail")
	}

	_, pro, ps := newSimServo(t, Protocol2, 1, "PRO L42-10-S300")
	if err := ps.SetTorqueLimit(ctx, 1); err != nil {
		t.Fatalf("PRO SetTorqueLimit failed: %v", err)
	}
	if got := pro.get(t, "goal_torque"); got != 1023 {
		t.Errorf("PRO goal_torque: got %d, want 1023", got)
	}
}

func TestServo_OperatingMode(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		model   string
		fields  map[string]int64
		want    OperatingMode
	}{
		{"ax wheel", Protocol1, "AX-12A", map[string]int64{"cw_angle_limit": 0, "ccw_angle_limit": 0}, ModeWheel},
		{"ax joint", Protocol1, "AX-12A", map[string]int64{"cw_angle_limit": 0, "ccw_angle_limit": 1023}, ModeJoint},
		{"mx multi-turn", Protocol1, "MX-28", map[string]int64{"cw_angle_limit": 4095, "ccw_angle_limit": 4095}, ModeMultiTurn},
		{"xl430 wheel", Protocol2, "XL430-W250", map[string]int64{"operating_mode": 1}, ModeWheel},
		{"xl430 joint", Protocol2, "XL430-W250", map[string]int64{"operating_mode": 3}, ModeJoint},
		{"xl430 multi-turn", Protocol2, "XL430-W250", map[string]int64{"operating_mode": 4}, ModeMultiTurn},
		{"pro torque", Protocol2, "PRO L54-50-S290", map[string]int64{"operating_mode": 0}, ModeTorque},
		{"xl320 wheel", Protocol2, "XL-320", map[string]int64{"control_mode": 1}, ModeWheel},
		{"xl320 joint", Protocol2, "XL-320", map[string]int64{"control_mode": 2}, ModeJoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sv, s := newSimServo(t, tt.version, 1, tt.model)
			for name, v := range tt.fields {
				sv.set(t, name, v)
			}
			got, err := s.OperatingMode(context.Background())
			if err != nil {
				t.Fatalf("OperatingMode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServo_WriteReadOnlyField(t *testing.T) {
	_, _, s := newSimServo(t, Protocol1, 1, "AX-12A")

	if err := s.WriteField(context.Background(), "present_position", 1); !errors.Is(err, ErrReadOnlyField) {
		t.Errorf("got %v, want ErrReadOnlyField", err)
	}
	if err := s.WriteField(context.Background(), "no_such_field", 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("got %v, want ErrUnknownField", err)
	}
}

func TestServo_SetID(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol1, 1, "AX-12A")
	sv.set(t, "torque_enable", 1)

	if err := s.SetID(context.Background(), 9); err != nil {
		t.Fatalf("SetID failed: %v", err)
	}
	if s.ID() != 9 {
		t.Errorf("servo ID: got %d, want 9", s.ID())
	}
	if got := sv.get(t, "id"); got != 9 {
		t.Errorf("id register: got %d, want 9", got)
	}
	if got := sv.get(t, "torque_enable"); got != 0 {
		t.Errorf("torque left enabled while changing id")
	}

	if err := s.SetID(context.Background(), 254); !errors.Is(err, ErrInvalidID) {
		t.Errorf("SetID(254): got %v", err)
	}
}

func TestServo_MovingAndReboot(t *testing.T) {
	_, sv, s := newSimServo(t, Protocol2, 3, "XL430-W250")
	ctx := context.Background()

	sv.set(t, "moving", 1)
	if moving, err := s.Moving(ctx); err != nil || !moving {
		t.Errorf("Moving: got (%v, %v)", moving, err)
	}
	if err := s.Reboot(ctx); err != nil {
		t.Errorf("Reboot failed: %v", err)
	}
	if err := s.FactoryReset(ctx); err != nil {
		t.Errorf("FactoryReset failed: %v", err)
	}
}

func TestServo_NoReply(t *testing.T) {
	sim := newSimBus(t, Protocol1)
	bus := newTestBus(t, sim.transport(), BusConfig{Timeout: 10 * time.Millisecond})
	model, _ := DefaultRegistry().ByName("AX-12A")
	s := NewServo(bus, 1, model)

	_, err := s.Position(context.Background())
	if !IsNoResponse(err) {
		t.Errorf("got %v, want no response", err)
	}
	servoErr, ok := GetServoError(err)
	if !ok || servoErr.ID != 1 || servoErr.Op != "read present_position" {
		t.Errorf("got %v, want ServoError for servo 1", err)
	}
}
