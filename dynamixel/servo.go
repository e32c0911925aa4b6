package dynamixel

import (
	"context"
	"errors"
	"fmt"
)

// Servo is a handle on one servo of a bus. It does not own the bus; many
// handles may share one.
type Servo struct {
	bus   *Bus
	id    int
	model *Model
}

// NewServo creates a new Servo instance.
func NewServo(bus *Bus, id int, model *Model) *Servo {
	return &Servo{
		bus:   bus,
		id:    id,
		model: model,
	}
}

// ID returns the servo's ID.
func (s *Servo) ID() int {
	return s.id
}

// Model returns the servo's model, or nil before DetectModel.
func (s *Servo) Model() *Model {
	return s.model
}

// Ping verifies communication with the servo and returns the model number.
func (s *Servo) Ping(ctx context.Context) (int, error) {
	return s.bus.Ping(ctx, s.id)
}

// DetectModel pings the servo and sets the model based on the returned model number.
func (s *Servo) DetectModel(ctx context.Context) error {
	modelNum, err := s.bus.Ping(ctx, s.id)
	if err != nil {
		return err
	}

	model, err := s.bus.Registry().Lookup(modelNum)
	if err != nil {
		return &ServoError{ID: s.id, Op: "detect model", Err: err}
	}
	if model.Protocol != s.bus.Protocol().Version() {
		return &ServoError{ID: s.id, Op: "detect model",
			Err: fmt.Errorf("model %s speaks %s, bus uses %s", model.Name, model.Protocol, s.bus.Protocol().Version())}
	}
	s.model = model
	return nil
}

// Field returns the descriptor of a named field of the servo's model.
func (s *Servo) Field(name string) (Field, error) {
	if s.model == nil {
		return Field{}, &ServoError{ID: s.id, Op: "field " + name, Err: ErrUnknownModel}
	}
	return s.model.Field(name)
}

// Generic field access

// ReadField reads a named field.
func (s *Servo) ReadField(ctx context.Context, name string) (int64, error) {
	f, err := s.Field(name)
	if err != nil {
		return 0, err
	}
	pkt, err := ReadField(s.bus.Protocol(), byte(s.id), f)
	if err != nil {
		return 0, err
	}

	resp, err := s.bus.Transact(ctx, pkt)
	if err != nil {
		return 0, &ServoError{ID: s.id, Op: "read " + name, Err: err}
	}
	v, err := f.Decode(resp.Parameters)
	if err != nil {
		return 0, &ServoError{ID: s.id, Op: "read " + name, Err: err}
	}
	return v, nil
}

// WriteField writes a named field.
func (s *Servo) WriteField(ctx context.Context, name string, v int64) error {
	return s.writeField(ctx, name, v, false)
}

// RegWriteField stages a write of a named field until the next Action.
func (s *Servo) RegWriteField(ctx context.Context, name string, v int64) error {
	return s.writeField(ctx, name, v, true)
}

func (s *Servo) writeField(ctx context.Context, name string, v int64, deferred bool) error {
	f, err := s.Field(name)
	if err != nil {
		return err
	}

	build, op := WriteField, "write "+name
	if deferred {
		build, op = RegWriteField, "reg_write "+name
	}
	pkt, err := build(s.bus.Protocol(), byte(s.id), f, v)
	if err != nil {
		return s.limitError(err)
	}
	return s.bus.exec(ctx, s.id, op, pkt)
}

// Position Control

// Position reads the present position in radians.
func (s *Servo) Position(ctx context.Context) (float64, error) {
	ticks, err := s.ReadField(ctx, "present_position")
	if err != nil {
		return 0, err
	}
	return s.model.Calibration.TicksToRadians(int(ticks)), nil
}

// SetPosition commands the servo to move to an angle in radians.
func (s *Servo) SetPosition(ctx context.Context, rad float64) error {
	ticks, err := s.positionTicks(rad)
	if err != nil {
		return err
	}
	return s.WriteField(ctx, "goal_position", int64(ticks))
}

// RegPosition stages a goal position until the next Action.
func (s *Servo) RegPosition(ctx context.Context, rad float64) error {
	ticks, err := s.positionTicks(rad)
	if err != nil {
		return err
	}
	return s.RegWriteField(ctx, "goal_position", int64(ticks))
}

func (s *Servo) positionTicks(rad float64) (int, error) {
	if s.model == nil {
		return 0, &ServoError{ID: s.id, Op: "goal position", Err: ErrUnknownModel}
	}
	ticks, err := s.model.Calibration.RadiansToTicks(rad)
	return ticks, s.limitError(err)
}

// Speed Control

// Speed reads the present speed in rad/s. Negative values are clockwise.
func (s *Servo) Speed(ctx context.Context) (float64, error) {
	raw, err := s.ReadField(ctx, "present_speed")
	if err != nil {
		return 0, err
	}
	return s.model.Calibration.DecodeSpeed(s.bus.Protocol(), raw, ModeUnknown), nil
}

// SetSpeed sets the moving speed in rad/s. In wheel mode the sign selects
// the direction of rotation.
func (s *Servo) SetSpeed(ctx context.Context, radPerSec float64, mode OperatingMode) error {
	raw, err := s.speedValue(radPerSec, mode)
	if err != nil {
		return err
	}
	return s.WriteField(ctx, "moving_speed", raw)
}

// RegSpeed stages a moving speed until the next Action.
func (s *Servo) RegSpeed(ctx context.Context, radPerSec float64, mode OperatingMode) error {
	raw, err := s.speedValue(radPerSec, mode)
	if err != nil {
		return err
	}
	return s.RegWriteField(ctx, "moving_speed", raw)
}

func (s *Servo) speedValue(radPerSec float64, mode OperatingMode) (int64, error) {
	if s.model == nil {
		return 0, &ServoError{ID: s.id, Op: "moving speed", Err: ErrUnknownModel}
	}
	raw, err := s.model.Calibration.EncodeSpeed(s.bus.Protocol(), radPerSec, mode)
	return raw, s.limitError(err)
}

// Torque Control

// TorqueEnabled returns whether torque is enabled.
func (s *Servo) TorqueEnabled(ctx context.Context) (bool, error) {
	v, err := s.ReadField(ctx, "torque_enable")
	return v != 0, err
}

// SetTorqueEnabled enables or disables torque.
func (s *Servo) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	var v int64
	if enabled {
		v = 1
	}
	return s.WriteField(ctx, "torque_enable", v)
}

// SetTorqueLimit limits the output torque to a ratio in [0, 1] of the maximum.
func (s *Servo) SetTorqueLimit(ctx context.Context, ratio float64) error {
	if s.model == nil {
		return &ServoError{ID: s.id, Op: "torque limit", Err: ErrUnknownModel}
	}
	ticks, err := s.model.Calibration.TorqueToTicks(ratio)
	if err != nil {
		return s.limitError(err)
	}
	return s.WriteField(ctx, s.torqueField(), int64(ticks))
}

// TorqueLimit reads the torque limit as a ratio of the maximum.
func (s *Servo) TorqueLimit(ctx context.Context) (float64, error) {
	ticks, err := s.ReadField(ctx, s.torqueField())
	if err != nil {
		return 0, err
	}
	return s.model.Calibration.TicksToTorque(int(ticks)), nil
}

func (s *Servo) torqueField() string {
	if s.bus.Protocol().Version() == Protocol2 && s.model.HasField("goal_torque") {
		return "goal_torque"
	}
	return "torque_limit"
}

// Status

// Moving returns whether the servo is currently moving.
func (s *Servo) Moving(ctx context.Context) (bool, error) {
	v, err := s.ReadField(ctx, "moving")
	return v != 0, err
}

// OperatingMode reports how the servo is configured to move. Protocol1
// servos encode it in their angle limits; Protocol2 servos have a register.
func (s *Servo) OperatingMode(ctx context.Context) (OperatingMode, error) {
	if s.model == nil {
		return ModeUnknown, &ServoError{ID: s.id, Op: "operating mode", Err: ErrUnknownModel}
	}

	switch {
	case s.model.HasField("operating_mode"):
		v, err := s.ReadField(ctx, "operating_mode")
		if err != nil {
			return ModeUnknown, err
		}
		switch v {
		case 0:
			return ModeTorque, nil
		case 1:
			return ModeWheel, nil
		case 3:
			return ModeJoint, nil
		case 4:
			return ModeMultiTurn, nil
		}
		return ModeUnknown, nil

	case s.model.HasField("control_mode"):
		v, err := s.ReadField(ctx, "control_mode")
		if err != nil {
			return ModeUnknown, err
		}
		switch v {
		case 1:
			return ModeWheel, nil
		case 2:
			return ModeJoint, nil
		}
		return ModeUnknown, nil
	}

	cw, err := s.ReadField(ctx, "cw_angle_limit")
	if err != nil {
		return ModeUnknown, err
	}
	ccw, err := s.ReadField(ctx, "ccw_angle_limit")
	if err != nil {
		return ModeUnknown, err
	}
	switch {
	case cw == 0 && ccw == 0:
		return ModeWheel, nil
	case cw == 4095 && ccw == 4095:
		return ModeMultiTurn, nil
	}
	return ModeJoint, nil
}

// Maintenance

// Reboot restarts the servo (Protocol2 only).
func (s *Servo) Reboot(ctx context.Context) error {
	return s.bus.Reboot(ctx, s.id)
}

// FactoryReset restores the servo's control table to factory defaults.
func (s *Servo) FactoryReset(ctx context.Context) error {
	return s.bus.FactoryReset(ctx, s.id)
}

// SetID changes the servo's ID.
// The servo object is updated with the new ID on success.
func (s *Servo) SetID(ctx context.Context, newID int) error {
	if newID < 0 || newID > int(MaxServoID) {
		return fmt.Errorf("%w: %d", ErrInvalidID, newID)
	}

	// Safety: disable torque first
	if err := s.SetTorqueEnabled(ctx, false); err != nil {
		return fmt.Errorf("failed to disable torque: %w", err)
	}

	if err := s.WriteField(ctx, "id", int64(newID)); err != nil {
		return err
	}

	s.id = newID
	return nil
}

// limitError stamps the servo's ID on a *LimitError.
func (s *Servo) limitError(err error) error {
	var le *LimitError
	if errors.As(err, &le) {
		le.ID = s.id
	}
	return err
}
