package dynamixel

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// JointCalibration maps a robot joint angle onto the angle of the servo
// driving it. Joint angles are radians around the centre of the servo's
// range; servo angles are what Servo.SetPosition takes.
type JointCalibration struct {
	ID           int     `yaml:"id"`
	Inverted     bool    `yaml:"inverted,omitempty"`
	OffsetDeg    float64 `yaml:"offset_deg,omitempty"`
	MinDeg       float64 `yaml:"min_deg,omitempty"`
	MaxDeg       float64 `yaml:"max_deg,omitempty"`
	HomingOffset int64   `yaml:"homing_offset,omitempty"` // written to the servo's homing_offset field, if it has one
}

// Validate checks the id and the joint range.
func (c *JointCalibration) Validate() error {
	if c.ID < 0 || c.ID > int(MaxServoID) {
		return fmt.Errorf("invalid servo ID: %d (must be 0-%d)", c.ID, MaxServoID)
	}
	if c.bounded() && c.MinDeg >= c.MaxDeg {
		return fmt.Errorf("invalid range: min (%g) must be less than max (%g)", c.MinDeg, c.MaxDeg)
	}
	return nil
}

// bounded reports whether a joint range is set. A zero range means the
// servo's own range is the only limit.
func (c *JointCalibration) bounded() bool {
	return c.MinDeg != 0 || c.MaxDeg != 0
}

func (c *JointCalibration) String() string {
	direction := "normal"
	if c.Inverted {
		direction = "inverted"
	}
	if !c.bounded() {
		return fmt.Sprintf("ID %d: %s offset %g°", c.ID, direction, c.OffsetDeg)
	}
	return fmt.Sprintf("ID %d: range [%g°, %g°] %s offset %g°", c.ID, c.MinDeg, c.MaxDeg, direction, c.OffsetDeg)
}

// ToServo converts a joint angle into a servo angle for a servo with the
// given calibration. Angles outside the joint range yield a *LimitError.
func (c *JointCalibration) ToServo(cal Calibration, joint float64) (float64, error) {
	const epsilon = 1e-9

	deg := joint * 180 / math.Pi
	if c.bounded() && (deg < c.MinDeg-epsilon || deg > c.MaxDeg+epsilon) {
		return 0, &LimitError{
			ID:       c.ID,
			Quantity: "joint angle (rad)",
			Min:      c.MinDeg * math.Pi / 180,
			Max:      c.MaxDeg * math.Pi / 180,
			Value:    joint,
		}
	}
	if c.Inverted {
		deg = -deg
	}
	return (centreDeg(cal) + deg + c.OffsetDeg) * math.Pi / 180, nil
}

// FromServo converts a servo angle back into a joint angle.
func (c *JointCalibration) FromServo(cal Calibration, servo float64) float64 {
	deg := servo*180/math.Pi - centreDeg(cal) - c.OffsetDeg
	if c.Inverted {
		deg = -deg
	}
	return deg * math.Pi / 180
}

func centreDeg(cal Calibration) float64 {
	return (cal.MinDeg + cal.MaxDeg) / 2
}

// ApplyHomingOffset writes the homing offset to a servo that supports it.
// Servos without a homing_offset field are left alone.
func (c *JointCalibration) ApplyHomingOffset(ctx context.Context, s *Servo) error {
	if s.Model() == nil || !s.Model().HasField("homing_offset") {
		return nil
	}
	return s.WriteField(ctx, "homing_offset", c.HomingOffset)
}

// JointCalibrations holds the calibration of every joint, keyed by servo id.
type JointCalibrations map[int]*JointCalibration

// LoadJointCalibrations reads a YAML file mapping joint names to
// calibrations.
func LoadJointCalibrations(path string) (JointCalibrations, map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var byName map[string]*JointCalibration
	if err := yaml.Unmarshal(data, &byName); err != nil {
		return nil, nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	cals := make(JointCalibrations, len(byName))
	names := make(map[int]string, len(byName))
	for name, cal := range byName {
		if cal == nil {
			return nil, nil, fmt.Errorf("joint %s has no calibration", name)
		}
		if err := cal.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid calibration for joint %s: %w", name, err)
		}
		if _, exists := cals[cal.ID]; exists {
			return nil, nil, fmt.Errorf("duplicate servo ID %d found in calibration file", cal.ID)
		}
		cals[cal.ID] = cal
		names[cal.ID] = name
	}
	return cals, names, nil
}

// SaveJointCalibrations writes calibrations keyed by joint name. Joints
// missing from names are saved as joint_<id>.
func SaveJointCalibrations(path string, cals JointCalibrations, names map[int]string) error {
	byName := make(map[string]*JointCalibration, len(cals))
	for id, cal := range cals {
		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("joint_%d", id)
		}
		byName[name] = cal
	}

	data, err := yaml.Marshal(byName)
	if err != nil {
		return fmt.Errorf("failed to marshal calibrations: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// JointPositions reads every servo in the group and converts the positions
// to joint angles. Servos without a calibration report their servo angle.
func (g *ServoGroup) JointPositions(ctx context.Context, cals JointCalibrations) (map[int]float64, error) {
	positions, err := g.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for id, rad := range positions {
		if cal, ok := cals[id]; ok {
			positions[id] = cal.FromServo(g.ServoByID(id).Model().Calibration, rad)
		}
	}
	return positions, nil
}

// SetJointPositions converts joint angles to servo angles and moves the
// servos together. Nothing is sent if any angle is out of range.
func (g *ServoGroup) SetJointPositions(ctx context.Context, cals JointCalibrations, joints map[int]float64) error {
	positions := make(map[int]float64, len(joints))
	for id, joint := range joints {
		cal, ok := cals[id]
		if !ok {
			positions[id] = joint
			continue
		}
		servo := g.ServoByID(id)
		if servo == nil {
			return fmt.Errorf("servo %d is not in the group", id)
		}
		if servo.Model() == nil {
			return &ServoError{ID: id, Op: "set joint position", Err: ErrUnknownModel}
		}
		rad, err := cal.ToServo(servo.Model().Calibration, joint)
		if err != nil {
			return err
		}
		positions[id] = rad
	}
	return g.SetPositions(ctx, positions)
}
