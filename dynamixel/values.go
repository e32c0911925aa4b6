package dynamixel

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Integer is a control table value type.
type Integer interface {
	uint8 | uint16 | uint32 | int32
}

// Pack encodes v little-endian at its natural width. Protocol1 control
// tables hold at most 16-bit values.
func Pack[T Integer](p Protocol, v T) ([]byte, error) {
	width := binary.Size(v)
	if width > p.MaxValueWidth() {
		return nil, fmt.Errorf("%w: %d bytes under %s", ErrUnsupportedWidth, width, p.Version())
	}
	return binary.Append(nil, binary.LittleEndian, v)
}

// Unpack decodes a little-endian value whose width must match T exactly.
func Unpack[T Integer](data []byte) (T, error) {
	var v T
	if width := binary.Size(v); len(data) != width {
		return v, &UnpackError{Size: len(data), Expected: width}
	}
	_, err := binary.Decode(data, binary.LittleEndian, &v)
	return v, err
}

// EncodeValue encodes v in width bytes, little-endian. Negative values are
// stored in two's complement.
func EncodeValue(p Protocol, v int64, width int) ([]byte, error) {
	if width > p.MaxValueWidth() {
		return nil, fmt.Errorf("%w: %d bytes under %s", ErrUnsupportedWidth, width, p.Version())
	}
	switch width {
	case 1:
		return []byte{byte(v)}, nil
	case 2:
		return binary.LittleEndian.AppendUint16(nil, uint16(v)), nil
	case 4:
		return binary.LittleEndian.AppendUint32(nil, uint32(v)), nil
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedWidth, width)
}

// DecodeValue decodes a 1, 2 or 4 byte little-endian value, sign-extending
// it when signed is set.
func DecodeValue(data []byte, signed bool) (int64, error) {
	switch len(data) {
	case 1:
		if signed {
			return int64(int8(data[0])), nil
		}
		return int64(data[0]), nil
	case 2:
		v := binary.LittleEndian.Uint16(data)
		if signed {
			return int64(int16(v)), nil
		}
		return int64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(data)
		if signed {
			return int64(int32(v)), nil
		}
		return int64(v), nil
	}
	return 0, fmt.Errorf("%w: %d bytes", ErrUnsupportedWidth, len(data))
}

// Calibration holds the constants that relate raw ticks to physical units
// for one servo model.
type Calibration struct {
	MinTick    int     `yaml:"min_tick"`
	MaxTick    int     `yaml:"max_tick"`
	MinDeg     float64 `yaml:"min_deg"`
	MaxDeg     float64 `yaml:"max_deg"`
	RPMPerTick float64 `yaml:"rpm_per_tick"`
	MinSpeed   int     `yaml:"min_speed"`
	MaxSpeed   int     `yaml:"max_speed"`
	TorqueMax  int     `yaml:"torque_max"`
}

// TicksToRadians maps a position in ticks onto radians.
func (c Calibration) TicksToRadians(ticks int) float64 {
	deg := float64(ticks-c.MinTick)*(c.MaxDeg-c.MinDeg)/float64(c.MaxTick-c.MinTick) + c.MinDeg
	return deg * math.Pi / 180
}

// RadiansToTicks maps an angle onto a position in ticks. Angles outside the
// servo's range yield a *LimitError with the range in radians.
func (c Calibration) RadiansToTicks(rad float64) (int, error) {
	const epsilon = 1e-9

	deg := rad * 180 / math.Pi
	if deg < c.MinDeg-epsilon || deg > c.MaxDeg+epsilon {
		return 0, &LimitError{
			Quantity: "angle (rad)",
			Min:      c.MinDeg * math.Pi / 180,
			Max:      c.MaxDeg * math.Pi / 180,
			Value:    rad,
		}
	}

	ticks := (deg-c.MinDeg)*float64(c.MaxTick-c.MinTick)/(c.MaxDeg-c.MinDeg) + float64(c.MinTick)
	return int(math.Round(ticks)), nil
}

// SpeedToTicks converts rad/s to speed ticks, rounding to the nearest tick.
func (c Calibration) SpeedToTicks(radPerSec float64) int {
	return int(math.Round(60 * radPerSec / (2 * math.Pi * c.RPMPerTick)))
}

// TicksToSpeed converts speed ticks to rad/s.
func (c Calibration) TicksToSpeed(ticks int) float64 {
	return float64(ticks) * c.RPMPerTick * 2 * math.Pi / 60
}

// EncodeSpeed converts a signed speed in rad/s into the raw value of the
// model's speed register for mode. Out-of-range speeds yield a *LimitError.
func (c Calibration) EncodeSpeed(p Protocol, radPerSec float64, mode OperatingMode) (int64, error) {
	ticks := c.SpeedToTicks(radPerSec)
	lo, hi := p.SpeedRange(mode, c.MinSpeed, c.MaxSpeed)
	if ticks < lo || ticks > hi {
		return 0, &LimitError{
			Quantity: "speed (rad/s)",
			Min:      c.TicksToSpeed(lo),
			Max:      c.TicksToSpeed(hi),
			Value:    radPerSec,
		}
	}
	return p.EncodeSpeed(ticks, mode, c.MaxSpeed), nil
}

// DecodeSpeed converts a raw speed register value into rad/s.
func (c Calibration) DecodeSpeed(p Protocol, raw int64, mode OperatingMode) float64 {
	return c.TicksToSpeed(p.DecodeSpeed(raw, mode, c.MaxSpeed))
}

// TorqueToTicks converts a torque ratio in [0, 1] into ticks.
func (c Calibration) TorqueToTicks(ratio float64) (int, error) {
	if ratio < 0 || ratio > 1 {
		return 0, &LimitError{Quantity: "torque ratio", Min: 0, Max: 1, Value: ratio}
	}
	return int(math.Round(ratio * float64(c.TorqueMax))), nil
}

// TicksToTorque converts torque ticks into a ratio of the maximum torque.
func (c Calibration) TicksToTorque(ticks int) float64 {
	if c.TorqueMax == 0 {
		return 0
	}
	return float64(ticks) / float64(c.TorqueMax)
}
