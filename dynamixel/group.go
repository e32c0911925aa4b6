package dynamixel

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// ServoGroup manages coordinated operations across multiple servos.
type ServoGroup struct {
	bus    *Bus
	servos []*Servo
}

// NewServoGroup creates a new group from the given servos.
func NewServoGroup(bus *Bus, servos ...*Servo) *ServoGroup {
	return &ServoGroup{
		bus:    bus,
		servos: servos,
	}
}

// Servos returns the servos in this group.
func (g *ServoGroup) Servos() []*Servo {
	return g.servos
}

// IDs returns the servo IDs in this group.
func (g *ServoGroup) IDs() []int {
	ids := make([]int, len(g.servos))
	for i, s := range g.servos {
		ids[i] = s.ID()
	}
	return ids
}

// ServoByID returns the servo with the given ID, or nil if not found.
func (g *ServoGroup) ServoByID(id int) *Servo {
	for _, s := range g.servos {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

// layout is where a field lives in a servo's control table.
type layout struct {
	address int
	width   int
}

// ReadField reads a field from every servo in the group. Servos whose models
// lack the field are skipped. On Protocol2 servos sharing a layout are read
// with one SyncRead, or all servos with one BulkRead when layouts differ;
// Protocol1 reads one servo at a time.
func (g *ServoGroup) ReadField(ctx context.Context, name string) (map[int]int64, error) {
	fields := make(map[int]Field)
	groups := make(map[layout][]int)
	for _, s := range g.servos {
		f, err := s.Field(name)
		if err != nil {
			continue
		}
		fields[s.ID()] = f
		key := layout{address: f.Address, width: f.Width}
		groups[key] = append(groups[key], s.ID())
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no servo in group has field %q", ErrUnknownField, name)
	}

	raw := make(map[int][]byte, len(fields))
	switch {
	case g.bus.Protocol().Version() == Protocol1:
		for _, id := range slices.Sorted(maps.Keys(fields)) {
			f := fields[id]
			data, err := g.bus.ReadRegister(ctx, id, f.Address, f.Width)
			if err != nil {
				return nil, err
			}
			raw[id] = data
		}

	case len(groups) == 1:
		for key, ids := range groups {
			data, err := g.bus.SyncRead(ctx, key.address, key.width, ids)
			if err != nil {
				return nil, fmt.Errorf("sync read for %q at addr=%d size=%d: %w", name, key.address, key.width, err)
			}
			raw = data
		}

	default:
		ids := slices.Sorted(maps.Keys(fields))
		addresses := make([]int, len(ids))
		lengths := make([]int, len(ids))
		for i, id := range ids {
			addresses[i] = fields[id].Address
			lengths[i] = fields[id].Width
		}
		data, err := g.bus.BulkRead(ctx, ids, addresses, lengths)
		if err != nil {
			return nil, fmt.Errorf("bulk read for %q: %w", name, err)
		}
		raw = data
	}

	values := make(map[int]int64, len(raw))
	for id, data := range raw {
		v, err := fields[id].Decode(data)
		if err != nil {
			return nil, &ServoError{ID: id, Op: "read " + name, Err: err}
		}
		values[id] = v
	}
	return values, nil
}

// WriteField writes a field on the servos present in values in a single
// broadcast per layout (SyncWrite), or one BulkWrite on Protocol2 when the
// servos' layouts differ.
func (g *ServoGroup) WriteField(ctx context.Context, name string, values map[int]int64) error {
	if len(values) == 0 {
		return nil // No-op for empty map
	}

	proto := g.bus.Protocol()
	fields := make(map[int]Field, len(values))
	data := make(map[int][]byte, len(values))
	groups := make(map[layout][]int)

	for _, id := range slices.Sorted(maps.Keys(values)) {
		servo := g.ServoByID(id)
		if servo == nil {
			return fmt.Errorf("servo ID %d not in group", id)
		}
		f, err := servo.Field(name)
		if err != nil {
			return err
		}
		if f.ReadOnly {
			return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
		}
		encoded, err := f.Encode(proto, values[id])
		if err != nil {
			return servo.limitError(err)
		}
		fields[id] = f
		data[id] = encoded
		key := layout{address: f.Address, width: f.Width}
		groups[key] = append(groups[key], id)
	}

	if len(groups) > 1 && proto.Supports(InstBulkWrite) {
		ids := slices.Sorted(maps.Keys(data))
		addresses := make([]int, len(ids))
		blocks := make([][]byte, len(ids))
		for i, id := range ids {
			addresses[i] = fields[id].Address
			blocks[i] = data[id]
		}
		return g.bus.BulkWrite(ctx, ids, addresses, blocks)
	}

	for key, ids := range groups {
		blocks := make([][]byte, len(ids))
		for i, id := range ids {
			blocks[i] = data[id]
		}
		if err := g.bus.SyncWrite(ctx, key.address, ids, blocks); err != nil {
			return fmt.Errorf("sync write for %q at addr=%d size=%d: %w", name, key.address, key.width, err)
		}
	}
	return nil
}

// Positions reads present positions in radians.
func (g *ServoGroup) Positions(ctx context.Context) (map[int]float64, error) {
	ticks, err := g.ReadField(ctx, "present_position")
	if err != nil {
		return nil, err
	}

	positions := make(map[int]float64, len(ticks))
	for id, t := range ticks {
		positions[id] = g.ServoByID(id).Model().Calibration.TicksToRadians(int(t))
	}
	return positions, nil
}

// SetPositions moves the servos present in positions, given in radians.
// Every angle is checked before anything is sent.
func (g *ServoGroup) SetPositions(ctx context.Context, positions map[int]float64) error {
	ticks, err := g.positionTicks(positions)
	if err != nil {
		return err
	}
	return g.WriteField(ctx, "goal_position", ticks)
}

// StagePositions buffers goal positions with RegWrite. Commit applies them
// simultaneously.
func (g *ServoGroup) StagePositions(ctx context.Context, positions map[int]float64) error {
	ticks, err := g.positionTicks(positions)
	if err != nil {
		return err
	}

	for _, id := range slices.Sorted(maps.Keys(ticks)) {
		if err := g.ServoByID(id).RegWriteField(ctx, "goal_position", ticks[id]); err != nil {
			return fmt.Errorf("servo %d: %w", id, err)
		}
	}
	return nil
}

// Commit triggers every staged write on the bus with a broadcast Action.
func (g *ServoGroup) Commit(ctx context.Context) error {
	return g.bus.Action(ctx, int(BroadcastID))
}

// SetTorqueEnabled enables or disables torque on all servos.
func (g *ServoGroup) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	var v int64
	if enabled {
		v = 1
	}
	values := make(map[int]int64, len(g.servos))
	for _, s := range g.servos {
		values[s.ID()] = v
	}
	return g.WriteField(ctx, "torque_enable", values)
}

func (g *ServoGroup) positionTicks(positions map[int]float64) (map[int]int64, error) {
	ticks := make(map[int]int64, len(positions))
	for id, rad := range positions {
		servo := g.ServoByID(id)
		if servo == nil {
			return nil, fmt.Errorf("servo ID %d not in group", id)
		}
		t, err := servo.positionTicks(rad)
		if err != nil {
			return nil, err
		}
		ticks[id] = int64(t)
	}
	return ticks, nil
}
