package dynamixel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hipsterbrown/dynamixel/internal/logging"
	"github.com/hipsterbrown/dynamixel/transports"
)

// Bus runs request/response transactions with servos sharing one
// half-duplex line. It is safe for concurrent use; transactions are
// serialized.
type Bus struct {
	transport    Transport
	protocol     Protocol
	registry     *Registry
	logger       *zap.Logger
	timeout      time.Duration
	scanTimeout  time.Duration
	pollInterval time.Duration
	strict       bool
	rescan       bool
	tolerate     byte

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Protocol version: Protocol1 (default) or Protocol2.
	Protocol Version

	// Timeout is how long a receive waits after the last byte it got before
	// giving up. Default is 100ms.
	Timeout time.Duration

	// ScanTimeout replaces Timeout while probing ids in Scan. Default is 20ms.
	ScanTimeout time.Duration

	// PollInterval is the wait between reads when no byte is available.
	// Default is 1ms.
	PollInterval time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration

	// Strict makes malformed and corrupted replies fail the transaction.
	// By default they are dropped and the receive keeps waiting.
	Strict bool

	// Rescan resynchronizes after a malformed reply by dropping a single
	// byte instead of the whole buffer. Useful on recorded streams.
	Rescan bool

	// TolerateErrors holds status error bits that do not fail a
	// transaction, such as ErrBitOverload. They are logged instead.
	TolerateErrors byte

	// Registry resolves model numbers. Default is DefaultRegistry().
	Registry *Registry

	// Logger receives debug traffic and tolerated errors. Default is a no-op.
	Logger *zap.Logger
}

// NewBus creates a new servo bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	// Set defaults
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Protocol == 0 {
		cfg.Protocol = Protocol1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 20 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	protocol, err := NewProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	// Get or create transport
	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.PollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
	}

	return &Bus{
		transport:    transport,
		protocol:     protocol,
		registry:     cfg.Registry,
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		scanTimeout:  cfg.ScanTimeout,
		pollInterval: cfg.PollInterval,
		strict:       cfg.Strict,
		rescan:       cfg.Rescan,
		tolerate:     cfg.TolerateErrors,
		minCmdGap:    cfg.MinCommandGap,
		lastCmdTime:  time.Now(),
	}, nil
}

// Close closes the bus and releases resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Protocol returns the protocol spoken on this bus.
func (b *Bus) Protocol() Protocol {
	return b.protocol
}

// Registry returns the model registry used to identify servos.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Send writes an instruction without waiting for a reply.
func (b *Bus) Send(ctx context.Context, pkt InstructionPacket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	return b.sendLocked(pkt)
}

// Recv waits for the next status packet. It fails once no byte has arrived
// for the configured timeout.
func (b *Bus) Recv(ctx context.Context) (*StatusPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	return b.recvLocked(ctx, NewDecoder(b.protocol, b.rescan), b.timeout)
}

// RecvAll collects status packets until the line stays silent for the
// configured timeout. Only the silence ending the stream is not an error.
func (b *Bus) RecvAll(ctx context.Context) ([]*StatusPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	dec := NewDecoder(b.protocol, b.rescan)
	var packets []*StatusPacket
	for {
		pkt, err := b.recvLocked(ctx, dec, b.timeout)
		if IsTimeout(err) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, pkt)
	}
}

// Transact sends an instruction and returns the servo's reply. Broadcast
// instructions get no reply and return a nil packet.
func (b *Bus) Transact(ctx context.Context, pkt InstructionPacket) (*StatusPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	return b.transactLocked(ctx, pkt, b.timeout)
}

// Ping checks that a servo answers and returns its model number.
func (b *Bus) Ping(ctx context.Context, id int) (int, error) {
	if err := b.validateID(id); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}
	return b.pingLocked(ctx, byte(id), b.timeout)
}

// ReadRegister reads length bytes starting at address.
func (b *Bus) ReadRegister(ctx context.Context, id, address, length int) ([]byte, error) {
	if err := b.validateID(id); err != nil {
		return nil, err
	}
	pkt, err := Read(b.protocol, byte(id), address, length)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	resp, err := b.transactLocked(ctx, pkt, b.timeout)
	if err != nil {
		return nil, &ServoError{ID: id, Op: "read", Err: err}
	}
	if len(resp.Parameters) != length {
		return nil, &ServoError{ID: id, Op: "read", Err: &UnpackError{Size: len(resp.Parameters), Expected: length}}
	}
	return resp.Parameters, nil
}

// WriteRegister writes data starting at address.
func (b *Bus) WriteRegister(ctx context.Context, id, address int, data []byte) error {
	if err := b.validateID(id); err != nil {
		return err
	}
	pkt, err := Write(b.protocol, byte(id), address, data)
	if err != nil {
		return err
	}
	return b.exec(ctx, id, "write", pkt)
}

// RegWrite stages a write that takes effect on the next Action.
func (b *Bus) RegWrite(ctx context.Context, id, address int, data []byte) error {
	if err := b.validateID(id); err != nil {
		return err
	}
	pkt, err := RegWrite(b.protocol, byte(id), address, data)
	if err != nil {
		return err
	}
	return b.exec(ctx, id, "reg_write", pkt)
}

// Action applies staged writes. Use BroadcastID to trigger every servo at once.
func (b *Bus) Action(ctx context.Context, id int) error {
	if err := b.validateTarget(id); err != nil {
		return err
	}
	return b.exec(ctx, id, "action", Action(b.protocol, byte(id)))
}

// FactoryReset restores a servo's control table to factory defaults.
func (b *Bus) FactoryReset(ctx context.Context, id int) error {
	if err := b.validateTarget(id); err != nil {
		return err
	}
	return b.exec(ctx, id, "factory_reset", FactoryReset(b.protocol, byte(id)))
}

// Reboot restarts a servo (Protocol2 only).
func (b *Bus) Reboot(ctx context.Context, id int) error {
	if err := b.validateTarget(id); err != nil {
		return err
	}
	pkt, err := Reboot(b.protocol, byte(id))
	if err != nil {
		return err
	}
	return b.exec(ctx, id, "reboot", pkt)
}

// SyncWrite writes one block per servo at a shared address in a single
// broadcast. data[i] goes to ids[i]; every block must be the same length.
func (b *Bus) SyncWrite(ctx context.Context, address int, ids []int, data [][]byte) error {
	byteIDs, err := b.toByteIDs(ids)
	if err != nil {
		return err
	}
	pkt, err := SyncWrite(b.protocol, address, byteIDs, data)
	if err != nil {
		return err
	}
	return b.Send(ctx, pkt)
}

// SyncRead reads the same block from several servos (Protocol2 only).
// Returns a map of servo ID to the data read.
func (b *Bus) SyncRead(ctx context.Context, address, length int, ids []int) (map[int][]byte, error) {
	byteIDs, err := b.toByteIDs(ids)
	if err != nil {
		return nil, err
	}
	pkt, err := SyncRead(b.protocol, address, length, byteIDs)
	if err != nil {
		return nil, err
	}

	lengths := make(map[int]int, len(ids))
	for _, id := range ids {
		lengths[id] = length
	}
	return b.collect(ctx, "sync_read", pkt, ids, lengths)
}

// BulkRead reads a different block from each servo (Protocol2 only).
// addresses[i] and lengths[i] apply to ids[i].
func (b *Bus) BulkRead(ctx context.Context, ids, addresses, lengths []int) (map[int][]byte, error) {
	byteIDs, err := b.toByteIDs(ids)
	if err != nil {
		return nil, err
	}
	pkt, err := BulkRead(b.protocol, byteIDs, addresses, lengths)
	if err != nil {
		return nil, err
	}

	expected := make(map[int]int, len(ids))
	for i, id := range ids {
		expected[id] = lengths[i]
	}
	return b.collect(ctx, "bulk_read", pkt, ids, expected)
}

// BulkWrite writes a different block to each servo (Protocol2 only).
func (b *Bus) BulkWrite(ctx context.Context, ids, addresses []int, data [][]byte) error {
	byteIDs, err := b.toByteIDs(ids)
	if err != nil {
		return err
	}
	pkt, err := BulkWrite(b.protocol, byteIDs, addresses, data)
	if err != nil {
		return err
	}
	return b.Send(ctx, pkt)
}

// FoundServo represents a servo discovered during scanning.
type FoundServo struct {
	ID          int
	ModelNumber int
	Model       *Model // May be nil if model is unknown
}

// Scan pings every ID in [startID, endID] with the short scan timeout.
// IDs that do not answer are skipped.
func (b *Bus) Scan(ctx context.Context, startID, endID int) ([]FoundServo, error) {
	if startID < 0 || endID > int(MaxServoID) || startID > endID {
		return nil, fmt.Errorf("invalid ID range: %d to %d", startID, endID)
	}

	var found []FoundServo

	for id := startID; id <= endID; id++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		modelNum, err := b.scanOne(ctx, byte(id))
		if errors.Is(err, ErrBusClosed) {
			return found, err
		}
		if err != nil {
			continue // No response at this ID
		}

		f := FoundServo{
			ID:          id,
			ModelNumber: modelNum,
		}
		if model, err := b.registry.Lookup(modelNum); err == nil {
			f.Model = model
		} else {
			b.logger.Warn("unknown servo model", zap.Int("id", id), zap.Int("model_number", modelNum))
		}
		b.logger.Debug("servo found", zap.Int("id", id), zap.Int("model_number", modelNum))

		found = append(found, f)
	}

	return found, nil
}

// AutoDetect scans every ID and returns a handle for each servo whose
// model is known.
func (b *Bus) AutoDetect(ctx context.Context) ([]*Servo, error) {
	found, err := b.Scan(ctx, 0, int(MaxServoID))
	if err != nil {
		return nil, err
	}

	var servos []*Servo
	for _, f := range found {
		if f.Model == nil {
			continue
		}
		servos = append(servos, NewServo(b, f.ID, f.Model))
	}
	return servos, nil
}

// Internal methods

func (b *Bus) scanOne(ctx context.Context, id byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBusClosed
	}
	return b.pingLocked(ctx, id, b.scanTimeout)
}

func (b *Bus) pingLocked(ctx context.Context, id byte, timeout time.Duration) (int, error) {
	if _, err := b.transactLocked(ctx, Ping(b.protocol, id), timeout); err != nil {
		return 0, &ServoError{ID: int(id), Op: "ping", Err: err}
	}

	// Both protocols keep the model number at address 0. Protocol2 ping
	// replies carry it too, but the register is what every model agrees on.
	read, err := Read(b.protocol, id, 0, 2)
	if err != nil {
		return 0, err
	}
	resp, err := b.transactLocked(ctx, read, timeout)
	if err != nil {
		return 0, &ServoError{ID: int(id), Op: "read model", Err: err}
	}
	model, err := Unpack[uint16](resp.Parameters)
	if err != nil {
		return 0, &ServoError{ID: int(id), Op: "read model", Err: err}
	}
	return int(model), nil
}

// exec runs an instruction that replies with an empty status packet.
func (b *Bus) exec(ctx context.Context, id int, op string, pkt InstructionPacket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, err := b.transactLocked(ctx, pkt, b.timeout); err != nil {
		return &ServoError{ID: id, Op: op, Err: err}
	}
	return nil
}

// collect sends a broadcast read and gathers one reply per id.
func (b *Bus) collect(ctx context.Context, op string, pkt InstructionPacket, ids []int, lengths map[int]int) (map[int][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if err := b.sendLocked(pkt); err != nil {
		return nil, err
	}

	dec := NewDecoder(b.protocol, b.rescan)
	result := make(map[int][]byte, len(ids))
	for len(result) < len(ids) {
		resp, err := b.recvLocked(ctx, dec, b.timeout)
		if IsTimeout(err) {
			break
		}
		if err != nil {
			// Transport failures are already *CommError.
			return result, fmt.Errorf("%s: %w", op, err)
		}

		id := int(resp.ID)
		want, ok := lengths[id]
		if !ok {
			b.logger.Debug("ignoring reply from unexpected servo", zap.Int("id", id))
			continue
		}
		if err := b.checkStatusLocked(resp); err != nil {
			return result, &ServoError{ID: id, Op: op, Err: err}
		}
		if len(resp.Parameters) != want {
			return result, &ServoError{ID: id, Op: op, Err: &UnpackError{Size: len(resp.Parameters), Expected: want}}
		}
		result[id] = resp.Parameters
	}

	// Check for missing responses
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return result, &ServoError{ID: id, Op: op, Err: ErrNoResponse}
		}
	}

	return result, nil
}

func (b *Bus) transactLocked(ctx context.Context, pkt InstructionPacket, timeout time.Duration) (*StatusPacket, error) {
	if err := b.sendLocked(pkt); err != nil {
		return nil, err
	}
	if pkt.Broadcast() {
		return nil, nil
	}

	resp, err := b.recvLocked(ctx, NewDecoder(b.protocol, b.rescan), timeout)
	if err != nil {
		return nil, err
	}
	if resp.ID != pkt.ID {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedReply, pkt.ID, resp.ID)
	}
	if err := b.checkStatusLocked(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Bus) checkStatusLocked(resp *StatusPacket) error {
	if err := b.protocol.CheckStatus(resp, b.tolerate); err != nil {
		return err
	}
	if resp.Error != 0 {
		b.logger.Warn("servo reported tolerated error",
			zap.Uint8("id", resp.ID),
			zap.Strings("errors", b.protocol.Categories(resp.Error)))
	}
	return nil
}

func (b *Bus) validateID(id int) error {
	if id < 0 || id > int(MaxServoID) {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, id, MaxServoID)
	}
	return nil
}

func (b *Bus) validateTarget(id int) error {
	if id == int(BroadcastID) {
		return nil
	}
	return b.validateID(id)
}

func (b *Bus) toByteIDs(ids []int) ([]byte, error) {
	out := make([]byte, len(ids))
	for i, id := range ids {
		if err := b.validateID(id); err != nil {
			return nil, err
		}
		out[i] = byte(id)
	}
	return out, nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendLocked(pkt InstructionPacket) error {
	b.enforceCommandGap()

	// Flush any stale input
	if err := b.transport.Flush(); err != nil {
		return &CommError{Op: "flush", Err: err}
	}

	wire := pkt.Bytes()
	b.logger.Debug("send", zap.Stringer("instruction", pkt.Instruction),
		zap.Uint8("id", pkt.ID), logging.Bytes("bytes", wire))

	n, err := b.transport.Write(wire)
	if err != nil {
		return &CommError{Op: "send", Err: err}
	}
	if n != len(wire) {
		return &CommError{Op: "send", Err: fmt.Errorf("incomplete write: %d of %d bytes", n, len(wire))}
	}

	b.lastCmdTime = time.Now()

	// Small delay for half-duplex turnaround
	time.Sleep(100 * time.Microsecond)

	return nil
}

// recvLocked reads one byte at a time until a status packet is complete.
// The timeout counts from the last byte received, not from the call.
// Callers reading several replies pass the same decoder so bytes left over
// from a rescan carry into the next packet.
func (b *Bus) recvLocked(ctx context.Context, dec *Decoder, timeout time.Duration) (*StatusPacket, error) {
	if pkt := dec.Next(); pkt != nil {
		return pkt, nil
	}

	buf := make([]byte, 1)
	received := 0
	last := time.Now()

	if err := b.transport.SetReadTimeout(b.pollInterval); err != nil {
		return nil, &CommError{Op: "recv", Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if silence := time.Since(last); silence >= timeout {
			if received == 0 {
				return nil, fmt.Errorf("%w: %w after %v", ErrNoResponse, ErrTimeout, silence)
			}
			return nil, fmt.Errorf("%w: %v of silence after %d bytes (% X pending)",
				ErrTimeout, silence, received, dec.Buffered())
		}

		start := time.Now()
		n, err := b.transport.Read(buf)
		if n == 1 {
			received++
			last = time.Now()

			pkt, derr := dec.DecodeByte(buf[0])
			if derr != nil {
				if b.strict {
					return nil, derr
				}
				b.logger.Debug("dropping malformed status packet", zap.Error(derr))
				continue
			}
			if pkt != nil {
				return pkt, nil
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &CommError{Op: "recv", Err: err}
		}

		// Nothing available. Wait out the rest of the poll interval, but
		// never past the silence deadline.
		wait := min(b.pollInterval-time.Since(start), timeout-time.Since(last))
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}
