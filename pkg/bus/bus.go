// Package bus implements a master/slave poll-select protocol over a shared
// half-duplex RS-485 line.
//
// A Bus is driven from two sides. OnByte is called for every received byte,
// including the echo of our own transmissions, and may run on its own
// goroutine. Tick is called at a fixed cadence (see Timing.Tick), directly
// or through Run. Each tick derives at most one event and feeds it to the
// current state.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"rspoll/pkg/packet"
)

var (
	ErrRegistryFull     = errors.New("bus: no free channel slot")
	ErrQueueCapacity    = errors.New("bus: invalid queue capacity")
	ErrUnknownChannel   = errors.New("bus: unknown channel")
	ErrChannelNotOnline = errors.New("bus: channel not online")
	ErrQueueFull        = errors.New("bus: outbound queue full")
	ErrNoChannel        = errors.New("bus: slave needs a channel before start")
	ErrRunning          = errors.New("bus: already running")
	ErrConfig           = errors.New("bus: invalid config")
)

// Role selects master or slave behaviour.
type Role uint8

const (
	Master Role = iota
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Slave:
		return "slave"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Transport moves bytes on the line. Transmission completion is not
// reported; the bus waits for the echo of the frame instead.
type Transport interface {
	TransmitMode() error
	ReceiveMode() error
	Transmit(frame []byte) error
	ArmReceive() error
}

// Config identifies this station.
type Config struct {
	Role    Role
	Address byte
}

// Direction of a captured frame.
type Direction uint8

const (
	DirTX Direction = iota
	DirRX
)

func (d Direction) String() string {
	if d == DirTX {
		return "tx"
	}
	return "rx"
}

// FrameRecord describes one frame seen by the bus. Data is owned by the
// receiver of the record.
type FrameRecord struct {
	Dir  Direction
	Kind packet.Kind
	Data []byte
	Tick uint32
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithTiming replaces DefaultTiming.
func WithTiming(t Timing) Option {
	return func(b *Bus) { b.timing = t }
}

// WithFrameHook registers h to observe every transmitted frame and every
// received frame. It is called with the bus lock held and must not call
// back into the Bus.
func WithFrameHook(h func(FrameRecord)) Option {
	return func(b *Bus) { b.hook = h }
}

// Bus is one station on the line.
type Bus struct {
	mu sync.Mutex

	tr      Transport
	role    Role
	address byte
	timing  Timing
	sched   schedule
	log     *zap.Logger
	hook    func(FrameRecord)

	tick    atomic.Uint32
	running atomic.Bool
	rx      rxHandoff
	diag    counters

	reg registry
	cur ChannelID

	txFrame  []byte
	txKind   packet.Kind
	txPacket packet.Packet
	rxKind   packet.Kind
	rxPacket packet.Packet

	sm machine
}

// New creates a stopped bus. Channels are added with CreateChannel and
// traffic begins with Start.
func New(tr Transport, cfg Config, opts ...Option) (*Bus, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrConfig)
	}
	if cfg.Role != Master && cfg.Role != Slave {
		return nil, fmt.Errorf("%w: role %s", ErrConfig, cfg.Role)
	}
	b := &Bus{
		tr:      tr,
		role:    cfg.Role,
		address: cfg.Address,
		timing:  DefaultTiming(),
		log:     zap.NewNop(),
		cur:     InvalidChannel,
		txFrame: make([]byte, 0, packet.MaxFrameLen),
	}
	for _, o := range opts {
		o(b)
	}
	if err := b.timing.validate(); err != nil {
		return nil, err
	}
	b.sched = b.timing.schedule()
	b.log = b.log.With(zap.Stringer("role", b.role), zap.Uint8("station", b.address))
	b.reg = registry{clock: b.now, sched: &b.sched, log: b.log}
	b.sm.cur = &initState{}
	return b, nil
}

func (b *Bus) now() uint32 { return b.tick.Load() }

func (b *Bus) current() *channel { return b.reg.get(b.cur) }

// Role returns the station role.
func (b *Bus) Role() Role { return b.role }

// Address returns the station address.
func (b *Bus) Address() byte { return b.address }

// Timing returns the effective timing.
func (b *Bus) Timing() Timing { return b.timing }

// CreateChannel allocates the next free channel slot. A slave uses only
// slot 0.
func (b *Bus) CreateChannel(cfg ChannelConfig) (ChannelID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.role == Slave {
		cfg.Address = b.address
	}
	id, err := b.reg.create(b.role, cfg)
	if err != nil {
		return InvalidChannel, err
	}
	b.log.Debug("channel created",
		zap.Uint8("channel", uint8(id)),
		zap.Uint8("address", cfg.Address),
		zap.Bool("transmit", cfg.Transmit),
		zap.Bool("receive", cfg.Receive))
	return id, nil
}

// Start puts the transport in receive mode and begins protocol processing
// on the next tick.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running.Load() {
		return ErrRunning
	}
	if b.role == Slave {
		if b.reg.get(slaveChannel) == nil {
			return ErrNoChannel
		}
		b.cur = slaveChannel
	}
	b.rx.reset(b.now(), b.sched.silence)
	if err := b.tr.ReceiveMode(); err != nil {
		return fmt.Errorf("receive mode: %w", err)
	}
	if err := b.tr.ArmReceive(); err != nil {
		return fmt.Errorf("arm receive: %w", err)
	}
	b.sm.pending = evInit
	b.running.Store(true)
	b.log.Info("bus started", zap.Int("channels", b.reg.count))
	return nil
}

// Stop halts protocol processing. Queued packets are kept.
func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running.Swap(false) {
		return nil
	}
	b.sm.cur.exit(b)
	b.sm.cur = &initState{}
	b.sm.pending = evNone
	b.log.Info("bus stopped")
	return b.tr.ReceiveMode()
}

// Running reports whether the bus has been started.
func (b *Bus) Running() bool { return b.running.Load() }

// Send queues p for delivery on channel id. The channel must be online.
func (b *Bus) Send(id ChannelID, p packet.Packet) error {
	if len(p.Payload) > packet.MaxPayload {
		return packet.ErrPayloadTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.reg.get(id)
	if ch == nil {
		return ErrUnknownChannel
	}
	if ch.state() != ChannelOnline {
		return ErrChannelNotOnline
	}
	if err := ch.outbound.Put(p.Clone()); err != nil {
		return ErrQueueFull
	}
	return nil
}

// Receive removes the oldest inbound packet from channel id.
func (b *Bus) Receive(id ChannelID) (packet.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.reg.get(id)
	if ch == nil {
		return packet.Packet{}, false
	}
	return ch.inbound.Get()
}

// IsDataAvailable reports whether channel id has inbound packets.
func (b *Bus) IsDataAvailable(id ChannelID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.reg.get(id)
	return ch != nil && !ch.inbound.IsEmpty()
}

// ChannelState returns the liveness of channel id, or ChannelNone.
func (b *Bus) ChannelState(id ChannelID) ChannelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.reg.get(id)
	if ch == nil {
		return ChannelNone
	}
	return ch.state()
}

// State returns the current top-level state.
func (b *Bus) State() StateID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sm.cur.id()
}

// Diagnostics returns the current counters.
func (b *Bus) Diagnostics() Diagnostics { return b.diag.snapshot() }

// OnByte records one received byte. It is safe to call concurrently with
// every other method.
func (b *Bus) OnByte(c byte) {
	if !b.rx.push(c, b.now(), b.sched.silence) {
		b.diag.rxOverflow.Inc()
	}
	if err := b.tr.ArmReceive(); err != nil {
		b.diag.transport.Inc()
		b.log.Warn("arm receive", zap.Error(err))
	}
}

// Tick advances time by one tick and runs the state machine once.
func (b *Bus) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running.Load() {
		return
	}
	b.tick.Inc()
	b.dispatch(b.input())
}

// Run calls Tick at the configured cadence until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	t := time.NewTicker(b.timing.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b.Tick()
		}
	}
}

// input derives the event for this tick.
func (b *Bus) input() event {
	now := b.now()
	if frame, loopback, ok := b.rx.take(now); ok {
		if loopback {
			if err := b.tr.ReceiveMode(); err != nil {
				b.transportError("receive mode", err)
			}
			return evLoopback
		}
		if b.decode(frame, now) {
			return evFrame
		}
	}
	if ev := b.sm.pending; ev != evNone {
		b.sm.pending = evNone
		return ev
	}
	if b.sm.timer.expired(now) {
		b.sm.timer.clear()
		return evTimeout
	}
	return evNone
}

func (b *Bus) decode(frame []byte, now uint32) bool {
	if len(frame) == 0 {
		return false
	}
	kind, p := packet.Decode(frame)
	if b.hook != nil {
		b.hook(FrameRecord{Dir: DirRX, Kind: kind, Data: append([]byte(nil), frame...), Tick: now})
	}
	if kind == packet.KindNone {
		b.log.Debug("dropped malformed frame", zap.Binary("frame", frame))
		return false
	}
	b.log.Debug("rx", zap.Stringer("kind", kind), zap.Uint8("address", p.Address))
	b.rxKind, b.rxPacket = kind, p
	return true
}

// prepare encodes b.txPacket as kind into the transmit buffer.
func (b *Bus) prepare(kind packet.Kind) {
	frame, err := packet.AppendFrame(b.txFrame[:0], kind, b.txPacket)
	if err != nil {
		b.log.Warn("encode", zap.Stringer("kind", kind), zap.Error(err))
		frame = b.txFrame[:0]
	}
	b.txFrame, b.txKind = frame, kind
}

// transmit sends the prepared frame. Its echo completes the transmission.
func (b *Bus) transmit() {
	now := b.now()
	if err := b.tr.TransmitMode(); err != nil {
		b.transportError("transmit mode", err)
	}
	b.rx.expectEcho(now, b.sched.silence)
	if b.hook != nil {
		b.hook(FrameRecord{Dir: DirTX, Kind: b.txKind, Data: append([]byte(nil), b.txFrame...), Tick: now})
	}
	b.log.Debug("tx", zap.Stringer("kind", b.txKind), zap.Uint8("address", b.txPacket.Address))
	if err := b.tr.Transmit(b.txFrame); err != nil {
		b.transportError("transmit", err)
	}
}

func (b *Bus) transportError(op string, err error) {
	b.diag.transport.Inc()
	b.log.Warn("transport", zap.String("op", op), zap.Error(err))
}

func (b *Bus) queueInbound(ch *channel, p packet.Packet) {
	if err := ch.inbound.Put(p); err != nil {
		b.diag.dropped.Inc()
		b.log.Warn("inbound queue full, packet dropped",
			zap.Uint8("channel", uint8(ch.id)),
			zap.Uint8("opcode", p.Opcode))
	}
}
