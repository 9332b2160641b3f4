// Package serialport drives an RS-485 transceiver through a serial device.
// It implements bus.Transport: the driver is enabled for transmission by
// the RTS line or a GPIO pin, and every received byte is handed to a sink.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Direction control modes.
const (
	DirectionNone = "none"
	DirectionRTS  = "rts"
	DirectionGPIO = "gpio"
)

const defaultReadTimeout = 10 * time.Millisecond

// Config describes the device and its transceiver wiring.
type Config struct {
	Device   string
	Baud     int
	DataBits int
	Parity   string
	StopBits int

	// Direction is DirectionNone, DirectionRTS or DirectionGPIO.
	Direction string
	// DEPin names the GPIO driving DE/RE when Direction is DirectionGPIO.
	DEPin string
	// ActiveLow inverts the direction line.
	ActiveLow bool
	// LocalEcho feeds transmitted bytes back to the sink, for adapters
	// that do not receive their own transmission.
	LocalEcho bool
	// ReadTimeout bounds a single read so Run notices cancellation.
	ReadTimeout time.Duration
}

// Line is the part of serial.Port used here.
type Line interface {
	io.ReadWriteCloser
	Drain() error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
}

// OutPin is the part of gpio.PinOut used here.
type OutPin interface {
	Out(l gpio.Level) error
}

// Port is an RS-485 transport on a serial line.
type Port struct {
	line      Line
	cfg       Config
	pin       OutPin
	log       *zap.Logger
	mu        sync.Mutex
	sink      func(byte)
	closeOnce sync.Once
}

// Option configures a Port.
type Option func(*Port)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Port) { p.log = l }
}

// WithPin uses pin for direction control instead of looking up DEPin.
func WithPin(pin OutPin) Option {
	return func(p *Port) { p.pin = pin }
}

// Open opens the serial device described by cfg.
func Open(cfg Config, opts ...Option) (*Port, error) {
	parity, err := ParseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}
	stop, err := ParseStopBits(cfg.StopBits)
	if err != nil {
		return nil, err
	}
	sp, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   parity,
		StopBits: stop,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	p, err := New(sp, cfg, opts...)
	if err != nil {
		_ = sp.Close()
		return nil, err
	}
	return p, nil
}

// New wraps an open line.
func New(line Line, cfg Config, opts ...Option) (*Port, error) {
	p := &Port{line: line, cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	if p.cfg.ReadTimeout <= 0 {
		p.cfg.ReadTimeout = defaultReadTimeout
	}
	if err := line.SetReadTimeout(p.cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	switch cfg.Direction {
	case "", DirectionNone, DirectionRTS:
	case DirectionGPIO:
		if p.pin == nil {
			pin, err := lookupPin(cfg.DEPin)
			if err != nil {
				return nil, err
			}
			p.pin = pin
		}
	default:
		return nil, fmt.Errorf("invalid direction %q: use none, rts, or gpio", cfg.Direction)
	}
	if err := p.ReceiveMode(); err != nil {
		return nil, err
	}
	return p, nil
}

func lookupPin(name string) (OutPin, error) {
	if name == "" {
		return nil, errors.New("gpio direction needs a pin name")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", name)
	}
	return pin, nil
}

// setDirection drives the transceiver: transmit enables the line driver.
func (p *Port) setDirection(transmit bool) error {
	level := transmit != p.cfg.ActiveLow
	switch p.cfg.Direction {
	case DirectionRTS:
		return p.line.SetRTS(level)
	case DirectionGPIO:
		return p.pin.Out(gpio.Level(level))
	}
	return nil
}

// TransmitMode enables the line driver.
func (p *Port) TransmitMode() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setDirection(true)
}

// ReceiveMode releases the line.
func (p *Port) ReceiveMode() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setDirection(false)
}

// Transmit writes frame. With LocalEcho the frame is handed to the sink
// once the device has sent it.
func (p *Port) Transmit(frame []byte) error {
	if _, err := p.line.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if !p.cfg.LocalEcho {
		return nil
	}
	if err := p.line.Drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		for _, c := range frame {
			sink(c)
		}
	}
	return nil
}

// ArmReceive is a no-op; the reader goroutine is always receiving.
func (p *Port) ArmReceive() error { return nil }

// Run reads the line and passes every byte to sink until ctx is done or
// the line fails.
func (p *Port) Run(ctx context.Context, sink func(byte)) error {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()

	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.line.Read(buf)
		for _, c := range buf[:n] {
			sink(c)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

// Close releases the direction line and closes the device.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if derr := p.ReceiveMode(); derr != nil {
			p.log.Warn("release direction line", zap.Error(derr))
		}
		err = p.line.Close()
	})
	return err
}
