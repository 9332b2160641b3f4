package main

import (
	"context"
	"errors"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"rspoll/pkg/bus"
	"rspoll/pkg/pcap"
)

var errPipeClosed = errors.New("pipe closed by reader")

type capturedFrame struct {
	rec bus.FrameRecord
	ts  time.Time
}

// capture moves frames from the bus hook to a pcap writer. The hook runs
// inside Bus.Tick, so it never blocks; frames are dropped when the queue
// is full.
type capture struct {
	pw      *pcap.Writer
	frames  chan capturedFrame
	log     *zap.Logger
	written atomic.Uint32
	tx      atomic.Uint32
	rx      atomic.Uint32
	dropped atomic.Uint32
}

func newCapture(pw *pcap.Writer, depth int, log *zap.Logger) *capture {
	return &capture{pw: pw, frames: make(chan capturedFrame, depth), log: log}
}

func (c *capture) hook(r bus.FrameRecord) {
	select {
	case c.frames <- capturedFrame{rec: r, ts: time.Now()}:
	default:
		c.dropped.Inc()
	}
}

func (c *capture) run(ctx context.Context) error {
	for {
		select {
		case f := <-c.frames:
			if err := c.write(f); err != nil {
				return err
			}
		case <-ctx.Done():
			// Flush what the bus produced before it stopped.
			for {
				select {
				case f := <-c.frames:
					if err := c.write(f); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

func (c *capture) write(f capturedFrame) error {
	event := pcap.EventRxStart
	if f.rec.Dir == bus.DirTX {
		event = pcap.EventTxStart
	}
	if err := c.pw.WriteFrame(f.ts, event, f.rec.Data); err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return errPipeClosed
		}
		c.log.Warn("write packet", zap.Error(err))
		return nil
	}
	c.written.Inc()
	if f.rec.Dir == bus.DirTX {
		c.tx.Inc()
	} else {
		c.rx.Inc()
	}
	return nil
}
