package bus

import "go.uber.org/atomic"

// Diagnostics is a snapshot of the bus counters.
type Diagnostics struct {
	// Messages counts data packets sent or accepted.
	Messages uint32
	// Errors counts checksum failures and NACKs.
	Errors uint32
	// Overruns counts select exchanges abandoned without an answer.
	Overruns uint32
	// Dropped counts inbound packets lost to a full queue.
	Dropped uint32
	// RxOverflow counts bytes discarded because a frame exceeded the buffer.
	RxOverflow uint32
	// TransportErrors counts failed transport calls.
	TransportErrors uint32
}

type counters struct {
	messages   atomic.Uint32
	errors     atomic.Uint32
	overruns   atomic.Uint32
	dropped    atomic.Uint32
	rxOverflow atomic.Uint32
	transport  atomic.Uint32
}

func (c *counters) snapshot() Diagnostics {
	return Diagnostics{
		Messages:        c.messages.Load(),
		Errors:          c.errors.Load(),
		Overruns:        c.overruns.Load(),
		Dropped:         c.dropped.Load(),
		RxOverflow:      c.rxOverflow.Load(),
		TransportErrors: c.transport.Load(),
	}
}
