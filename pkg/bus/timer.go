package bus

import (
	"errors"
	"fmt"
	"time"
)

// Timing holds the protocol intervals. Durations are converted to whole
// ticks, rounding up.
type Timing struct {
	// Tick is the cadence at which Tick is called.
	Tick time.Duration
	// Silence is the quiet interval (t3.5) that closes a frame.
	Silence time.Duration
	// PollDelay is the guard delay before a master transmits a poll.
	PollDelay time.Duration
	// ReplyWait bounds the wait for an answer after a transmission.
	ReplyWait time.Duration
	// ReplyDelay is the turnaround delay before answering.
	ReplyDelay time.Duration
	// OfflineResync is how often an offline channel is retried.
	OfflineResync time.Duration
	// OnlineResync is the keep-alive interval for channels that are not
	// polled every cycle, and the master-silence timeout on a slave.
	OnlineResync time.Duration

	// NotRespondThreshold is the number of unanswered polls tolerated
	// before a channel goes offline.
	NotRespondThreshold int
	// MaxRetry bounds retransmissions after a NACK.
	MaxRetry int
}

// DefaultTiming returns the intervals used on a 200µs tick.
func DefaultTiming() Timing {
	return Timing{
		Tick:                200 * time.Microsecond,
		Silence:             1 * time.Millisecond,
		PollDelay:           250 * time.Microsecond,
		ReplyWait:           10 * time.Millisecond,
		ReplyDelay:          250 * time.Microsecond,
		OfflineResync:       5 * time.Second,
		OnlineResync:        2 * time.Second,
		NotRespondThreshold: 3,
		MaxRetry:            3,
	}
}

var errTiming = errors.New("bus: invalid timing")

func (t Timing) validate() error {
	if t.Tick <= 0 {
		return fmt.Errorf("%w: tick must be > 0", errTiming)
	}
	for name, d := range map[string]time.Duration{
		"silence":        t.Silence,
		"poll delay":     t.PollDelay,
		"reply wait":     t.ReplyWait,
		"reply delay":    t.ReplyDelay,
		"offline resync": t.OfflineResync,
		"online resync":  t.OnlineResync,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", errTiming, name)
		}
		if d/t.Tick > 1<<30 {
			return fmt.Errorf("%w: %s too long for tick %s", errTiming, name, t.Tick)
		}
	}
	if t.NotRespondThreshold < 0 || t.MaxRetry < 0 {
		return fmt.Errorf("%w: negative count", errTiming)
	}
	return nil
}

func (t Timing) ticks(d time.Duration) uint32 {
	n := d / t.Tick
	if d%t.Tick > 0 {
		n++
	}
	return uint32(n)
}

// schedule is Timing resolved to ticks.
type schedule struct {
	silence       uint32
	pollDelay     uint32
	replyWait     uint32
	replyDelay    uint32
	offlineResync uint32
	onlineResync  uint32
	notRespond    int
	maxRetry      int
}

func (t Timing) schedule() schedule {
	return schedule{
		silence:       t.ticks(t.Silence),
		pollDelay:     t.ticks(t.PollDelay),
		replyWait:     t.ticks(t.ReplyWait),
		replyDelay:    t.ticks(t.ReplyDelay),
		offlineResync: t.ticks(t.OfflineResync),
		onlineResync:  t.ticks(t.OnlineResync),
		notRespond:    t.NotRespondThreshold,
		maxRetry:      t.MaxRetry,
	}
}

// deadline is a tick stamp on the wrapping tick counter. Zero means the
// deadline is not armed.
type deadline uint32

func (d *deadline) arm(now, ticks uint32) {
	v := now + ticks
	if v == 0 {
		v = 1
	}
	*d = deadline(v)
}

func (d *deadline) clear() { *d = 0 }

func (d deadline) armed() bool { return d != 0 }

// expired reports whether now is past the deadline.
func (d deadline) expired(now uint32) bool {
	if d == 0 {
		return false
	}
	return int32(uint32(d)-now) < 0
}
