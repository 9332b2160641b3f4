package bus

import (
	"sync"

	"rspoll/pkg/packet"
)

// rxHandoff collects bytes from the receive path and hands a complete frame
// to the tick once the line has been quiet for the silence interval. Two
// buffers alternate so the tick can read one frame while the next fills.
type rxHandoff struct {
	mu       sync.Mutex
	bufs     [2][packet.MaxFrameLen]byte
	active   int
	n        int
	silence  deadline
	loopback bool // the pending frame is our own echo
}

// push appends b and restarts the silence deadline. It reports false when
// the frame buffer is full and b was dropped.
func (r *rxHandoff) push(b byte, now, silence uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silence.arm(now, silence)
	if r.n >= packet.MaxFrameLen {
		return false
	}
	r.bufs[r.active][r.n] = b
	r.n++
	return true
}

// expectEcho marks the bytes about to arrive as our own transmission.
func (r *rxHandoff) expectEcho(now, silence uint32) {
	r.mu.Lock()
	r.loopback = true
	r.silence.arm(now, silence)
	r.mu.Unlock()
}

// reset discards partial input and waits one silence interval.
func (r *rxHandoff) reset(now, silence uint32) {
	r.mu.Lock()
	r.n = 0
	r.loopback = false
	r.silence.arm(now, silence)
	r.mu.Unlock()
}

// take returns the buffered frame once the silence deadline has passed.
// The returned slice stays valid until the next call to take.
func (r *rxHandoff) take(now uint32) (frame []byte, loopback, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.silence.expired(now) {
		return nil, false, false
	}
	r.silence.clear()
	frame = r.bufs[r.active][:r.n]
	loopback = r.loopback
	r.active ^= 1
	r.n = 0
	r.loopback = false
	return frame, loopback, true
}
