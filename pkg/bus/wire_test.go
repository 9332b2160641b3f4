package bus

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rspoll/pkg/packet"
)

// testTiming keeps the default short intervals and shrinks the re-sync
// intervals so lifecycle tests finish quickly.
//
//	silence 5 ticks, poll/reply delay 2, reply wait 50,
//	offline resync 100, online resync 500
func testTiming() Timing {
	t := DefaultTiming()
	t.OfflineResync = 20 * time.Millisecond
	t.OnlineResync = 100 * time.Millisecond
	return t
}

type onWire struct {
	from string
	step int
	data []byte
}

// wire is a half-duplex line shared by buses and scripted peers. Every
// frame put on the wire reaches every bus, the sender included.
type wire struct {
	t     *testing.T
	now   int
	buses []*Bus
	peers []*peer
	sent  []onWire
}

func newWire(t *testing.T) *wire { return &wire{t: t} }

func (w *wire) put(from string, frame []byte) {
	w.sent = append(w.sent, onWire{from: from, step: w.now, data: append([]byte(nil), frame...)})
	for _, b := range w.buses {
		for _, c := range frame {
			b.OnByte(c)
		}
	}
	for _, p := range w.peers {
		if p.name != from {
			p.hear(frame)
		}
	}
}

func (w *wire) step() {
	w.now++
	for _, b := range w.buses {
		b.Tick()
	}
	for _, p := range w.peers {
		if p.resp != nil && w.now >= p.due {
			r := p.resp
			p.resp = nil
			w.put(p.name, r)
		}
	}
}

func (w *wire) run(n int) {
	for i := 0; i < n; i++ {
		w.step()
	}
}

// runUntil steps until cond holds and fails the test after max steps.
func (w *wire) runUntil(max int, cond func() bool) {
	w.t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		w.step()
	}
	require.True(w.t, cond(), "condition not met after %d steps", max)
}

// count returns how many frames of kind from sender are on the wire.
func (w *wire) count(from string, kind packet.Kind) int {
	n := 0
	for _, f := range w.sent {
		if f.from != from {
			continue
		}
		if k, _ := packet.Decode(f.data); k == kind {
			n++
		}
	}
	return n
}

func (w *wire) saw(from string, frame []byte) bool {
	for _, f := range w.sent {
		if f.from == from && bytes.Equal(f.data, frame) {
			return true
		}
	}
	return false
}

// port is the Transport of one bus on the wire.
type port struct {
	w      *wire
	name   string
	tx     bool
	failTx error
}

func (p *port) TransmitMode() error { p.tx = true; return nil }
func (p *port) ReceiveMode() error  { p.tx = false; return nil }
func (p *port) ArmReceive() error   { return nil }

func (p *port) Transmit(frame []byte) error {
	if p.failTx != nil {
		return p.failTx
	}
	p.w.put(p.name, frame)
	return nil
}

func (w *wire) station(name string, cfg Config, opts ...Option) (*Bus, *port) {
	w.t.Helper()
	p := &port{w: w, name: name}
	opts = append([]Option{WithTiming(testTiming()), WithLogger(zaptest.NewLogger(w.t).Named(name))}, opts...)
	b, err := New(p, cfg, opts...)
	require.NoError(w.t, err)
	w.buses = append(w.buses, b)
	return b, p
}

// peer is a scripted station that answers whole frames after a fixed
// number of steps.
type peer struct {
	name   string
	delay  int
	answer func(kind packet.Kind, p packet.Packet) []byte
	w      *wire
	due    int
	resp   []byte
	heard  []packet.Kind
}

func (w *wire) peer(name string, delay int, answer func(packet.Kind, packet.Packet) []byte) *peer {
	p := &peer{name: name, delay: delay, answer: answer, w: w}
	w.peers = append(w.peers, p)
	return p
}

func (p *peer) hear(frame []byte) {
	kind, pkt := packet.Decode(frame)
	p.heard = append(p.heard, kind)
	if p.answer == nil {
		return
	}
	if r := p.answer(kind, pkt); r != nil {
		p.resp = r
		p.due = p.w.now + p.delay
	}
}

// answerPolls replies EOT to polls and ignores everything else.
func answerPolls(kind packet.Kind, _ packet.Packet) []byte {
	if kind == packet.KindPoll {
		return []byte{packet.EOT}
	}
	return nil
}

func mustEncode(t *testing.T, kind packet.Kind, p packet.Packet) []byte {
	t.Helper()
	f, err := packet.Encode(kind, p)
	require.NoError(t, err)
	return f
}
