package bus

import (
	"go.uber.org/zap"

	"rspoll/pkg/packet"
)

// masterIdle picks the next channel in round-robin order on every tick and
// decides whether it is due for a poll or a select.
type masterIdle struct{}

func (*masterIdle) id() StateID { return StateIdle }
func (*masterIdle) enter(*Bus)  {}
func (*masterIdle) exit(b *Bus) { b.sm.timer.clear() }

func (*masterIdle) handle(b *Bus, _ event) {
	id, ok := b.reg.next(b.cur)
	if !ok {
		return
	}
	b.cur = id
	ch := b.reg.get(id)
	now := b.now()

	switch ch.state() {
	case ChannelInit:
		b.jump(StatePoll)
	case ChannelOffline:
		if ch.resync.expired(now) {
			ch.resync.arm(now, b.sched.offlineResync)
			b.jump(StatePoll)
		}
	case ChannelOnline:
		if ch.selectActive && !ch.outbound.IsEmpty() && (!ch.preSelect || !ch.pollActive) {
			ch.preSelect = true
			b.jump(StateSelect)
			return
		}
		ch.preSelect = false
		if ch.pollActive {
			b.jump(StatePoll)
		} else if ch.resync.expired(now) {
			ch.resync.arm(now, b.sched.onlineResync)
			b.jump(StatePoll)
		}
	}
}

type masterPollStep uint8

const (
	masterPollSendDelay masterPollStep = iota
	masterPollSendWait
	masterPollReplyWait
	masterPollSendAckDelay
)

// masterPoll asks the current channel for data and acknowledges what it
// answers.
type masterPoll struct {
	step masterPollStep
}

func (*masterPoll) id() StateID { return StatePoll }

func (p *masterPoll) enter(b *Bus) {
	ch := b.current()
	b.txPacket = packet.Packet{Address: ch.address}
	b.prepare(packet.KindPoll)
	p.step = masterPollSendDelay
	b.sm.timer.arm(b.now(), b.sched.pollDelay)
}

func (*masterPoll) exit(b *Bus) { b.sm.timer.clear() }

func (p *masterPoll) handle(b *Bus, ev event) {
	ch := b.current()
	switch p.step {
	case masterPollSendDelay:
		if ev == evTimeout {
			b.transmit()
			p.step = masterPollSendWait
		}
	case masterPollSendWait:
		if ev == evLoopback {
			b.sm.timer.arm(b.now(), b.sched.replyWait)
			p.step = masterPollReplyWait
		}
	case masterPollReplyWait:
		switch ev {
		case evFrame:
			b.reg.transition(ch, ChannelOnline)
			ch.notRespond = 0
			p.reply(b, ch)
		case evTimeout:
			ch.notRespond++
			if ch.notRespond > b.sched.notRespond {
				b.log.Warn("channel not responding",
					zap.Uint8("channel", uint8(ch.id)),
					zap.Int("polls", ch.notRespond))
				b.reg.transition(ch, ChannelOffline)
			}
			b.jump(StateIdle)
		}
	case masterPollSendAckDelay:
		if ev == evTimeout {
			b.transmit()
			b.sm.timer.arm(b.now(), b.sched.replyWait)
			p.step = masterPollReplyWait
		}
	}
}

// reply answers a frame heard while waiting on a poll. Frames that neither
// end nor carry data leave the reply timer running.
func (p *masterPoll) reply(b *Bus, ch *channel) {
	switch b.rxKind {
	case packet.KindEOT:
		b.jump(StateIdle)
		return
	case packet.KindRespond:
		if b.rxPacket.Address != ch.address {
			b.jump(StateIdle)
			return
		}
		b.diag.messages.Inc()
		b.queueInbound(ch, b.rxPacket)
		b.prepare(packet.KindACK)
	case packet.KindError:
		b.diag.errors.Inc()
		b.prepare(packet.KindNACK)
	default:
		return
	}
	p.step = masterPollSendAckDelay
	b.sm.timer.arm(b.now(), b.sched.replyDelay)
}

type masterSelectStep uint8

const (
	masterSelectSendWait masterSelectStep = iota
	masterSelectReplyAckWait
)

// masterSelect delivers one queued packet to the current channel.
type masterSelect struct {
	step masterSelectStep
}

func (*masterSelect) id() StateID { return StateSelect }

func (s *masterSelect) enter(b *Bus) {
	ch := b.current()
	pkt, ok := ch.outbound.Get()
	if !ok {
		b.jump(StateIdle)
		return
	}
	pkt.Address = ch.address
	b.txPacket = pkt
	ch.retry = 0
	b.prepare(packet.KindSelect)
	b.transmit()
	b.diag.messages.Inc()
	s.step = masterSelectSendWait
}

func (*masterSelect) exit(b *Bus) { b.sm.timer.clear() }

func (s *masterSelect) handle(b *Bus, ev event) {
	switch s.step {
	case masterSelectSendWait:
		if ev == evLoopback {
			b.sm.timer.arm(b.now(), b.sched.replyWait)
			s.step = masterSelectReplyAckWait
		}
	case masterSelectReplyAckWait:
		switch ev {
		case evFrame:
			switch b.rxKind {
			case packet.KindACK:
				b.jump(StateIdle)
			case packet.KindNACK:
				ch := b.current()
				b.diag.errors.Inc()
				ch.retry++
				if ch.retry > b.sched.maxRetry {
					b.log.Warn("select abandoned after retries",
						zap.Uint8("channel", uint8(ch.id)),
						zap.Int("retries", ch.retry-1))
					b.jump(StateIdle)
					return
				}
				b.sm.timer.clear()
				b.transmit()
				s.step = masterSelectSendWait
			}
		case evTimeout:
			b.diag.overruns.Inc()
			b.log.Warn("select not acknowledged", zap.Uint8("channel", uint8(b.cur)))
			b.jump(StateIdle)
		}
	}
}
