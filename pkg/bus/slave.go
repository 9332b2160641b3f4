package bus

import (
	"go.uber.org/zap"

	"rspoll/pkg/packet"
)

// A slave has a single channel, slot 0, standing for the master.
const slaveChannel ChannelID = 0

type slaveIdle struct{}

func (*slaveIdle) id() StateID { return StateIdle }
func (*slaveIdle) enter(*Bus)  {}
func (*slaveIdle) exit(b *Bus) { b.sm.timer.clear() }
func (*slaveIdle) handle(b *Bus, _ event) {
	b.current().resync.arm(b.now(), b.sched.onlineResync)
	b.jump(StateSelect)
}

type slaveSelectStep uint8

const (
	slaveSelectReceiveWait slaveSelectStep = iota
	slaveSelectSendAckDelay
)

// slaveSelect listens for frames addressed to this station.
type slaveSelect struct {
	step slaveSelectStep
}

func (*slaveSelect) id() StateID { return StateSelect }
func (*slaveSelect) enter(*Bus)  {}
func (*slaveSelect) exit(b *Bus) { b.sm.timer.clear() }

func (s *slaveSelect) handle(b *Bus, ev event) {
	ch := b.current()
	now := b.now()
	if ch.state() != ChannelOffline && ch.resync.expired(now) {
		b.log.Warn("no poll from master", zap.Uint8("address", b.address))
		b.reg.transition(ch, ChannelOffline)
	}

	switch s.step {
	case slaveSelectReceiveWait:
		if ev == evFrame {
			s.receive(b, ch)
		}
	case slaveSelectSendAckDelay:
		switch ev {
		case evTimeout:
			b.transmit()
			s.step = slaveSelectReceiveWait
		case evFrame:
			// The master moved on before we answered.
			b.sm.timer.clear()
			s.step = slaveSelectReceiveWait
		}
	}
}

func (s *slaveSelect) receive(b *Bus, ch *channel) {
	m := packet.Validate(b.address, b.rxPacket.Address)
	if !m.Addressed() {
		return
	}
	now := b.now()
	switch b.rxKind {
	case packet.KindPoll:
		if m.Reply {
			b.reg.transition(ch, ChannelOnline)
			ch.resync.arm(now, b.sched.onlineResync)
			b.jump(StatePoll)
		}
	case packet.KindSelect:
		b.diag.messages.Inc()
		b.queueInbound(ch, b.rxPacket)
		if m.Reply {
			b.prepare(packet.KindACK)
			s.step = slaveSelectSendAckDelay
			b.sm.timer.arm(now, b.sched.replyDelay)
		}
	case packet.KindError:
		if m.Reply {
			b.diag.errors.Inc()
			b.prepare(packet.KindNACK)
			s.step = slaveSelectSendAckDelay
			b.sm.timer.arm(now, b.sched.replyDelay)
		}
	}
}

type slavePollStep uint8

const (
	slavePollSendDelay slavePollStep = iota
	slavePollSendWait
	slavePollReplyWait
	slavePollSendAckDelay
	slavePollSendAckWait
)

// slavePoll answers a poll with queued data, or with EOT when there is none.
type slavePoll struct {
	step slavePollStep
}

func (*slavePoll) id() StateID { return StatePoll }

func (p *slavePoll) enter(b *Bus) {
	ch := b.current()
	if ch.pollActive {
		if pkt, ok := ch.outbound.Get(); ok {
			pkt.Address = b.address
			b.txPacket = pkt
			ch.retry = 0
			b.prepare(packet.KindRespond)
			b.diag.messages.Inc()
			p.step = slavePollSendDelay
			b.sm.timer.arm(b.now(), b.sched.replyDelay)
			return
		}
	}
	p.sendEOT(b)
}

func (*slavePoll) exit(b *Bus) { b.sm.timer.clear() }

func (p *slavePoll) sendEOT(b *Bus) {
	b.prepare(packet.KindEOT)
	p.step = slavePollSendAckDelay
	b.sm.timer.arm(b.now(), b.sched.replyDelay)
}

func (p *slavePoll) handle(b *Bus, ev event) {
	switch p.step {
	case slavePollSendDelay:
		if ev == evTimeout {
			b.transmit()
			p.step = slavePollSendWait
		}
	case slavePollSendWait:
		if ev == evLoopback {
			b.sm.timer.arm(b.now(), b.sched.replyWait)
			p.step = slavePollReplyWait
		}
	case slavePollReplyWait:
		switch ev {
		case evFrame:
			b.sm.timer.clear()
			p.reply(b)
		case evTimeout:
			b.current().notRespond++
			b.jump(StateSelect)
		}
	case slavePollSendAckDelay:
		switch ev {
		case evTimeout:
			b.transmit()
			p.step = slavePollSendAckWait
		case evFrame:
			b.jump(StateSelect)
		}
	case slavePollSendAckWait:
		if ev == evFrame || ev == evLoopback || ev == evTimeout {
			b.jump(StateSelect)
		}
	}
}

func (p *slavePoll) reply(b *Bus) {
	ch := b.current()
	switch b.rxKind {
	case packet.KindACK:
		ch.notRespond = 0
		p.sendEOT(b)
	case packet.KindNACK:
		b.diag.errors.Inc()
		ch.retry++
		if ch.retry > b.sched.maxRetry {
			b.log.Warn("respond abandoned after retries", zap.Int("retries", ch.retry-1))
			p.sendEOT(b)
			return
		}
		b.transmit()
		p.step = slavePollSendWait
	case packet.KindPoll, packet.KindSelect, packet.KindRespond:
		b.jump(StateSelect)
	}
}
