package bus

import (
	"fmt"

	"go.uber.org/zap"
)

type event uint8

const (
	evNone event = iota
	evFrame
	evLoopback
	evInit
	evJump
	evTimeout
)

func (e event) String() string {
	switch e {
	case evNone:
		return "none"
	case evFrame:
		return "frame"
	case evLoopback:
		return "loopback"
	case evInit:
		return "init"
	case evJump:
		return "jump"
	case evTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// StateID names the top-level state of the bus.
type StateID uint8

const (
	StateInit StateID = iota
	StateIdle
	StatePoll
	StateSelect
)

func (s StateID) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StatePoll:
		return "poll"
	case StateSelect:
		return "select"
	default:
		return fmt.Sprintf("StateID(%d)", uint8(s))
	}
}

// state is one role-specific state. A fresh value is created on every
// entry, so sub-state starts at its zero value.
type state interface {
	id() StateID
	enter(b *Bus)
	exit(b *Bus)
	handle(b *Bus, ev event)
}

type machine struct {
	cur     state
	next    StateID
	pending event
	timer   deadline
}

func (b *Bus) newState(id StateID) state {
	switch id {
	case StateIdle:
		if b.role == Master {
			return &masterIdle{}
		}
		return &slaveIdle{}
	case StatePoll:
		if b.role == Master {
			return &masterPoll{}
		}
		return &slavePoll{}
	case StateSelect:
		if b.role == Master {
			return &masterSelect{}
		}
		return &slaveSelect{}
	default:
		return &initState{}
	}
}

// jump requests a move to s on the next tick.
func (b *Bus) jump(s StateID) {
	b.sm.next = s
	b.sm.pending = evJump
}

func (b *Bus) dispatch(ev event) {
	switch ev {
	case evInit:
		b.sm.cur = b.newState(StateInit)
		b.sm.cur.enter(b)
	case evJump:
		if b.sm.next != b.sm.cur.id() {
			b.log.Debug("state", zap.Stringer("from", b.sm.cur.id()), zap.Stringer("to", b.sm.next))
			b.sm.cur.exit(b)
			b.sm.cur = b.newState(b.sm.next)
			b.sm.cur.enter(b)
		}
	}
	b.sm.cur.handle(b, ev)
}

// initState waits for one quiet interval before the station takes part.
type initState struct{}

func (*initState) id() StateID  { return StateInit }
func (*initState) enter(b *Bus) { b.sm.timer.arm(b.now(), b.sched.silence) }
func (*initState) exit(b *Bus)  { b.sm.timer.clear() }
func (*initState) handle(b *Bus, ev event) {
	if ev == evFrame || ev == evTimeout {
		b.jump(StateIdle)
	}
}
