package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"rspoll/pkg/fifo"
	"rspoll/pkg/packet"
)

// MaxChannels is the number of channel slots on a bus.
const MaxChannels = 32

// ChannelID identifies a channel slot. IDs are stable for the life of the bus.
type ChannelID uint8

// InvalidChannel is never returned by CreateChannel.
const InvalidChannel ChannelID = MaxChannels

// ChannelState is the liveness of a channel.
type ChannelState uint8

const (
	ChannelInit ChannelState = iota
	ChannelOffline
	ChannelOnline
	// ChannelNone is reported for an unknown channel.
	ChannelNone
)

const (
	lifecycleInit    = "init"
	lifecycleOffline = "offline"
	lifecycleOnline  = "online"
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInit:
		return lifecycleInit
	case ChannelOffline:
		return lifecycleOffline
	case ChannelOnline:
		return lifecycleOnline
	case ChannelNone:
		return "none"
	default:
		return fmt.Sprintf("ChannelState(%d)", uint8(s))
	}
}

// ChannelConfig describes a channel from the point of view of this station.
type ChannelConfig struct {
	// Address of the peer. On a slave it is ignored; the station address is used.
	Address byte
	// Transmit enables sending data to the peer.
	Transmit bool
	// Receive enables accepting data from the peer.
	Receive bool
	// TxQueue and RxQueue are the queue capacities. They must be powers of
	// two and are required for an enabled direction.
	TxQueue int
	RxQueue int
}

type channel struct {
	used    bool
	id      ChannelID
	address byte

	// pollActive means the master polls this channel every cycle. On a
	// master it follows Receive, on a slave it follows Transmit.
	pollActive bool
	// selectActive means the master may select this channel with data.
	selectActive bool

	outbound *fifo.Ring[packet.Packet]
	inbound  *fifo.Ring[packet.Packet]

	lifecycle  *fsm.FSM
	notRespond int
	retry      int
	preSelect  bool
	resync     deadline
}

func (c *channel) state() ChannelState {
	switch c.lifecycle.Current() {
	case lifecycleOffline:
		return ChannelOffline
	case lifecycleOnline:
		return ChannelOnline
	default:
		return ChannelInit
	}
}

type registry struct {
	slots [MaxChannels]channel
	count int
	clock func() uint32
	sched *schedule
	log   *zap.Logger
}

func queueFor(enabled bool, capacity int) (*fifo.Ring[packet.Packet], error) {
	if !enabled {
		capacity = 0
	} else if capacity == 0 {
		return nil, fmt.Errorf("%w: enabled direction needs a queue", ErrQueueCapacity)
	}
	q, err := fifo.New[packet.Packet](capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueCapacity, err)
	}
	return q, nil
}

func (r *registry) create(role Role, cfg ChannelConfig) (ChannelID, error) {
	slot := -1
	for i := range r.slots {
		if !r.slots[i].used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return InvalidChannel, ErrRegistryFull
	}

	out, err := queueFor(cfg.Transmit, cfg.TxQueue)
	if err != nil {
		return InvalidChannel, fmt.Errorf("transmit queue: %w", err)
	}
	in, err := queueFor(cfg.Receive, cfg.RxQueue)
	if err != nil {
		return InvalidChannel, fmt.Errorf("receive queue: %w", err)
	}

	ch := &r.slots[slot]
	*ch = channel{
		used:     true,
		id:       ChannelID(slot),
		address:  cfg.Address,
		outbound: out,
		inbound:  in,
	}
	if role == Master {
		ch.pollActive, ch.selectActive = cfg.Receive, cfg.Transmit
	} else {
		ch.pollActive, ch.selectActive = cfg.Transmit, cfg.Receive
	}
	ch.lifecycle = r.lifecycle(ch)
	r.count++
	return ch.id, nil
}

func (r *registry) lifecycle(ch *channel) *fsm.FSM {
	all := []string{lifecycleInit, lifecycleOffline, lifecycleOnline}
	return fsm.NewFSM(
		lifecycleInit,
		fsm.Events{
			{Name: lifecycleOffline, Src: all, Dst: lifecycleOffline},
			{Name: lifecycleOnline, Src: all, Dst: lifecycleOnline},
		},
		fsm.Callbacks{
			"enter_" + lifecycleOffline: func(_ context.Context, _ *fsm.Event) {
				ch.resync.arm(r.clock(), r.sched.offlineResync)
			},
			"enter_" + lifecycleOnline: func(_ context.Context, _ *fsm.Event) {
				if ch.pollActive {
					ch.resync.clear()
				} else {
					ch.resync.arm(r.clock(), r.sched.onlineResync)
				}
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.log.Info("channel state",
					zap.Uint8("channel", uint8(ch.id)),
					zap.Uint8("address", ch.address),
					zap.String("from", e.Src),
					zap.String("to", e.Dst))
			},
		},
	)
}

func (r *registry) get(id ChannelID) *channel {
	if id >= MaxChannels || !r.slots[id].used {
		return nil
	}
	return &r.slots[id]
}

// next returns the first occupied slot after cur, wrapping around. cur
// itself is visited last.
func (r *registry) next(cur ChannelID) (ChannelID, bool) {
	i := int(cur)
	for n := 0; n < MaxChannels; n++ {
		i++
		if i >= MaxChannels {
			i = 0
		}
		if r.slots[i].used {
			return ChannelID(i), true
		}
	}
	return InvalidChannel, false
}

// transition moves ch to state s. Moving to the current state does nothing.
func (r *registry) transition(ch *channel, s ChannelState) {
	if s != ChannelOffline && s != ChannelOnline {
		return
	}
	err := ch.lifecycle.Event(context.Background(), s.String())
	var same fsm.NoTransitionError
	if err != nil && !errors.As(err, &same) {
		r.log.Warn("channel transition failed", zap.Uint8("channel", uint8(ch.id)), zap.Error(err))
	}
}
