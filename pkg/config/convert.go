package config

import (
	"encoding/binary"
	"fmt"
	"time"

	"rspoll/pkg/bus"
	"rspoll/pkg/packet"
	"rspoll/pkg/pcap"
	"rspoll/pkg/serialport"
)

// BusConfig returns the station identity.
func (c *Config) BusConfig() bus.Config {
	role := bus.Master
	if c.Station.Role == "slave" {
		role = bus.Slave
	}
	return bus.Config{Role: role, Address: c.Station.Address}
}

// BusTiming resolves the timing section against the bus defaults. An unset
// silence is 3.5 character times at the configured line settings, but never
// shorter than one tick. An unset reply wait is stretched to cover the
// longest RESPOND frame at the configured baud rate.
func (c *Config) BusTiming() (bus.Timing, error) {
	t := bus.DefaultTiming()
	s := c.Serial
	t.Silence = serialport.Silence(s.Baud, s.DataBits, s.StopBits, s.Parity)

	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{c.Timing.Tick, &t.Tick},
		{c.Timing.Silence, &t.Silence},
		{c.Timing.PollDelay, &t.PollDelay},
		{c.Timing.ReplyWait, &t.ReplyWait},
		{c.Timing.ReplyDelay, &t.ReplyDelay},
		{c.Timing.OfflineResync, &t.OfflineResync},
		{c.Timing.OnlineResync, &t.OnlineResync},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return bus.Timing{}, fmt.Errorf("timing: %w", err)
		}
		*f.dst = d
	}
	if c.Timing.Silence == "" && t.Silence < t.Tick {
		t.Silence = t.Tick
	}
	if c.Timing.ReplyWait == "" && s.Baud > 0 {
		frame := time.Duration(packet.MaxRespondLen) * serialport.CharTime(s.Baud, s.DataBits, s.StopBits, s.Parity)
		if floor := t.ReplyDelay + frame + t.Silence; t.ReplyWait < floor {
			t.ReplyWait = floor
		}
	}
	if c.Timing.NotRespondThreshold != nil {
		t.NotRespondThreshold = *c.Timing.NotRespondThreshold
	}
	if c.Timing.MaxRetry != nil {
		t.MaxRetry = *c.Timing.MaxRetry
	}
	return t, nil
}

// BusChannels maps the channel list in order; slot i is channel i.
func (c *Config) BusChannels() []bus.ChannelConfig {
	out := make([]bus.ChannelConfig, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = bus.ChannelConfig{
			Address:  ch.Address,
			Transmit: ch.Transmit,
			Receive:  ch.Receive,
		}
		if ch.Transmit {
			out[i].TxQueue = ch.TxQueue
		}
		if ch.Receive {
			out[i].RxQueue = ch.RxQueue
		}
	}
	return out
}

// SerialPort returns the serial transport settings.
func (c *Config) SerialPort() serialport.Config {
	s := c.Serial
	return serialport.Config{
		Device:    s.Device,
		Baud:      s.Baud,
		DataBits:  s.DataBits,
		Parity:    s.Parity,
		StopBits:  s.StopBits,
		Direction: s.Direction,
		DEPin:     s.DEPin,
		ActiveLow: s.ActiveLow,
		LocalEcho: s.LocalEcho,
	}
}

// CaptureFormat returns the pcap byte order and link type.
func (c *Config) CaptureFormat() (binary.ByteOrder, uint32) {
	var order binary.ByteOrder = binary.LittleEndian
	if c.Capture.BigEndian {
		order = binary.BigEndian
	}
	if c.Capture.LinkType == "user0" {
		return order, pcap.DLTUser0
	}
	return order, pcap.DLTRTACSer
}
