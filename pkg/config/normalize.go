package config

import "strings"

const (
	DefaultBaud     = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultQueue    = 8
)

// Normalize fills defaults and canonicalises names. It runs before
// Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Station.Role = strings.ToLower(strings.TrimSpace(cfg.Station.Role))

	s := &cfg.Serial
	s.Device = strings.TrimSpace(s.Device)
	if s.Baud == 0 {
		s.Baud = DefaultBaud
	}
	if s.DataBits == 0 {
		s.DataBits = DefaultDataBits
	}
	if s.StopBits == 0 {
		s.StopBits = DefaultStopBits
	}
	s.Parity = strings.ToLower(strings.TrimSpace(s.Parity))
	if s.Parity == "" {
		s.Parity = "none"
	}
	s.Direction = strings.ToLower(strings.TrimSpace(s.Direction))
	if s.Direction == "" {
		s.Direction = "rts"
	}

	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		ch.Name = strings.TrimSpace(ch.Name)
		if ch.Transmit && ch.TxQueue == 0 {
			ch.TxQueue = DefaultQueue
		}
		if ch.Receive && ch.RxQueue == 0 {
			ch.RxQueue = DefaultQueue
		}
	}

	c := &cfg.Capture
	c.LinkType = strings.ToLower(strings.TrimSpace(c.LinkType))
	if c.LinkType == "" {
		c.LinkType = "rtac"
	}
}
