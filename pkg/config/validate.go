package config

import (
	"fmt"
	"time"

	"rspoll/pkg/bus"
)

// MaxAddress is the largest address with only device type, mirror and
// physical bits set.
const MaxAddress = 0x3F

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	switch cfg.Station.Role {
	case "master", "slave":
	default:
		return fmt.Errorf("station: role must be master or slave, got %q", cfg.Station.Role)
	}
	if cfg.Station.Address > MaxAddress {
		return fmt.Errorf("station: address 0x%02x above 0x%02x", cfg.Station.Address, MaxAddress)
	}

	if err := validateSerial(&cfg.Serial); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	// ------------------------------------------------------------
	// CHANNELS
	// ------------------------------------------------------------

	switch {
	case len(cfg.Channels) == 0:
		return fmt.Errorf("channels: at least one channel is required")
	case len(cfg.Channels) > bus.MaxChannels:
		return fmt.Errorf("channels: %d configured, at most %d", len(cfg.Channels), bus.MaxChannels)
	case cfg.Station.Role == "slave" && len(cfg.Channels) != 1:
		return fmt.Errorf("channels: a slave has exactly one channel, got %d", len(cfg.Channels))
	}

	names := make(map[string]int)
	addrs := make(map[uint8]int)
	for i, ch := range cfg.Channels {
		if ch.Name != "" {
			if prev, exists := names[ch.Name]; exists {
				return fmt.Errorf("channels[%d]: name %q already used by channels[%d]", i, ch.Name, prev)
			}
			names[ch.Name] = i
		}
		if !ch.Transmit && !ch.Receive {
			return fmt.Errorf("channels[%d]: neither transmit nor receive is enabled", i)
		}
		if cfg.Station.Role == "master" {
			if ch.Address > MaxAddress {
				return fmt.Errorf("channels[%d]: address 0x%02x above 0x%02x", i, ch.Address, MaxAddress)
			}
			if prev, exists := addrs[ch.Address]; exists {
				return fmt.Errorf("channels[%d]: address 0x%02x already used by channels[%d]", i, ch.Address, prev)
			}
			addrs[ch.Address] = i
		}
		if ch.Transmit && !powerOfTwo(ch.TxQueue) {
			return fmt.Errorf("channels[%d]: tx_queue %d is not a power of two", i, ch.TxQueue)
		}
		if ch.Receive && !powerOfTwo(ch.RxQueue) {
			return fmt.Errorf("channels[%d]: rx_queue %d is not a power of two", i, ch.RxQueue)
		}
	}

	switch cfg.Capture.LinkType {
	case "rtac", "user0":
	default:
		return fmt.Errorf("capture: link_type must be rtac or user0, got %q", cfg.Capture.LinkType)
	}
	if cfg.Capture.Pipe && cfg.Capture.Path == "" {
		return fmt.Errorf("capture: pipe needs a path")
	}
	return nil
}

func validateSerial(s *SerialConfig) error {
	if s.Device == "" {
		return fmt.Errorf("device is required")
	}
	if s.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", s.Baud)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("data_bits must be 5..8, got %d", s.DataBits)
	}
	switch s.Parity {
	case "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s.Parity)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("invalid stop bits %d: use 1 or 2", s.StopBits)
	}
	switch s.Direction {
	case "none", "rts":
	case "gpio":
		if s.DEPin == "" {
			return fmt.Errorf("direction gpio needs de_pin")
		}
	default:
		return fmt.Errorf("invalid direction %q: use none, rts, or gpio", s.Direction)
	}
	return nil
}

func validateTiming(t *TimingConfig) error {
	for name, raw := range map[string]string{
		"tick":           t.Tick,
		"silence":        t.Silence,
		"poll_delay":     t.PollDelay,
		"reply_wait":     t.ReplyWait,
		"reply_delay":    t.ReplyDelay,
		"offline_resync": t.OfflineResync,
		"online_resync":  t.OnlineResync,
	} {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if d < 0 || (name == "tick" && d == 0) {
			return fmt.Errorf("%s out of range: %s", name, raw)
		}
	}
	if t.NotRespondThreshold != nil && *t.NotRespondThreshold < 0 {
		return fmt.Errorf("not_respond_threshold must not be negative")
	}
	if t.MaxRetry != nil && *t.MaxRetry < 0 {
		return fmt.Errorf("max_retry must not be negative")
	}
	return nil
}

func powerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
