package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rspoll/pkg/bus"
	"rspoll/pkg/pcap"
)

const masterYAML = `
station:
  role: Master
  address: 0x00
serial:
  device: /dev/ttyUSB0
  baud: 9600
  parity: even
timing:
  reply_wait: 20ms
  max_retry: 5
channels:
  - name: meter
    address: 0x01
    transmit: true
    receive: true
  - name: valve
    address: 0x12
    transmit: true
    tx_queue: 16
capture:
  path: bus.pcap
`

const slaveTOML = `
[station]
role = "slave"
address = 0x09

[serial]
device = "/dev/ttyAMA0"
direction = "gpio"
de_pin = "GPIO17"
local_echo = true

[timing]
tick = "500us"
silence = "2ms"

[[channels]]
receive = true
rx_queue = 4

[capture]
link_type = "user0"
big_endian = true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeFile(t, "rspoll.yaml", masterYAML))
	require.NoError(t, err)

	assert.Equal(t, bus.Config{Role: bus.Master, Address: 0x00}, cfg.BusConfig())
	assert.Equal(t, "rts", cfg.Serial.Direction)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 1, cfg.Serial.StopBits)

	assert.Equal(t, []bus.ChannelConfig{
		{Address: 0x01, Transmit: true, Receive: true, TxQueue: DefaultQueue, RxQueue: DefaultQueue},
		{Address: 0x12, Transmit: true, TxQueue: 16},
	}, cfg.BusChannels())

	tm, err := cfg.BusTiming()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, tm.ReplyWait)
	assert.Equal(t, 5, tm.MaxRetry)
	assert.Equal(t, 3, tm.NotRespondThreshold)
	// 8E1 at 9600: 11 bits per char, 3.5 chars.
	assert.InDelta(t, 3.5*11*float64(time.Second)/9600, float64(tm.Silence), float64(time.Microsecond))

	order, lt := cfg.CaptureFormat()
	assert.Equal(t, binary.LittleEndian, order)
	assert.Equal(t, pcap.DLTRTACSer, lt)
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeFile(t, "rspoll.toml", slaveTOML))
	require.NoError(t, err)

	assert.Equal(t, bus.Config{Role: bus.Slave, Address: 0x09}, cfg.BusConfig())
	sp := cfg.SerialPort()
	assert.Equal(t, "/dev/ttyAMA0", sp.Device)
	assert.Equal(t, "gpio", sp.Direction)
	assert.Equal(t, "GPIO17", sp.DEPin)
	assert.True(t, sp.LocalEcho)
	assert.Equal(t, DefaultBaud, sp.Baud)

	tm, err := cfg.BusTiming()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Microsecond, tm.Tick)
	assert.Equal(t, 2*time.Millisecond, tm.Silence)

	order, lt := cfg.CaptureFormat()
	assert.Equal(t, binary.BigEndian, order)
	assert.Equal(t, pcap.DLTUser0, lt)
}

func TestReplyWaitCoversLongestRespond(t *testing.T) {
	t.Parallel()
	cfg := &Config{Serial: SerialConfig{Baud: 9600, DataBits: 8, StopBits: 1, Parity: "none"}}
	tm, err := cfg.BusTiming()
	require.NoError(t, err)
	// 8N1 at 9600: 10 bits per char, 55 chars plus 3.5 chars of silence.
	want := tm.ReplyDelay + time.Duration(58.5*10*float64(time.Second)/9600)
	assert.InDelta(t, float64(want), float64(tm.ReplyWait), float64(100*time.Microsecond))

	cfg.Serial.Baud = 115200
	tm, err = cfg.BusTiming()
	require.NoError(t, err)
	assert.Equal(t, bus.DefaultTiming().ReplyWait, tm.ReplyWait)

	cfg.Serial.Baud = 9600
	cfg.Timing.ReplyWait = "5ms"
	tm, err = cfg.BusTiming()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, tm.ReplyWait)
}

func TestSilenceNeverBelowTick(t *testing.T) {
	t.Parallel()
	cfg := &Config{Serial: SerialConfig{Baud: 1000000, DataBits: 8, StopBits: 1, Parity: "none"}}
	tm, err := cfg.BusTiming()
	require.NoError(t, err)
	assert.Equal(t, tm.Tick, tm.Silence)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "bad.yaml", masterYAML+"bogus: 1\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", strings.Replace(slaveTOML, "[capture]", "[capture]\nbogus = 1", 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture.bogus")
}

func TestLoadRejectsExtension(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "rspoll.json", "{}"))
	require.ErrorIs(t, err, ErrFormat)
}

func validMaster() *Config {
	cfg := &Config{
		Station: StationConfig{Role: "master"},
		Serial:  SerialConfig{Device: "/dev/ttyUSB0"},
		Channels: []ChannelConfig{
			{Address: 0x01, Transmit: true, Receive: true},
		},
	}
	Normalize(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(validMaster()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no role", func(c *Config) { c.Station.Role = "" }, "role"},
		{"station address", func(c *Config) { c.Station.Address = 0x40 }, "address"},
		{"no device", func(c *Config) { c.Serial.Device = "" }, "device"},
		{"data bits", func(c *Config) { c.Serial.DataBits = 9 }, "data_bits"},
		{"parity", func(c *Config) { c.Serial.Parity = "odd-ish" }, "parity"},
		{"stop bits", func(c *Config) { c.Serial.StopBits = 3 }, "stop bits"},
		{"gpio without pin", func(c *Config) { c.Serial.Direction = "gpio" }, "de_pin"},
		{"bad duration", func(c *Config) { c.Timing.ReplyWait = "soon" }, "reply_wait"},
		{"zero tick", func(c *Config) { c.Timing.Tick = "0s" }, "tick"},
		{"negative retry", func(c *Config) { n := -1; c.Timing.MaxRetry = &n }, "max_retry"},
		{"no channels", func(c *Config) { c.Channels = nil }, "at least one"},
		{"too many channels", func(c *Config) {
			c.Channels = make([]ChannelConfig, bus.MaxChannels+1)
		}, "at most"},
		{"slave with two channels", func(c *Config) {
			c.Station.Role = "slave"
			c.Channels = append(c.Channels, c.Channels[0])
		}, "exactly one"},
		{"idle channel", func(c *Config) { c.Channels[0].Transmit, c.Channels[0].Receive = false, false }, "neither"},
		{"duplicate address", func(c *Config) {
			c.Channels = append(c.Channels, ChannelConfig{Address: 0x01, Receive: true, RxQueue: 2})
		}, "already used"},
		{"queue size", func(c *Config) { c.Channels[0].TxQueue = 6 }, "power of two"},
		{"link type", func(c *Config) { c.Capture.LinkType = "ether" }, "link_type"},
		{"pipe without path", func(c *Config) { c.Capture.Pipe = true }, "pipe"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validMaster()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Station:  StationConfig{Role: " SLAVE "},
		Serial:   SerialConfig{Parity: "Even", Direction: "GPIO"},
		Channels: []ChannelConfig{{Transmit: true}},
	}
	Normalize(cfg)
	assert.Equal(t, "slave", cfg.Station.Role)
	assert.Equal(t, DefaultBaud, cfg.Serial.Baud)
	assert.Equal(t, "even", cfg.Serial.Parity)
	assert.Equal(t, "gpio", cfg.Serial.Direction)
	assert.Equal(t, DefaultQueue, cfg.Channels[0].TxQueue)
	assert.Zero(t, cfg.Channels[0].RxQueue)
	assert.Equal(t, "rtac", cfg.Capture.LinkType)

	Normalize(nil)
}
