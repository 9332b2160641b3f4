// Package config loads the rspoll daemon configuration from YAML or TOML.
package config

type Config struct {
	Station  StationConfig   `yaml:"station" toml:"station"`
	Serial   SerialConfig    `yaml:"serial" toml:"serial"`
	Timing   TimingConfig    `yaml:"timing" toml:"timing"`
	Channels []ChannelConfig `yaml:"channels" toml:"channels"`
	Capture  CaptureConfig   `yaml:"capture" toml:"capture"`
}

// ---- STATION ----

type StationConfig struct {
	Role    string `yaml:"role" toml:"role"` // master | slave
	Address uint8  `yaml:"address" toml:"address"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Device   string `yaml:"device" toml:"device"`
	Baud     int    `yaml:"baud" toml:"baud"`
	DataBits int    `yaml:"data_bits" toml:"data_bits"`
	Parity   string `yaml:"parity" toml:"parity"`
	StopBits int    `yaml:"stop_bits" toml:"stop_bits"`

	// Transceiver direction control: none | rts | gpio
	Direction string `yaml:"direction" toml:"direction"`
	DEPin     string `yaml:"de_pin" toml:"de_pin"`
	ActiveLow bool   `yaml:"active_low" toml:"active_low"`
	LocalEcho bool   `yaml:"local_echo" toml:"local_echo"`
}

// ---- TIMING ----

// TimingConfig holds Go duration strings ("200us", "10ms"). Empty fields
// take the bus defaults; an empty silence is 3.5 character times.
type TimingConfig struct {
	Tick          string `yaml:"tick" toml:"tick"`
	Silence       string `yaml:"silence" toml:"silence"`
	PollDelay     string `yaml:"poll_delay" toml:"poll_delay"`
	ReplyWait     string `yaml:"reply_wait" toml:"reply_wait"`
	ReplyDelay    string `yaml:"reply_delay" toml:"reply_delay"`
	OfflineResync string `yaml:"offline_resync" toml:"offline_resync"`
	OnlineResync  string `yaml:"online_resync" toml:"online_resync"`

	NotRespondThreshold *int `yaml:"not_respond_threshold" toml:"not_respond_threshold"`
	MaxRetry            *int `yaml:"max_retry" toml:"max_retry"`
}

// ---- CHANNELS ----

type ChannelConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Address  uint8  `yaml:"address" toml:"address"`
	Transmit bool   `yaml:"transmit" toml:"transmit"`
	Receive  bool   `yaml:"receive" toml:"receive"`
	TxQueue  int    `yaml:"tx_queue" toml:"tx_queue"`
	RxQueue  int    `yaml:"rx_queue" toml:"rx_queue"`
}

// ---- CAPTURE ----

type CaptureConfig struct {
	Path      string `yaml:"path" toml:"path"`
	Pipe      bool   `yaml:"pipe" toml:"pipe"`
	BigEndian bool   `yaml:"big_endian" toml:"big_endian"`
	LinkType  string `yaml:"link_type" toml:"link_type"` // rtac | user0
}
