// Package packet implements the poll/select wire format: control-byte
// framing with an XOR block check, frame classification, and the
// bit-packed station address.
package packet

// Control characters used on the wire.
const (
	STX  byte = 0x02 // start of text
	ETX  byte = 0x03 // end of text
	EOT  byte = 0x04 // end of transmission
	POL  byte = 0x05 // poll request
	ACK  byte = 0x06 // positive acknowledge
	NACK byte = 0x15 // negative acknowledge
)

const (
	// MaxPayload is the largest payload a single packet may carry.
	MaxPayload = 50

	// MaxFrameLen is the largest frame the receiver accepts.
	MaxFrameLen = 256

	// MaxRespondLen is the longest RESPOND frame: STX addr op payload ETX bcc.
	MaxRespondLen = MaxPayload + 5
)

// Packet is one addressed unit of opaque data.
type Packet struct {
	Address byte
	Opcode  byte
	Payload []byte
}

// Clone returns a copy that does not share the payload backing array.
func (p Packet) Clone() Packet {
	if p.Payload != nil {
		p.Payload = append([]byte(nil), p.Payload...)
	}
	return p
}

// Kind classifies a frame on the wire.
type Kind uint8

const (
	KindACK Kind = iota
	KindNACK
	KindEOT
	KindPoll
	KindSelect
	KindRespond
	KindError // checksum mismatch on a select frame
	KindNone  // malformed or incomplete; ignored by the receiver
)

func (k Kind) String() string {
	switch k {
	case KindACK:
		return "ACK"
	case KindNACK:
		return "NACK"
	case KindEOT:
		return "EOT"
	case KindPoll:
		return "POLL"
	case KindSelect:
		return "SELECT"
	case KindRespond:
		return "RESPOND"
	case KindError:
		return "ERROR"
	case KindNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
