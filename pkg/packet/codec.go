package packet

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("packet: payload too large")
	// ErrNotEncodable is returned for kinds that only exist on the receive side.
	ErrNotEncodable = errors.New("packet: frame kind cannot be encoded")
)

// Minimum lengths of the checksummed frames.
const (
	minSelectLen  = 6 // EOT STX addr op ETX bcc
	minRespondLen = 5 // STX addr op ETX bcc
)

// Checksum returns the running XOR of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum ^= c
	}
	return sum
}

// Encode returns the wire frame for kind. The packet is ignored for
// ACK, NACK and EOT.
func Encode(kind Kind, p Packet) ([]byte, error) {
	return AppendFrame(make([]byte, 0, len(p.Payload)+minSelectLen), kind, p)
}

// AppendFrame appends the wire frame for kind to dst.
func AppendFrame(dst []byte, kind Kind, p Packet) ([]byte, error) {
	switch kind {
	case KindACK:
		return append(dst, ACK), nil
	case KindNACK:
		return append(dst, NACK), nil
	case KindEOT:
		return append(dst, EOT), nil
	case KindPoll:
		return append(dst, EOT, p.Address, POL), nil
	case KindSelect:
		if len(p.Payload) > MaxPayload {
			return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
		}
		dst = append(dst, EOT, STX)
		return appendBlock(dst, p), nil
	case KindRespond:
		if len(p.Payload) > MaxPayload {
			return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
		}
		dst = append(dst, STX)
		return appendBlock(dst, p), nil
	default:
		return dst, fmt.Errorf("%w: %s", ErrNotEncodable, kind)
	}
}

// appendBlock writes addr, opcode, payload, ETX and the check byte
// computed over everything from addr through ETX.
func appendBlock(dst []byte, p Packet) []byte {
	start := len(dst)
	dst = append(dst, p.Address, p.Opcode)
	dst = append(dst, p.Payload...)
	dst = append(dst, ETX)
	return append(dst, Checksum(dst[start:]))
}

// Decode classifies a received frame. Malformed input yields KindNone and
// a select frame with a bad check byte yields KindError; Decode never
// fails otherwise. For KindError the returned packet carries the address
// and opcode so the receiver can decide whether a NACK is owed.
func Decode(frame []byte) (Kind, Packet) {
	n := len(frame)
	if n == 0 || n > MaxFrameLen {
		return KindNone, Packet{}
	}

	switch frame[0] {
	case ACK:
		if n == 1 {
			return KindACK, Packet{}
		}
	case NACK:
		if n == 1 {
			return KindNACK, Packet{}
		}
	case EOT:
		switch {
		case n == 1:
			return KindEOT, Packet{}
		case n == 3:
			if frame[2] == POL {
				return KindPoll, Packet{Address: frame[1]}
			}
		case n > 3:
			return decodeSelect(frame)
		}
	case STX:
		return decodeRespond(frame)
	}
	return KindNone, Packet{}
}

func decodeSelect(frame []byte) (Kind, Packet) {
	n := len(frame)
	if n < minSelectLen || frame[1] != STX || frame[n-2] != ETX {
		return KindNone, Packet{}
	}
	if n-minSelectLen > MaxPayload {
		return KindNone, Packet{}
	}
	p := Packet{Address: frame[2], Opcode: frame[3]}
	if Checksum(frame[2:n-1]) != frame[n-1] {
		return KindError, p
	}
	p.Payload = copyPayload(frame[4 : n-2])
	return KindSelect, p
}

// decodeRespond reports a bad check byte as KindNone, not KindError: a
// respond frame with a broken block is dropped instead of NACKed.
func decodeRespond(frame []byte) (Kind, Packet) {
	n := len(frame)
	if n < minRespondLen || frame[n-2] != ETX {
		return KindNone, Packet{}
	}
	if n-minRespondLen > MaxPayload {
		return KindNone, Packet{}
	}
	if Checksum(frame[1:n-1]) != frame[n-1] {
		return KindNone, Packet{}
	}
	return KindRespond, Packet{
		Address: frame[1],
		Opcode:  frame[2],
		Payload: copyPayload(frame[3 : n-2]),
	}
}

func copyPayload(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
