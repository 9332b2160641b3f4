package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"rspoll/pkg/bus"
	"rspoll/pkg/packet"
)

type command struct {
	channel bus.ChannelID
	pkt     packet.Packet
}

// parseCommand parses a stdin line of the form
//
//	<channel> <opcode> [payload-hex]
//
// where channel is a configured channel name or slot number and opcode is
// a byte in any base accepted by strconv ("0x10", "16").
func parseCommand(line string, names map[string]bus.ChannelID) (command, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return command{}, fmt.Errorf("usage: <channel> <opcode> [payload-hex]")
	}

	id, ok := names[fields[0]]
	if !ok {
		n, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil || n >= bus.MaxChannels {
			return command{}, fmt.Errorf("unknown channel %q", fields[0])
		}
		id = bus.ChannelID(n)
	}

	op, err := strconv.ParseUint(fields[1], 0, 8)
	if err != nil {
		return command{}, fmt.Errorf("invalid opcode %q", fields[1])
	}

	var payload []byte
	if len(fields) == 3 {
		payload, err = hex.DecodeString(fields[2])
		if err != nil {
			return command{}, fmt.Errorf("invalid payload: %w", err)
		}
		if len(payload) > packet.MaxPayload {
			return command{}, fmt.Errorf("payload is %d bytes, at most %d", len(payload), packet.MaxPayload)
		}
	}
	return command{channel: id, pkt: packet.Packet{Opcode: byte(op), Payload: payload}}, nil
}
