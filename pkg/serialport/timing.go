package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ParseParity maps a parity name to serial.Parity.
func ParseParity(s string) (serial.Parity, error) {
	switch s {
	case "none", "":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s)
	}
}

// ParseStopBits maps 1 or 2 to serial.StopBits.
func ParseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %d: use 1 or 2", n)
	}
}

// CharBits returns the total number of bits per character on the wire
// (start + data + optional parity + stop).
func CharBits(dataBits, stopBits int, parity string) int {
	bits := 1 + dataBits
	if parity != "none" && parity != "" {
		bits++
	}
	return bits + stopBits
}

// CharTime returns the time one character occupies the line.
func CharTime(baud, dataBits, stopBits int, parity string) time.Duration {
	bits := CharBits(dataBits, stopBits, parity)
	return time.Duration(float64(bits) / float64(baud) * float64(time.Second))
}

// Silence returns 3.5 character times for the given serial settings.
func Silence(baud, dataBits, stopBits int, parity string) time.Duration {
	return time.Duration(3.5 * float64(CharTime(baud, dataBits, stopBits, parity)))
}
