// Package pcap writes bus frames in libpcap format for Wireshark.
package pcap

import (
	"encoding/binary"
	"io"
	"time"
)

const (
	magicNumber  uint32 = 0xa1b2c3d4
	versionMajor uint16 = 2
	versionMinor uint16 = 4
	snapLen      uint32 = 65535
)

// Link types.
const (
	// DLTUser0 carries raw frames with no per-packet header.
	DLTUser0 uint32 = 147
	// DLTRTACSer prefixes each frame with a 12-byte RTAC serial header
	// that records the direction.
	DLTRTACSer uint32 = 250
)

// RTAC serial event types.
const (
	EventStatusChange byte = 0x00
	EventTxStart      byte = 0x01
	EventRxStart      byte = 0x02
	EventTxEnd        byte = 0x03
	EventRxEnd        byte = 0x04
	EventDataLost     byte = 0x05
)

// RTACHeaderLen is the size of the header built by RTACHeader.
const RTACHeaderLen = 12

// Writer writes packets in libpcap format.
type Writer struct {
	w        io.Writer
	order    binary.ByteOrder
	linkType uint32
}

// NewWriter creates a Writer and writes the 24-byte pcap global header in
// the given byte order.
func NewWriter(w io.Writer, order binary.ByteOrder, linkType uint32) (*Writer, error) {
	hdr := struct {
		Magic        uint32
		VersionMajor uint16
		VersionMinor uint16
		ThisZone     int32
		SigFigs      uint32
		SnapLen      uint32
		LinkType     uint32
	}{
		Magic:        magicNumber,
		VersionMajor: versionMajor,
		VersionMinor: versionMinor,
		SnapLen:      snapLen,
		LinkType:     linkType,
	}
	if err := binary.Write(w, order, &hdr); err != nil {
		return nil, err
	}
	return &Writer{w: w, order: order, linkType: linkType}, nil
}

// LinkType returns the link type written in the global header.
func (pw *Writer) LinkType() uint32 { return pw.linkType }

// WritePacket writes a single packet with its timestamp and raw data.
func (pw *Writer) WritePacket(ts time.Time, data []byte) error {
	length := uint32(len(data))
	hdr := struct {
		TsSec   uint32
		TsUsec  uint32
		CapLen  uint32
		OrigLen uint32
	}{
		TsSec:   uint32(ts.Unix()),
		TsUsec:  uint32(ts.Nanosecond() / 1000),
		CapLen:  length,
		OrigLen: length,
	}
	if err := binary.Write(pw.w, pw.order, &hdr); err != nil {
		return err
	}
	_, err := pw.w.Write(data)
	return err
}

// WriteFrame writes one bus frame. With DLTRTACSer the frame is prefixed
// with an RTAC header carrying event; otherwise event is ignored.
func (pw *Writer) WriteFrame(ts time.Time, event byte, frame []byte) error {
	if pw.linkType != DLTRTACSer {
		return pw.WritePacket(ts, frame)
	}
	buf := make([]byte, 0, RTACHeaderLen+len(frame))
	buf = append(buf, RTACHeader(ts, event)...)
	buf = append(buf, frame...)
	return pw.WritePacket(ts, buf)
}

// RTACHeader builds a 12-byte RTAC serial header (big-endian) for the given
// timestamp and event type. Control lines and footer are left zero.
func RTACHeader(ts time.Time, event byte) []byte {
	hdr := make([]byte, RTACHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(ts.Unix()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(ts.Nanosecond()/1000))
	hdr[8] = event
	return hdr
}
