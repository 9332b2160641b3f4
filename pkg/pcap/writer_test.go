package pcap

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestGlobalHeader(t *testing.T) {
	tests := []struct {
		name     string
		order    binary.ByteOrder
		linkType uint32
	}{
		{"little endian user0", binary.LittleEndian, DLTUser0},
		{"big endian rtac", binary.BigEndian, DLTRTACSer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, tt.order, tt.linkType)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if w.LinkType() != tt.linkType {
				t.Errorf("LinkType() = %d, want %d", w.LinkType(), tt.linkType)
			}

			b := buf.Bytes()
			if len(b) != 24 {
				t.Fatalf("global header length = %d, want 24", len(b))
			}
			if magic := tt.order.Uint32(b[0:4]); magic != 0xa1b2c3d4 {
				t.Errorf("magic = 0x%08x, want 0xa1b2c3d4", magic)
			}
			if major := tt.order.Uint16(b[4:6]); major != 2 {
				t.Errorf("version major = %d, want 2", major)
			}
			if minor := tt.order.Uint16(b[6:8]); minor != 4 {
				t.Errorf("version minor = %d, want 4", minor)
			}
			if snaplen := tt.order.Uint32(b[16:20]); snaplen != 65535 {
				t.Errorf("snaplen = %d, want 65535", snaplen)
			}
			if lt := tt.order.Uint32(b[20:24]); lt != tt.linkType {
				t.Errorf("link type = %d, want %d", lt, tt.linkType)
			}
		})
	}
}

func TestWritePacket(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, binary.LittleEndian, DLTUser0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	buf.Reset() // discard global header for this test

	ts := time.Date(2025, 1, 15, 10, 30, 45, 123456789, time.UTC)
	data := []byte{0x04, 0x02, 0x01, 0x10, 0xAA, 0xBB, 0x03, 0x01}

	if err := w.WritePacket(ts, data); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	b := buf.Bytes()
	if len(b) != 16+len(data) {
		t.Fatalf("packet length = %d, want %d", len(b), 16+len(data))
	}
	if tsSec := binary.LittleEndian.Uint32(b[0:4]); tsSec != uint32(ts.Unix()) {
		t.Errorf("ts_sec = %d, want %d", tsSec, ts.Unix())
	}
	if tsUsec := binary.LittleEndian.Uint32(b[4:8]); tsUsec != 123456 {
		t.Errorf("ts_usec = %d, want 123456", tsUsec)
	}
	if capLen := binary.LittleEndian.Uint32(b[8:12]); capLen != uint32(len(data)) {
		t.Errorf("cap_len = %d, want %d", capLen, len(data))
	}
	if origLen := binary.LittleEndian.Uint32(b[12:16]); origLen != uint32(len(data)) {
		t.Errorf("orig_len = %d, want %d", origLen, len(data))
	}
	if !bytes.Equal(b[16:], data) {
		t.Errorf("packet data = %x, want %x", b[16:], data)
	}
}

func TestWriteFrameRTAC(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, binary.BigEndian, DLTRTACSer)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	buf.Reset()

	ts := time.Date(2025, 1, 15, 10, 30, 46, 500000000, time.UTC)
	frame := []byte{0x04, 0x01, 0x05}
	if err := w.WriteFrame(ts, EventTxStart, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	b := buf.Bytes()
	wantLen := 16 + RTACHeaderLen + len(frame)
	if len(b) != wantLen {
		t.Fatalf("length = %d, want %d", len(b), wantLen)
	}
	if capLen := binary.BigEndian.Uint32(b[8:12]); capLen != uint32(RTACHeaderLen+len(frame)) {
		t.Errorf("cap_len = %d, want %d", capLen, RTACHeaderLen+len(frame))
	}
	rtac := b[16 : 16+RTACHeaderLen]
	if !bytes.Equal(rtac, RTACHeader(ts, EventTxStart)) {
		t.Errorf("rtac header = %x", rtac)
	}
	if rtac[8] != EventTxStart {
		t.Errorf("event = %d, want %d", rtac[8], EventTxStart)
	}
	if usec := binary.BigEndian.Uint32(rtac[4:8]); usec != 500000 {
		t.Errorf("rtac usec = %d, want 500000", usec)
	}
	if !bytes.Equal(b[16+RTACHeaderLen:], frame) {
		t.Errorf("frame = %x, want %x", b[16+RTACHeaderLen:], frame)
	}
}

func TestWriteFrameUser0(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, binary.LittleEndian, DLTUser0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	buf.Reset()

	frame := []byte{0x06}
	if err := w.WriteFrame(time.Unix(1, 0), EventRxStart, frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := buf.Bytes(); len(got) != 16+1 || got[16] != 0x06 {
		t.Errorf("raw frame not written as-is: %x", got)
	}
}

func TestMultiplePackets(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, binary.LittleEndian, DLTUser0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ts1 := time.Date(2025, 1, 15, 10, 30, 45, 0, time.UTC)
	data1 := []byte{0x01, 0x02, 0x03}
	ts2 := time.Date(2025, 1, 15, 10, 30, 46, 500000000, time.UTC)
	data2 := []byte{0x04, 0x05}

	if err := w.WritePacket(ts1, data1); err != nil {
		t.Fatalf("WritePacket 1: %v", err)
	}
	if err := w.WritePacket(ts2, data2); err != nil {
		t.Fatalf("WritePacket 2: %v", err)
	}

	b := buf.Bytes()
	expectedLen := 24 + (16 + len(data1)) + (16 + len(data2))
	if len(b) != expectedLen {
		t.Fatalf("total length = %d, want %d", len(b), expectedLen)
	}

	// Verify second packet starts at correct offset
	pkt2Offset := 24 + 16 + len(data1)
	if tsSec2 := binary.LittleEndian.Uint32(b[pkt2Offset : pkt2Offset+4]); tsSec2 != uint32(ts2.Unix()) {
		t.Errorf("packet 2 ts_sec = %d, want %d", tsSec2, ts2.Unix())
	}
	if !bytes.Equal(b[pkt2Offset+16:pkt2Offset+16+len(data2)], data2) {
		t.Errorf("packet 2 data mismatch")
	}
}
