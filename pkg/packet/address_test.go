package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressFields(t *testing.T) {
	t.Parallel()
	a := MakeAddress(2, 1, 5)
	assert.Equal(t, byte(0x2D), a)
	assert.Equal(t, byte(2), DeviceType(a))
	assert.Equal(t, byte(1), Mirror(a))
	assert.Equal(t, byte(5), Physical(a))

	// Bits 7:6 never take part in the comparison.
	assert.Equal(t, Physical(a), Physical(a|0xC0))
	assert.Equal(t, DeviceType(a), DeviceType(a|0xC0))
}

func TestValidateSelf(t *testing.T) {
	t.Parallel()
	for a := 0; a < 256; a++ {
		m := Validate(byte(a), byte(a))
		assert.True(t, m.DeviceType)
		assert.True(t, m.Physical)
		assert.True(t, m.Reply)
		assert.True(t, m.Addressed())
	}
}

func TestValidateMirrorOnly(t *testing.T) {
	t.Parallel()
	for a := 0; a < 64; a++ {
		own := byte(a)
		peer := own ^ (1 << mirrorShift)
		m := Validate(own, peer)
		assert.False(t, m.Reply, "own=%#x", own)
		assert.True(t, m.DeviceType)
		assert.True(t, m.Physical)
	}
}

func TestValidateFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		own, peer byte
		want      Match
	}{
		{"other physical", MakeAddress(1, 0, 1), MakeAddress(1, 0, 2), Match{DeviceType: true, Reply: true}},
		{"other device type", MakeAddress(1, 0, 1), MakeAddress(2, 0, 1), Match{Physical: true, Reply: true}},
		{"nothing in common", MakeAddress(1, 0, 1), MakeAddress(2, 1, 2), Match{}},
		{"observe only", MakeAddress(3, 0, 7), MakeAddress(3, 1, 7), Match{DeviceType: true, Physical: true}},
		{"high bits ignored", 0x3F, 0xFF, Match{DeviceType: true, Physical: true, Reply: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Validate(tt.own, tt.peer))
		})
	}
}
