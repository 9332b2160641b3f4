package packet

// Station address layout:
//
//	| 7 | 6 |  5   4  |   3    |  2   1   0  |
//	|   -   | dev type| mirror | physical    |
const (
	deviceTypeShift = 4
	deviceTypeMask  = 0x3
	mirrorShift     = 3
	mirrorMask      = 0x1
	physicalMask    = 0x7
)

// DeviceType returns bits [5:4] of a.
func DeviceType(a byte) byte { return (a >> deviceTypeShift) & deviceTypeMask }

// Mirror returns the reply bit [3] of a.
func Mirror(a byte) byte { return (a >> mirrorShift) & mirrorMask }

// Physical returns bits [2:0] of a.
func Physical(a byte) byte { return a & physicalMask }

// MakeAddress packs the three address fields. Out of range bits are masked.
func MakeAddress(deviceType, mirror, physical byte) byte {
	return (deviceType&deviceTypeMask)<<deviceTypeShift |
		(mirror&mirrorMask)<<mirrorShift |
		physical&physicalMask
}

// Match is the field-by-field comparison of two station addresses.
type Match struct {
	DeviceType bool
	Physical   bool
	// Reply is set when the mirror bits agree, meaning the addressed
	// station must answer rather than only take the data.
	Reply bool
}

// Addressed reports whether the frame targets the station at all.
func (m Match) Addressed() bool {
	return m.DeviceType && m.Physical
}

// Validate compares the station's own address against the address
// carried by a received frame.
func Validate(own, peer byte) Match {
	return Match{
		DeviceType: DeviceType(own) == DeviceType(peer),
		Physical:   Physical(own) == Physical(peer),
		Reply:      Mirror(own) == Mirror(peer),
	}
}
