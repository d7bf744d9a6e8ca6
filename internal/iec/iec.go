// Package iec holds the byte/sentinel vocabulary shared by the bus engine
// and everything above it: the 16-bit signed values that flow through the
// two FIFOs, and the IEC command-byte encodings carried under ATN.
package iec

// Value is one element of the byte/sentinel stream between the bus engine
// and the user side. Non-negative values 0..255 are data bytes; negative
// values in -0x100..-0x1FF are bus-phase/control sentinels; more negative
// values are error codes (see biecerr).
type Value int16

// Bus-phase sentinels.
const (
	ClearError    Value = -0x100
	LastByteNext  Value = -0x101
	EOI           Value = -0x102
	BusIdle       Value = -0x111
	DeassertATN   Value = -0x1A0
	AssertATN     Value = -0x1A1
	Turnaround    Value = -0x1A2
	IdentityComp  Value = -0x164
	PrevByteError Value = -0x208
)

// IdentityDrive returns the identity sentinel for a drive device number
// 8..11 (masked to 5 bits as the original encoding does).
func IdentityDrive(dev int) Value {
	return Value(-(0x1E0 | (dev & 0x1F)))
}

// IsCommandRange reports whether v is a negated command byte posted to or
// read from the write FIFO while ATN is asserted, as opposed to a bus-phase
// sentinel, identity sentinel, or error code. Command bytes 0x20..0xFF are
// carried as their negation, -0x20..-0xFF; this is a narrower band than the
// bus-phase/identity sentinels above, which live in -0x100 and below.
func IsCommandRange(v Value) bool {
	return v <= -0x20 && v >= -0xFF
}

// CommandByte recovers the raw command byte from a value satisfying
// IsCommandRange.
func CommandByte(v Value) byte { return byte(-v) }

// IEC command bytes (sent negated, under ATN).
const (
	CmdUnlisten byte = 0x3F
	CmdUntalk   byte = 0x5F
)

// Listen returns the LISTEN command byte for device dev (0..31).
func Listen(dev int) byte { return 0x20 | byte(dev&0x1F) }

// IsListen reports whether b is a LISTEN command byte.
func IsListen(b byte) bool { return b&0xE0 == 0x20 }

// Talk returns the TALK command byte for device dev (0..31).
func Talk(dev int) byte { return 0x40 | byte(dev&0x1F) }

// IsTalk reports whether b is a TALK command byte.
func IsTalk(b byte) bool { return b&0xE0 == 0x40 }

// Data returns the DATA command byte for secondary address sa (0..15).
func Data(sa int) byte { return 0x60 | byte(sa&0x0F) }

// Close returns the CLOSE command byte for secondary address sa.
func Close(sa int) byte { return 0xE0 | byte(sa&0x0F) }

// Open returns the OPEN command byte for secondary address sa.
func Open(sa int) byte { return 0xF0 | byte(sa&0x0F) }

// IsData reports whether b is a DATA command byte.
func IsData(b byte) bool { return b&0xF0 == 0x60 }

// IsClose reports whether b is a CLOSE command byte.
func IsClose(b byte) bool { return b&0xF0 == 0xE0 }

// IsOpen reports whether b is an OPEN command byte.
func IsOpen(b byte) bool { return b&0xF0 == 0xF0 }

// SecondaryAddress extracts the secondary address from a DATA/CLOSE/OPEN
// command byte.
func SecondaryAddress(b byte) int { return int(b & 0x0F) }

// Device extracts the device number from a LISTEN/TALK command byte.
func Device(b byte) int { return int(b & 0x1F) }

// Device numbers accepted for drive identity.
const (
	MinDevice = 8
	MaxDevice = 11
)
