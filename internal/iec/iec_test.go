package iec

import (
	"testing"

	"github.com/matryer/is"
)

func TestListenTalkRoundTrip(t *testing.T) {
	is := is.New(t)
	for dev := 0; dev < 32; dev++ {
		l := Listen(dev)
		is.True(IsListen(l))
		is.True(!IsTalk(l))
		is.Equal(Device(l), dev)

		tk := Talk(dev)
		is.True(IsTalk(tk))
		is.True(!IsListen(tk))
		is.Equal(Device(tk), dev)
	}
}

func TestDataCloseOpenRoundTrip(t *testing.T) {
	is := is.New(t)
	for sa := 0; sa < 16; sa++ {
		d := Data(sa)
		is.True(IsData(d))
		is.Equal(SecondaryAddress(d), sa)

		c := Close(sa)
		is.True(IsClose(c))
		is.Equal(SecondaryAddress(c), sa)

		o := Open(sa)
		is.True(IsOpen(o))
		is.Equal(SecondaryAddress(o), sa)
	}
}

func TestIsCommandRangeMatchesNegatedCommandBytes(t *testing.T) {
	is := is.New(t)
	is.True(IsCommandRange(Value(-int(Listen(8)))))
	is.True(IsCommandRange(Value(-int(Talk(11)))))
	is.True(!IsCommandRange(ClearError))  // -0x100: a bus-phase sentinel, not a command byte
	is.True(!IsCommandRange(IdentityComp))
	is.True(!IsCommandRange(Value(5))) // a plain data byte
}

func TestCommandByteRecoversOriginal(t *testing.T) {
	is := is.New(t)
	b := Listen(9)
	v := Value(-int(b))
	is.Equal(CommandByte(v), b)
}

func TestIdentityDriveMasksToDeviceRange(t *testing.T) {
	is := is.New(t)
	s := IdentityDrive(9)
	is.True(s != IdentityComp)
	is.True(s < ClearError) // deep in the sentinel band, not a command byte
	// bits above the low five are dropped
	is.Equal(IdentityDrive(9|0x20), s)
}
