package engine

import (
	"context"
	"testing"
	"time"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/gpio"
	"github.com/goiec/biec64/internal/iec"
	"github.com/matryer/is"
)

func newTestEngine(t *testing.T, id Identity) *Engine {
	t.Helper()
	a, _ := gpio.NewSimPair()
	return New(a, id, nil, false)
}

func TestResetClearsBusState(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, Identity(8))
	e.devState = RoleTalk
	e.underATN = true
	e.eoi = eoiSent
	e.lastStatus = biecerr.WriteTimeout

	e.reset()

	is.Equal(e.devState, RoleIdle)
	is.Equal(e.underATN, false)
	is.Equal(e.eoi, eoiNo)
	is.Equal(e.lastStatus, biecerr.OK)
	is.Equal(e.State(), StateIdle)
}

func TestSetIdentityRejectsOutOfRangeDevice(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, IdentityComputer)

	err := e.SetIdentity(Identity(12))
	is.True(err != nil)
	code, ok := biecerr.As(err)
	is.True(ok)
	is.Equal(code, biecerr.IllegalDeviceNumber)
	is.Equal(e.Identity(), IdentityComputer) // rejected before the identity field is touched
}

func TestSetIdentityAcceptsDriveRange(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, IdentityComputer)

	is.NoErr(e.SetIdentity(Identity(9)))
	is.Equal(e.Identity(), Identity(9))
	is.True(e.Identity().IsDrive())
}

func TestDispatchCommandByteListenKeepsReceiving(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, Identity(8))
	e.underATN = true

	done := e.dispatchCommandByte(iec.Listen(8))

	is.Equal(done, false) // stay in the reception loop to receive data
	is.Equal(e.devState, RoleListen)
}

func TestDispatchCommandByteTalkKeepsCommandPhase(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, Identity(8))
	e.underATN = true

	done := e.dispatchCommandByte(iec.Talk(8))

	is.Equal(done, false) // still receiving command bytes (secondary address follows)
	is.Equal(e.devState, RoleTalk)
}

func TestDispatchCommandByteUnlistenReturnsToIdle(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, Identity(8))
	e.devState = RoleListen
	e.underATN = true

	done := e.dispatchCommandByte(iec.CmdUnlisten)

	is.Equal(done, true)
	is.Equal(e.devState, RoleIdle)
}

func TestDispatchCommandByteForeignDeviceReleasesBus(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, Identity(8))
	e.underATN = true

	done := e.dispatchCommandByte(iec.Listen(9)) // addressed to a different drive

	is.Equal(done, true)
	is.Equal(e.devState, RoleIdle)
}

func TestIdentitySentinelRoundTrip(t *testing.T) {
	is := is.New(t)
	is.True(isIdentitySentinel(iec.IdentityComp))
	id, err := identityFromSentinel(iec.IdentityComp)
	is.NoErr(err)
	is.Equal(id, IdentityComputer)

	sentinel := iec.IdentityDrive(9)
	is.True(isIdentitySentinel(sentinel))
	id, err = identityFromSentinel(sentinel)
	is.NoErr(err)
	is.Equal(id, Identity(9))
}

func TestIdentitySentinelRejectsBadDevice(t *testing.T) {
	is := is.New(t)
	_, err := identityFromSentinel(iec.IdentityDrive(20))
	is.True(err != nil)
	code, ok := biecerr.As(err)
	is.True(ok)
	is.Equal(code, biecerr.IllegalDeviceNumber)
}

// TestPostErrorSetsReturnEIOSubstate drives the full §4.2.7/§4.3 sequence
// through Channel.Read: EIO, then the code itself exactly once, never a
// second time from a leftover readFIFO entry.
func TestPostErrorSetsReturnEIOSubstate(t *testing.T) {
	is := is.New(t)
	e := newTestEngine(t, IdentityComputer)
	ch, err := e.Open()
	is.NoErr(err)

	e.postError(biecerr.FileNotFound)

	is.Equal(e.notify, notifyReturnEIO)
	is.Equal(e.lastStatus, biecerr.FileNotFound)

	ctx := context.Background()
	_, err = ch.Read(ctx)
	is.True(err != nil) // EIO
	is.Equal(e.notify, notifySendCode)

	v, err := ch.Read(ctx)
	is.NoErr(err)
	is.Equal(v, iec.Value(biecerr.FileNotFound))
	is.Equal(e.notify, notifyClearingPending)

	select {
	case <-e.readFIFO:
		t.Fatal("postError must not also push the code onto readFIFO")
	default:
	}
}

// TestTwoEngineCommandRangeRoundTrip runs a full host/drive pair across a
// simulated bus through Run, exercising waitATNAssert, receiveByte,
// transmitByte and processUserData together: spec §8 scenario 6 ("command
// range round-trip"). The host writes [ASSERT_ATN, -LISTEN(8), -OPEN(0),
// DEASSERT_ATN]; the drive, listening on the other end of the bus, must see
// the identical sequence arrive in its own read FIFO.
func TestTwoEngineCommandRangeRoundTrip(t *testing.T) {
	is := is.New(t)
	hostDriver, driveDriver := gpio.NewSimPair()

	hostEngine := New(hostDriver, IdentityComputer, nil, false)
	driveEngine := New(driveDriver, Identity(8), nil, false)

	hostCh, err := hostEngine.Open()
	is.NoErr(err)
	driveCh, err := driveEngine.Open()
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hostEngine.Run(ctx)
	go driveEngine.Run(ctx)

	go func() {
		_, _ = hostCh.Write(ctx, iec.AssertATN)
		_, _ = hostCh.Write(ctx, iec.Value(-int(iec.Listen(8))))
		_, _ = hostCh.Write(ctx, iec.Value(-int(iec.Open(0))))
		_, _ = hostCh.Write(ctx, iec.DeassertATN)
	}()

	want := []iec.Value{
		iec.AssertATN,
		iec.Value(-int(iec.Listen(8))),
		iec.Value(-int(iec.Open(0))),
		iec.DeassertATN,
	}
	for _, w := range want {
		v, err := driveCh.Read(ctx)
		is.NoErr(err)
		is.Equal(v, w)
	}
}

// TestTwoEngineDataTurnaroundRoundTrip extends the command-phase round trip
// through a TURNAROUND: the host addresses the drive as talker, flips to
// listener, and must actually receive the drive's data bytes and a
// terminating EOI (spec §4.2.5 "enter RECEIVE_BYTE", §8 scenario 5). Before
// the Run fix this hung forever: a computer identity never reached the
// receive path, so the host's post-TURNAROUND reads never returned.
func TestTwoEngineDataTurnaroundRoundTrip(t *testing.T) {
	is := is.New(t)
	hostDriver, driveDriver := gpio.NewSimPair()

	hostEngine := New(hostDriver, IdentityComputer, nil, false)
	driveEngine := New(driveDriver, Identity(8), nil, false)

	hostCh, err := hostEngine.Open()
	is.NoErr(err)
	driveCh, err := driveEngine.Open()
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go hostEngine.Run(ctx)
	go driveEngine.Run(ctx)

	// Drive side: once addressed as talker/data, answer with two bytes,
	// the last one flagged via LAST_BYTE_NEXT so the engine sends it with
	// EOI asserted.
	go func() {
		want := []iec.Value{
			iec.AssertATN,
			iec.Value(-int(iec.Talk(8))),
			iec.Value(-int(iec.Data(2))),
			iec.DeassertATN,
		}
		for _, w := range want {
			v, err := driveCh.Read(ctx)
			if err != nil || v != w {
				return
			}
		}
		_, _ = driveCh.Write(ctx, iec.Value(0xAA))
		_, _ = driveCh.Write(ctx, iec.LastByteNext)
		_, _ = driveCh.Write(ctx, iec.Value(0xBB))
	}()

	go func() {
		_, _ = hostCh.Write(ctx, iec.AssertATN)
		_, _ = hostCh.Write(ctx, iec.Value(-int(iec.Talk(8))))
		_, _ = hostCh.Write(ctx, iec.Value(-int(iec.Data(2))))
		_, _ = hostCh.Write(ctx, iec.DeassertATN)
		_, _ = hostCh.Write(ctx, iec.Turnaround)
	}()

	want := []iec.Value{iec.Value(0xAA), iec.Value(0xBB), iec.EOI}
	for _, w := range want {
		v, err := hostCh.Read(ctx)
		is.NoErr(err)
		is.Equal(v, w)
	}
}
