package transport

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/goiec/biec64/internal/iec"
)

// drainFrame reads and discards n values from a Channel, for tests that only
// care about the data payload, not the LISTEN/OPEN/UNLISTEN framing around
// it.
func drainFrame(t *testing.T, ch Channel, n int) []iec.Value {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out := make([]iec.Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := ch.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, v)
	}
	return out
}

func TestSendDataFramesListenDataUnlisten(t *testing.T) {
	is := is.New(t)
	host, driveEnd := NewPipe()
	tr := New(driveEnd)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := tr.SendData(ctx, []byte{0xAA, 0xBB}, 8, 2)
		done <- err
	}()

	// The host's pipe end is the far end of what we just wrote into; read it
	// from the host side we were handed.
	is.NoErr(<-done)
	seen := drainFrame(t, host, 6) // LISTEN, DATA, AA, LAST_BYTE_NEXT, BB, UNLISTEN
	is.Equal(seen[0], iec.Value(-int(iec.Listen(8))))
	is.Equal(seen[1], iec.Value(-int(iec.Data(2))))
	is.Equal(seen[2], iec.Value(0xAA))
	is.Equal(seen[3], iec.LastByteNext)
	is.Equal(seen[4], iec.Value(0xBB))
	is.Equal(seen[5], iec.Value(-int(iec.CmdUnlisten)))
}

func TestOpenFileFramesOverPipe(t *testing.T) {
	is := is.New(t)
	host, driveEnd := NewPipe()
	hostT := New(host)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- hostT.OpenFile(ctx, []byte("HELLO"), 8, 2)
	}()

	// ASSERT_ATN/DEASSERT_ATN frame bytes have no analogue on a Pipe and are
	// swallowed by pipeEnd.Write, so only the command bytes, the buffered
	// name bytes (one byte behind, per the last-byte look-ahead), the
	// LAST_BYTE_NEXT marker, and the final byte arrive.
	seen := drainFrame(t, driveEnd, 9) // LISTEN, OPEN, H,E,L,L, LAST_BYTE_NEXT, O, UNLISTEN
	is.NoErr(<-errc)

	is.Equal(seen[0], iec.Value(-int(iec.Listen(8))))
	is.Equal(seen[1], iec.Value(-int(iec.Open(2))))
	is.Equal(byte(seen[2]), byte('H'))
	is.Equal(seen[6], iec.LastByteNext)
	is.Equal(byte(seen[7]), byte('O'))
	is.Equal(seen[8], iec.Value(-int(iec.CmdUnlisten)))
}

func TestReceiveDataTerminatesOnLastByteNext(t *testing.T) {
	is := is.New(t)
	host, driveEnd := NewPipe()
	hostT := New(host)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		// Drain the TALK / DATA command frame the host sends first.
		drainFrame(t, driveEnd, 2)
		_, _ = driveEnd.Write(ctx, iec.Value(0x01))
		_, _ = driveEnd.Write(ctx, iec.LastByteNext)
		_, _ = driveEnd.Write(ctx, iec.Value(0x02))
	}()

	data, err := hostT.ReceiveData(ctx, 8, 2)
	is.NoErr(err)
	is.Equal(data, []byte{0x01, 0x02})
}

func TestReceiveDataSurfacesMidStreamErrorSentinel(t *testing.T) {
	is := is.New(t)
	host, driveEnd := NewPipe()
	hostT := New(host)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		drainFrame(t, driveEnd, 2)
		_, _ = driveEnd.Write(ctx, iec.Value(0x01))
		_, _ = driveEnd.Write(ctx, iec.Value(-0x202)) // FileNotFound
	}()

	_, err := hostT.ReceiveData(ctx, 8, 2)
	is.True(err != nil)
}

func TestBufferedLastByteDeferredUntilFlush(t *testing.T) {
	is := is.New(t)
	host, driveEnd := NewPipe()
	tr := New(driveEnd)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	is.NoErr(tr.bufferByte(ctx, 0x11))
	is.True(tr.hasBuffered)
	is.NoErr(tr.bufferByte(ctx, 0x22))
	is.True(tr.hasBuffered) // still one byte held back

	got := drainFrame(t, host, 1)
	is.Equal(got[0], iec.Value(0x11))

	is.NoErr(tr.flush(ctx))
	is.True(!tr.hasBuffered)
	got = drainFrame(t, host, 2)
	is.Equal(got[0], iec.LastByteNext)
	is.Equal(got[1], iec.Value(0x22))
}
