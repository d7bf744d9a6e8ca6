package transport

import (
	"context"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/iec"
)

// Pipe is a pair of in-process byte/sentinel channels standing in for the
// two one-directional OS pipes raspbiec's fork()-based drive/host
// co-process uses when both roles run against a disk image in one
// invocation (spec §5). Each end implements the Channel interface, so the
// same Transport code drives a real bus device or an in-process Pipe.
//
// Bus-phase sentinels (ASSERT_ATN/DEASSERT_ATN/TURNAROUND/BUS_IDLE/
// CLEAR_ERROR) are accepted and dropped by the writing end, since there is
// no ATN line to model; command bytes, data bytes and the
// LAST_BYTE_NEXT/EOI termination sentinels carry across a Pipe.
type Pipe struct {
	toDrive chan iec.Value
	toHost  chan iec.Value
}

// pipeEnd is one side of a Pipe.
type pipeEnd struct {
	in  <-chan iec.Value
	out chan<- iec.Value
}

const pipeBuffer = 1024

// NewPipe returns the host-side and drive-side ends of one in-process pipe.
func NewPipe() (host, drive *pipeEnd) {
	p := &Pipe{
		toDrive: make(chan iec.Value, pipeBuffer),
		toHost:  make(chan iec.Value, pipeBuffer),
	}
	host = &pipeEnd{in: p.toHost, out: p.toDrive}
	drive = &pipeEnd{in: p.toDrive, out: p.toHost}
	return host, drive
}

func (e *pipeEnd) Read(ctx context.Context) (iec.Value, error) {
	select {
	case <-ctx.Done():
		return 0, biecerr.New(biecerr.Signal)
	case v, ok := <-e.in:
		if !ok {
			return 0, biecerr.New(biecerr.DriverNotPresent)
		}
		return v, nil
	}
}

func (e *pipeEnd) Write(ctx context.Context, v iec.Value) (int, error) {
	switch v {
	case iec.AssertATN, iec.DeassertATN, iec.Turnaround, iec.BusIdle, iec.ClearError:
		return 1, nil // no electrical analogue across an in-process pipe
	}
	select {
	case <-ctx.Done():
		return 0, biecerr.New(biecerr.Signal)
	case e.out <- v:
		return 1, nil
	}
}
