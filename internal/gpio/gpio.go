// Package gpio drives the three IEC lines (ATN, CLK, DATA) and supplies the
// free-running microsecond counter and timeout primitive the bus engine
// needs. Two backends are provided: a Linux sysfs backend for a real board,
// and a serial-bridge backend for development without GPIO hardware.
package gpio

import "time"

// Level is a logical line level. The backend hides any inversion needed by
// an open-collector bus buffer.
type Level int

const (
	Lo Level = 0
	Hi Level = 1
)

// Tag identifies an armed timeout so the engine can tell its expiry apart
// from an unrelated one.
type Tag int

// Driver is the line-level interface the bus engine programs against.
type Driver interface {
	SetATN(Level)
	SetCLK(Level)
	SetData(Level)
	GetATN() Level
	GetCLK() Level
	GetData() Level

	// Micros returns a free-running microsecond counter.
	Micros() uint32
	// SleepUS pauses for approximately n microseconds.
	SleepUS(n uint32)

	// ArmTimeout fires once after us microseconds, delivering tag on the
	// returned channel. Only one timeout may be armed at a time; arming a
	// new one implicitly cancels any previous one.
	ArmTimeout(us uint32, tag Tag) <-chan Tag
	// CancelTimeout cancels a previously armed timeout, if any.
	CancelTimeout()
}

// settleDelay is the minimum time every SetATN/SetCLK/SetData must be
// followed by before the caller may rely on the new level being observed
// by the remote end.
const settleDelay = 3 * time.Microsecond

// timeoutState is shared by every backend's ArmTimeout/CancelTimeout.
type timeoutState struct {
	timer *time.Timer
	ch    chan Tag
}

func (t *timeoutState) arm(us uint32, tag Tag) <-chan Tag {
	t.cancel()
	ch := make(chan Tag, 1)
	t.ch = ch
	t.timer = time.AfterFunc(time.Duration(us)*time.Microsecond, func() {
		select {
		case ch <- tag:
		default:
		}
	})
	return ch
}

func (t *timeoutState) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.ch = nil
}
