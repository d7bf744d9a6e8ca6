package gpio

import (
	"sync/atomic"
	"time"
)

// wire is a single open-collector line shared between two SimDriver ends:
// the resting level is Hi, and either end can pull it Lo. Each end runs on
// its own goroutine once two engines are paired over a wire (see
// NewSimPair), so sets and gets are backed by atomics rather than plain
// bools.
type wire struct {
	a, b atomic.Bool // true = this end is pulling the line low
}

func (w *wire) level() Level {
	if w.a.Load() || w.b.Load() {
		return Lo
	}
	return Hi
}

// SimDriver is an in-memory Driver used to test the bus engine without real
// hardware: pair two SimDriver values with NewSimPair to get both ends of a
// bus, one for a host identity and one for a drive identity.
type SimDriver struct {
	end   int // 0 or 1, which side of each wire this driver pulls
	atn   *wire
	clk   *wire
	data  *wire
	start time.Time
	timeoutState
}

// NewSimPair returns two drivers representing the two ends of one IEC bus.
func NewSimPair() (a, b *SimDriver) {
	start := time.Now()
	atn, clk, data := &wire{}, &wire{}, &wire{}
	a = &SimDriver{end: 0, atn: atn, clk: clk, data: data, start: start}
	b = &SimDriver{end: 1, atn: atn, clk: clk, data: data, start: start}
	return a, b
}

func (w *wire) set(end int, lo bool) {
	if end == 0 {
		w.a.Store(lo)
	} else {
		w.b.Store(lo)
	}
}

func (s *SimDriver) SetATN(l Level)  { s.atn.set(s.end, l == Lo) }
func (s *SimDriver) SetCLK(l Level)  { s.clk.set(s.end, l == Lo) }
func (s *SimDriver) SetData(l Level) { s.data.set(s.end, l == Lo) }

func (s *SimDriver) GetATN() Level  { return s.atn.level() }
func (s *SimDriver) GetCLK() Level  { return s.clk.level() }
func (s *SimDriver) GetData() Level { return s.data.level() }

func (s *SimDriver) Micros() uint32 { return uint32(time.Since(s.start).Microseconds()) }

func (s *SimDriver) SleepUS(n uint32) { time.Sleep(time.Duration(n) * time.Microsecond) }

func (s *SimDriver) ArmTimeout(us uint32, tag Tag) <-chan Tag { return s.timeoutState.arm(us, tag) }
func (s *SimDriver) CancelTimeout()                           { s.timeoutState.cancel() }
