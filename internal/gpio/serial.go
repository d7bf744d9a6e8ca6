package gpio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// SerialDriver forwards line transitions over a USB-serial link to a
// microcontroller bridge that owns the real GPIO pins. It exists so the bus
// engine and everything above it can be exercised on a developer machine
// without real IEC hardware; it is not claimed to be real-time-capable; the
// serial round trip dominates over the engine's own microsecond windows.
//
// Wire protocol: one byte per line write ('A'/'a', 'C'/'c', 'D'/'d' for
// ATN/CLK/DATA high/low), '?' to request a status byte back whose bits
// 0/1/2 report the current ATN/CLK/DATA levels.
type SerialDriver struct {
	port  io.ReadWriteCloser
	mu    sync.Mutex
	start time.Time
	timeoutState
}

// OpenSerial opens tty at baud and wraps it as a Driver.
func OpenSerial(tty string, baud uint) (*SerialDriver, error) {
	options := serial.OpenOptions{
		PortName:        tty,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("gpio: open serial bridge %s: %w", tty, err)
	}
	return &SerialDriver{port: port, start: time.Now()}, nil
}

func (s *SerialDriver) Close() error { return s.port.Close() }

func (s *SerialDriver) send(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.port.Write([]byte{b})
}

func (s *SerialDriver) status() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.port.Write([]byte{'?'})
	var buf [1]byte
	_, _ = s.port.Read(buf[:])
	return buf[0]
}

func (s *SerialDriver) SetATN(l Level) {
	if l == Hi {
		s.send('A')
	} else {
		s.send('a')
	}
}

func (s *SerialDriver) SetCLK(l Level) {
	if l == Hi {
		s.send('C')
	} else {
		s.send('c')
	}
}

func (s *SerialDriver) SetData(l Level) {
	if l == Hi {
		s.send('D')
	} else {
		s.send('d')
	}
}

func bit(v byte, n uint) Level {
	if v&(1<<n) != 0 {
		return Hi
	}
	return Lo
}

func (s *SerialDriver) GetATN() Level  { return bit(s.status(), 0) }
func (s *SerialDriver) GetCLK() Level  { return bit(s.status(), 1) }
func (s *SerialDriver) GetData() Level { return bit(s.status(), 2) }

func (s *SerialDriver) Micros() uint32 { return uint32(time.Since(s.start).Microseconds()) }

func (s *SerialDriver) SleepUS(n uint32) { time.Sleep(time.Duration(n) * time.Microsecond) }

func (s *SerialDriver) ArmTimeout(us uint32, tag Tag) <-chan Tag { return s.timeoutState.arm(us, tag) }
func (s *SerialDriver) CancelTimeout()                           { s.timeoutState.cancel() }
