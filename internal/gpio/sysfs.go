package gpio

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// line is one exported /sys/class/gpio/gpioN line, opened once and read or
// written through its raw fd with Pread/Pwrite so repeated access avoids
// the overhead of reopening the sysfs value file.
type line struct {
	num      int
	inverted bool
	f        *os.File
}

func exportLine(num int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return nil // already exported, or sysfs gpio unavailable: caller's Open will fail loudly
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "%d", num)
	return nil
}

func openLine(num int, output bool, inverted bool) (*line, error) {
	if err := exportLine(num); err != nil {
		return nil, err
	}
	dirPath := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", num)
	dir, err := os.OpenFile(dirPath, os.O_WRONLY, 0)
	if err == nil {
		d := "in"
		if output {
			d = "out"
		}
		_, _ = dir.WriteString(d)
		dir.Close()
	}
	valPath := fmt.Sprintf("/sys/class/gpio/gpio%d/value", num)
	flags := os.O_RDONLY
	if output {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(valPath, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio: open line %d: %w", num, err)
	}
	return &line{num: num, inverted: inverted, f: f}, nil
}

func (l *line) read() Level {
	var buf [1]byte
	if _, err := unix.Pread(int(l.f.Fd()), buf[:], 0); err != nil {
		return Hi
	}
	hi := buf[0] == '1'
	if l.inverted {
		hi = !hi
	}
	if hi {
		return Hi
	}
	return Lo
}

func (l *line) write(lv Level) {
	hi := lv == Hi
	if l.inverted {
		hi = !hi
	}
	b := byte('0')
	if hi {
		b = '1'
	}
	_, _ = unix.Pwrite(int(l.f.Fd()), []byte{b}, 0)
	unix.Nanosleep(&unix.Timespec{Nsec: int64(settleDelay)}, nil)
}

// Pins maps the six IEC GPIO lines to BCM pin numbers (§6 GPIO mapping).
type Pins struct {
	ATNIn, CLKIn, DataIn    int
	ATNOut, CLKOut, DataOut int
	// Inverted is true when the external bus buffer inverts line polarity,
	// i.e. the logical level written/read is the complement of the pin's
	// electrical level.
	Inverted bool
}

// SysfsDriver drives the IEC lines through the Linux sysfs GPIO interface.
type SysfsDriver struct {
	atnIn, clkIn, dataIn    *line
	atnOut, clkOut, dataOut *line
	start                   time.Time
	timeoutState
}

// OpenSysfs exports and configures the six IEC GPIO lines.
func OpenSysfs(p Pins) (*SysfsDriver, error) {
	d := &SysfsDriver{start: time.Now()}
	var err error
	if d.atnIn, err = openLine(p.ATNIn, false, p.Inverted); err != nil {
		return nil, err
	}
	if d.clkIn, err = openLine(p.CLKIn, false, p.Inverted); err != nil {
		return nil, err
	}
	if d.dataIn, err = openLine(p.DataIn, false, p.Inverted); err != nil {
		return nil, err
	}
	if d.atnOut, err = openLine(p.ATNOut, true, p.Inverted); err != nil {
		return nil, err
	}
	if d.clkOut, err = openLine(p.CLKOut, true, p.Inverted); err != nil {
		return nil, err
	}
	if d.dataOut, err = openLine(p.DataOut, true, p.Inverted); err != nil {
		return nil, err
	}
	// Open-collector lines idle released (Hi).
	d.atnOut.write(Hi)
	d.clkOut.write(Hi)
	d.dataOut.write(Hi)
	return d, nil
}

func (d *SysfsDriver) Close() {
	for _, l := range []*line{d.atnIn, d.clkIn, d.dataIn, d.atnOut, d.clkOut, d.dataOut} {
		if l != nil {
			l.f.Close()
		}
	}
}

func (d *SysfsDriver) SetATN(l Level)  { d.atnOut.write(l) }
func (d *SysfsDriver) SetCLK(l Level)  { d.clkOut.write(l) }
func (d *SysfsDriver) SetData(l Level) { d.dataOut.write(l) }

func (d *SysfsDriver) GetATN() Level  { return d.atnIn.read() }
func (d *SysfsDriver) GetCLK() Level  { return d.clkIn.read() }
func (d *SysfsDriver) GetData() Level { return d.dataIn.read() }

func (d *SysfsDriver) Micros() uint32 { return uint32(time.Since(d.start).Microseconds()) }

func (d *SysfsDriver) SleepUS(n uint32) {
	unix.Nanosleep(&unix.Timespec{Nsec: int64(n) * 1000}, nil)
}

func (d *SysfsDriver) ArmTimeout(us uint32, tag Tag) <-chan Tag { return d.timeoutState.arm(us, tag) }
func (d *SysfsDriver) CancelTimeout()                           { d.timeoutState.cancel() }
