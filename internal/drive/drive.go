// Package drive implements C6: the per-device DOS emulation layer that
// serves LISTEN/TALK/OPEN/CLOSE/DATA traffic against a mounted disk image,
// classifies command-channel strings, and synthesizes directory listings.
// Grounded on raspbiec_drive.cpp's channel table and main command loop.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/diskimage"
	"github.com/goiec/biec64/internal/iec"
	"github.com/goiec/biec64/internal/logctx"
	"github.com/goiec/biec64/internal/petscii"
)

// Channel is the blocking byte/sentinel interface a Drive serves from,
// identical to transport.Channel — satisfied by *engine.Channel
// impersonating a drive identity, or by one end of an in-process Pipe
// (spec §5).
type Channel interface {
	Read(ctx context.Context) (iec.Value, error)
	Write(ctx context.Context, v iec.Value) (int, error)
}

// commandChannel is the secondary address reserved for DOS command strings
// and the error channel (spec §4.6).
const commandChannel = 15

// Drive serves one IEC device number against a Backend: a mounted disk
// image, or a local host directory (spec §4.6 "local mode").
type Drive struct {
	dev     int
	backend Backend
	log     *slog.Logger

	channels [16]ChannelState

	selected bool // we were the addressee of the most recently seen LISTEN/TALK
	talking  bool // current role is talker, as opposed to listener
	sa       int  // secondary address named by the pending OPEN/DATA/CLOSE

	incomingLastNext bool

	LastError biecerr.Code // surfaced on the sa-15 error channel by the host layer
}

// NewDrive builds a Drive serving a mounted D64 image im as device dev
// (8..11).
func NewDrive(dev int, im *diskimage.Image, log *slog.Logger) *Drive {
	return newDrive(dev, imageBackend{im}, log)
}

// NewLocalDrive builds a Drive serving a local host directory as device dev
// (8..11), spec §4.6 "local mode".
func NewLocalDrive(dev int, path string, log *slog.Logger) *Drive {
	return newDrive(dev, NewLocalDir(path), log)
}

func newDrive(dev int, backend Backend, log *slog.Logger) *Drive {
	if log == nil {
		log = logctx.New(nil, false)
	}
	return &Drive{dev: dev, backend: backend, log: log, LastError: biecerr.OK}
}

// Serve runs the reactive command loop until ctx is cancelled (spec §4.6).
func (d *Drive) Serve(ctx context.Context, ch Channel) error {
	for {
		v, err := ch.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if code, ok := biecerr.As(err); ok && code == biecerr.Signal {
				return nil
			}
			d.log.Warn("drive read error", "err", err)
			continue
		}
		d.handle(ctx, ch, v)
	}
}

func (d *Drive) handle(ctx context.Context, ch Channel, v iec.Value) {
	switch {
	case v == iec.AssertATN, v == iec.DeassertATN, v == iec.ClearError, v == iec.Turnaround:
		// bus-phase bookkeeping the real engine already resolved electrically.
	case v == iec.BusIdle:
		d.selected, d.talking = false, false
	case iec.IsCommandRange(v):
		d.handleCommandByte(ctx, ch, iec.CommandByte(v))
	case v == iec.LastByteNext:
		d.incomingLastNext = true
	case v == iec.EOI:
		d.finishIncoming(ctx)
	case v >= 0 && v <= 255:
		d.appendIncoming(ctx, byte(v))
	default:
		d.log.Warn("unexpected sentinel on drive channel", "value", int16(v))
	}
}

func (d *Drive) handleCommandByte(ctx context.Context, ch Channel, b byte) {
	switch {
	case iec.IsListen(b):
		d.selected = iec.Device(b) == d.dev
		d.talking = false
	case iec.IsTalk(b):
		d.selected = iec.Device(b) == d.dev
		d.talking = d.selected
	case b == iec.CmdUnlisten:
		d.selected, d.talking = false, false
	case b == iec.CmdUntalk:
		d.selected, d.talking = false, false
		d.channels[commandChannel].reset() // each error-channel read sees the current status once
	case iec.IsOpen(b):
		if !d.selected {
			return
		}
		d.sa = iec.SecondaryAddress(b)
		d.channels[d.sa].reset()
		d.channels[d.sa].LastCommand = b
	case iec.IsClose(b):
		if !d.selected {
			return
		}
		d.closeChannel(iec.SecondaryAddress(b))
	case iec.IsData(b):
		if !d.selected {
			return
		}
		d.sa = iec.SecondaryAddress(b)
		if d.talking {
			if d.sa == commandChannel && d.channels[d.sa].Pending == nil {
				d.channels[d.sa].Pending = d.errorChannelBytes()
			}
			d.sendChannel(ctx, ch, d.sa)
		}
	}
}

func (d *Drive) appendIncoming(ctx context.Context, b byte) {
	if !d.selected || d.talking {
		return
	}
	c := &d.channels[d.sa]
	if c.Open {
		c.Pending = append(c.Pending, b)
	} else {
		c.RawName = append(c.RawName, b)
	}
	if d.incomingLastNext {
		d.finishIncoming(ctx)
	}
}

func (d *Drive) finishIncoming(ctx context.Context) {
	d.incomingLastNext = false
	if !d.selected {
		return
	}
	c := &d.channels[d.sa]
	if d.sa == commandChannel && !c.Open {
		d.runCommand(c.RawName)
		c.RawName = nil
		return
	}
	if !c.Open {
		d.openChannel(d.sa)
	}
}

// splitOpenName splits an OPEN name's "name,type,mode" ASCII form, matching
// the C64 KERNAL's OPEN filename convention (e.g. "HELLO,P,W").
func splitOpenName(ascii string) (name string, mode, ftype byte) {
	mode, ftype = 'R', 'P'
	fields := strings.Split(ascii, ",")
	name = fields[0]
	if len(fields) > 1 && len(fields[1]) > 0 {
		ftype = strings.ToUpper(fields[1][:1])[0]
	}
	if len(fields) > 2 && len(fields[2]) > 0 {
		mode = strings.ToUpper(fields[2][:1])[0]
	}
	return name, mode, ftype
}

// openChannel resolves a completed OPEN, fetching file or listing contents
// for a read, or priming a write buffer for a save (spec §4.5/§4.6).
func (d *Drive) openChannel(sa int) {
	c := &d.channels[sa]
	raw := c.RawName
	c.RawName = nil
	c.Open = true

	if len(raw) == 0 {
		return
	}
	ascii := petscii.BytesToASCII(raw)
	c.ASCIIName = ascii

	if strings.HasPrefix(ascii, "$") {
		c.IsDirectory = true
		listing, err := d.backend.Listing()
		if err != nil {
			code, _ := biecerr.As(err)
			d.LastError = code
			d.log.Warn("directory listing failed", "err", err)
			return
		}
		c.Pending = listing
		return
	}

	name, mode, ftype := splitOpenName(ascii)
	c.DecodedName, c.Mode, c.FileType = []byte(name), mode, ftype

	if mode == 'W' || mode == 'A' {
		return // contents accumulate in c.Pending until CLOSE
	}

	data, err := d.backend.ReadFile(name)
	if err != nil {
		code, _ := biecerr.As(err)
		d.LastError = code
		d.log.Warn("open for read failed", "name", name, "err", err)
		return
	}
	c.Pending = data
}

// closeChannel commits a pending write, if any, and resets the slot.
func (d *Drive) closeChannel(sa int) {
	c := &d.channels[sa]
	if (c.Mode == 'W' || c.Mode == 'A') && len(c.DecodedName) > 0 {
		if err := d.backend.WriteFile(string(c.DecodedName), c.Pending); err != nil {
			code, _ := biecerr.As(err)
			d.LastError = code
			d.log.Warn("close write failed", "name", string(c.DecodedName), "err", err)
		}
	}
	c.reset()
}

// sendChannel streams the remainder of a channel's Pending buffer to the
// bus, flagging the final byte with LAST_BYTE_NEXT (spec §4.4).
func (d *Drive) sendChannel(ctx context.Context, ch Channel, sa int) {
	c := &d.channels[sa]
	data := c.Pending[c.readPos:]
	for i, b := range data {
		if i == len(data)-1 {
			if _, err := ch.Write(ctx, iec.LastByteNext); err != nil {
				d.log.Warn("send failed", "err", err)
				return
			}
		}
		if _, err := ch.Write(ctx, iec.Value(b)); err != nil {
			d.log.Warn("send failed", "err", err)
			return
		}
	}
	c.readPos = len(c.Pending)
}

// runCommand classifies and, for the three commands that mutate the image,
// executes a command string received on the command channel (spec §4.6).
// Unrecognised commands are logged and surface as GeneralError on the error
// channel, per SPEC_FULL.md's C6 Open Question resolution.
func (d *Drive) runCommand(raw []byte) {
	parsed, ok := ClassifyCommand(raw)
	if !ok {
		d.LastError = biecerr.GeneralError
		d.log.Warn("unrecognised DOS command", "command", petscii.BytesToASCII(raw))
		return
	}

	ascii := petscii.BytesToASCII(raw)
	body := ascii
	if i := strings.IndexByte(ascii, ':'); i >= 0 {
		body = ascii[i+1:]
	}

	var err error
	switch parsed.Kind {
	case CmdScratch:
		names := strings.Split(body, ",")
		total := 0
		for _, n := range names {
			if count, serr := d.backend.ScratchFile(n); serr == nil {
				total += count
			} else {
				err = serr
			}
		}
	case CmdRename:
		parts := strings.SplitN(body, "=", 2)
		if len(parts) != 2 {
			err = biecerr.New(biecerr.GeneralError)
			break
		}
		err = d.backend.RenameFile(parts[1], parts[0])
	case CmdCopy:
		parts := strings.SplitN(body, "=", 2)
		if len(parts) != 2 {
			err = biecerr.New(biecerr.GeneralError)
			break
		}
		var data []byte
		data, err = d.backend.ReadFile(parts[1])
		if err == nil {
			err = d.backend.WriteFile(parts[0], data)
		}
	case CmdUtilLoader:
		d.log.Info("util-loader name recognised", "name", petscii.BytesToASCII(parsed.UtilName))
	case CmdNew:
		d.log.Info("NEW command recorded; format is out of scope for a mounted image")
	default:
		d.log.Debug("DOS command classified", "kind", parsed.Kind, "sub", parsed.Sub)
	}

	if err != nil {
		code, _ := biecerr.As(err)
		d.LastError = code
		d.log.Warn("DOS command failed", "command", ascii, "err", err)
	} else {
		d.LastError = biecerr.OK
	}
}

// errorChannelBytes renders the current error state in the 1541's
// "code,message,00,00" status-line format, PETSCII-encoded (spec §4.7
// "read_error_channel").
func (d *Drive) errorChannelBytes() []byte {
	line := strings.ToUpper(d.LastError.String())
	text := fmt.Sprintf("%02d,%s,00,00\r", errorNumber(d.LastError), line)
	return petscii.StringToPETSCII(text)
}

// errorNumber maps a biecerr.Code to the two-digit status number a real
// 1541 would print; codes without a natural 1541 analogue fall back to 73
// (the DOS-mismatch/general-status code printed at power-up).
func errorNumber(code biecerr.Code) int {
	switch code {
	case biecerr.OK:
		return 0
	case biecerr.FileNotFound:
		return 62
	case biecerr.FileExists:
		return 63
	case biecerr.NoSpaceLeftOnDevice:
		return 72
	case biecerr.GeneralError:
		return 30
	default:
		return 73
	}
}
