// biec64 is a Commodore IEC serial bus host/drive tool: it can serve a
// mounted D64 image as a 1541-compatible device over a real GPIO or
// serial-bridge link, or act as the host-side client issuing LOAD/SAVE/
// command/error-channel requests against one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/goiec/biec64/internal/diskimage"
	"github.com/goiec/biec64/internal/drive"
	"github.com/goiec/biec64/internal/engine"
	"github.com/goiec/biec64/internal/gpio"
	"github.com/goiec/biec64/internal/host"
	"github.com/goiec/biec64/internal/logctx"
	"github.com/goiec/biec64/internal/transport"
)

// defaultPins is the BCM pin assignment used by every board this tool has
// actually been run against; original_source/ carries no pin table of its
// own, so a board wired differently needs its own build.
var defaultPins = gpio.Pins{
	ATNIn: 4, CLKIn: 17, DataIn: 27,
	ATNOut: 22, CLKOut: 23, DataOut: 24,
}

// Globals holds the GPIO-backend selection flags shared by every
// subcommand (spec.md §6), the way pdp11.go sits RK0/StartAddr on its one
// runCmd.
type Globals struct {
	GPIOChip string `name:"gpio-chip" help:"use the sysfs GPIO backend (the board's one wired pin set)"`
	TTY      string `name:"tty" help:"use the serial-bridge backend over this device"`
	Baud     uint   `name:"baud" default:"115200" help:"serial-bridge baud rate"`
	Verbose  bool   `name:"verbose" short:"v" help:"echo all log levels, not just warnings"`
}

func (g *Globals) openDriver() (gpio.Driver, error) {
	switch {
	case g.TTY != "":
		return gpio.OpenSerial(g.TTY, g.Baud)
	case g.GPIOChip != "":
		return gpio.OpenSysfs(defaultPins)
	default:
		return nil, fmt.Errorf("main: one of --tty or --gpio-chip is required for a real bus session")
	}
}

func (g *Globals) log() *slog.Logger { return logctx.New(os.Stderr, g.Verbose) }

// openChannel builds an engine bound to the configured driver, impersonating
// identity, starts its Run loop for the lifetime of ctx, and returns its
// Channel (spec §4.3). The caller owns Close.
func (g *Globals) openChannel(ctx context.Context, identity engine.Identity) (*engine.Channel, error) {
	driver, err := g.openDriver()
	if err != nil {
		return nil, err
	}
	e := engine.New(driver, identity, g.log(), false)
	ch, err := e.Open()
	if err != nil {
		return nil, err
	}
	go e.Run(ctx)
	return ch, nil
}

type cli struct {
	Globals

	Serve serveCmd `cmd:"" help:"serve a mounted disk image as an IEC drive"`
	Load  loadCmd  `cmd:"" help:"fetch a file (or directory with name \"$\") from a drive"`
	Save  saveCmd  `cmd:"" help:"send a local file to a drive"`
	Cmd   cmdCmd   `cmd:"" help:"send a DOS command string and print the result"`
	Errch errchCmd `cmd:"" help:"print the drive's current error-channel status"`
}

func main() {
	var c cli
	kctx := kong.Parse(&c)
	kctx.FatalIfErrorf(kctx.Run(&c.Globals))
}

// serveCmd mounts Image — a D64 disk image file, or a local directory
// served directly (spec §4.6 "local mode") — as one IEC device, and either
// runs a persistent drive daemon against a real bus (no Command given), or,
// for local exercising without hardware, runs a single in-process
// host/drive session over a Pipe and prints the result (spec §5's two
// one-directional byte channels, implemented here as goroutines rather
// than raspbiec's forked processes).
type serveCmd struct {
	Image   string `arg:"" type:"path" help:"D64 disk image, or a directory to serve in local mode"`
	Command string `arg:"" optional:"" help:"if given, run this one DOS command against an in-process session and exit"`
	Device  int    `arg:"" optional:"" default:"8" help:"IEC device number (8-11)"`
}

// openDrive picks image-mode or local-directory mode by statting Image,
// mirroring raspbiec_drive.cpp's drive::serve S_ISREG/S_ISDIR branch, and
// returns a func to release whatever backend it opened.
func (s *serveCmd) openDrive(log *slog.Logger) (*drive.Drive, func() error, error) {
	info, err := os.Stat(s.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("main: %w", err)
	}
	if info.IsDir() {
		return drive.NewLocalDrive(s.Device, s.Image, log), func() error { return nil }, nil
	}
	im, err := diskimage.Open(s.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("main: %w", err)
	}
	return drive.NewDrive(s.Device, im, log), im.Close, nil
}

func (s *serveCmd) Run(g *Globals) error {
	log := g.log()
	d, release, err := s.openDrive(log)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if s.Command == "" {
		ch, err := g.openChannel(ctx, engine.Identity(s.Device))
		if err != nil {
			return err
		}
		defer ch.Close()
		return d.Serve(ctx, ch)
	}
	return serveOneShot(ctx, s.Device, s.Command, d)
}

// serveOneShot wires a Drive to one end of an in-process Pipe and runs a
// single host-side Command against it, for exercising a command without
// real bus hardware attached.
func serveOneShot(ctx context.Context, dev int, command string, d *drive.Drive) error {
	hostEnd, driveEnd := transport.NewPipe()
	go d.Serve(ctx, driveEnd)

	h := host.New(transport.New(hostEnd), dev)
	msg, err := h.Command(ctx, command)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

type loadCmd struct {
	Filename string `arg:"" help:"remote filename, or \"$\" for a directory listing"`
	Local    string `arg:"" optional:"" help:"local destination path; defaults to the remote name"`
	Device   int    `arg:"" optional:"" default:"8" help:"IEC device number (8-11)"`
}

func (l *loadCmd) Run(g *Globals) error {
	if l.Local == "" {
		l.Local = l.Filename
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	h, ch, err := connect(ctx, g, l.Device)
	if err != nil {
		return err
	}
	defer ch.Close()

	n, err := h.Load(ctx, l.Filename, l.Local)
	if err != nil {
		return err
	}
	fmt.Printf("%d bytes loaded\n", n)
	return nil
}

type saveCmd struct {
	Local    string `arg:"" type:"existingfile" help:"local source path"`
	Filename string `arg:"" optional:"" help:"remote filename; defaults to the local base name"`
	Device   int    `arg:"" optional:"" default:"8" help:"IEC device number (8-11)"`
}

func (s *saveCmd) Run(g *Globals) error {
	if s.Filename == "" {
		s.Filename = filepath.Base(s.Local)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	h, ch, err := connect(ctx, g, s.Device)
	if err != nil {
		return err
	}
	defer ch.Close()

	n, err := h.Save(ctx, s.Local, s.Filename)
	if err != nil {
		return err
	}
	fmt.Printf("%d bytes saved\n", n)
	return nil
}

type cmdCmd struct {
	Command string `arg:"" help:"DOS command string, e.g. \"S0:DOOMED\""`
	Device  int    `arg:"" optional:"" default:"8" help:"IEC device number (8-11)"`
}

func (c *cmdCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	h, ch, err := connect(ctx, g, c.Device)
	if err != nil {
		return err
	}
	defer ch.Close()

	msg, err := h.Command(ctx, c.Command)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

type errchCmd struct {
	Device int `arg:"" optional:"" default:"8" help:"IEC device number (8-11)"`
}

func (e *errchCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	h, ch, err := connect(ctx, g, e.Device)
	if err != nil {
		return err
	}
	defer ch.Close()

	msg, err := h.ReadErrorChannel(ctx)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// connect opens the configured GPIO backend impersonating the computer
// identity, starting its Run loop for the lifetime of ctx, and wraps it as
// a host-side Transport against dev.
func connect(ctx context.Context, g *Globals, dev int) (*host.Host, *engine.Channel, error) {
	ch, err := g.openChannel(ctx, engine.IdentityComputer)
	if err != nil {
		return nil, nil, err
	}
	return host.New(transport.New(ch), dev), ch, nil
}
