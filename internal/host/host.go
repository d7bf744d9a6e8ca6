// Package host implements C7: the command-line-facing operations built on
// top of a Transport — load, save, send a DOS command string, and read the
// error channel — grounded on spec §4.7 and raspbiec.cpp's equivalent
// top-level client routines.
package host

import (
	"context"
	"fmt"
	"os"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/petscii"
	"github.com/goiec/biec64/internal/transport"
)

// Host is the client-side front end for one device number.
type Host struct {
	tr  *transport.Transport
	dev int
}

// New builds a Host driving tr against device dev (8..11).
func New(tr *transport.Transport, dev int) *Host {
	return &Host{tr: tr, dev: dev}
}

// Load fetches a file (or, for path "$", a directory listing) from the
// device and writes it to the local filesystem, refusing to clobber an
// existing local file unless path is "$" (spec §4.7).
func (h *Host) Load(ctx context.Context, remoteName, localPath string) (int, error) {
	if localPath != "$" {
		if _, err := os.Stat(localPath); err == nil {
			return 0, fmt.Errorf("host: %s already exists", localPath)
		}
	}

	sa := 0
	if err := h.tr.OpenFile(ctx, petscii.StringToPETSCII(remoteName), h.dev, sa); err != nil {
		return 0, h.describe(ctx, err)
	}
	data, err := h.tr.ReceiveData(ctx, h.dev, sa)
	if err != nil {
		return 0, h.describe(ctx, err)
	}

	if localPath == "$" {
		fmt.Println(petscii.BytesToASCII(data))
		return len(data), nil
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("host: writing %s: %w", localPath, err)
	}
	return len(data), nil
}

// Save reads localPath and transmits it to the device under remoteName,
// reporting the number of bytes sent (spec §4.7).
func (h *Host) Save(ctx context.Context, localPath, remoteName string) (int, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("host: reading %s: %w", localPath, err)
	}

	sa := 1
	name := remoteName + ",P,W"
	if err := h.tr.OpenFile(ctx, petscii.StringToPETSCII(name), h.dev, sa); err != nil {
		return 0, h.describe(ctx, err)
	}
	n, err := h.tr.SendData(ctx, data, h.dev, sa)
	if err != nil {
		return n, h.describe(ctx, err)
	}
	if err := h.tr.CloseFile(ctx, h.dev, sa); err != nil {
		return n, h.describe(ctx, err)
	}
	return n, nil
}

// Command sends str as a DOS command on the command channel, then reads
// back the resulting status message (spec §4.7: "open channel 15 for
// LISTEN, send the PETSCII command, UNLISTEN, then read the error
// channel").
func (h *Host) Command(ctx context.Context, str string) (string, error) {
	const commandChannel = 15
	if err := h.tr.OpenFile(ctx, petscii.StringToPETSCII(str), h.dev, commandChannel); err != nil {
		return "", h.describe(ctx, err)
	}
	return h.ReadErrorChannel(ctx)
}

// ReadErrorChannel drains the device's error channel and returns the
// human-readable message (spec §4.7).
func (h *Host) ReadErrorChannel(ctx context.Context) (string, error) {
	const commandChannel = 15
	data, err := h.tr.ReceiveData(ctx, h.dev, commandChannel)
	if err != nil {
		return "", err
	}
	return petscii.BytesToASCII(data), nil
}

// describe reports a bus error together with the device's error-channel
// message, best-effort (spec §4.7's "on any bus error, read the error
// channel for a human message").
func (h *Host) describe(ctx context.Context, cause error) error {
	code, _ := biecerr.As(cause)
	msg, readErr := h.ReadErrorChannel(ctx)
	if readErr != nil || msg == "" {
		return fmt.Errorf("host: %s", code.String())
	}
	return fmt.Errorf("host: %s: %s", code.String(), msg)
}
