// Package transport wraps the bus channel into the semantic primitives
// spec §4.4 describes: LISTEN/TALK/UNLISTEN/UNTALK framing, OPEN/CLOSE,
// buffered-last-byte data transfer, and the identity handshake. Grounded on
// raspbiec.cpp's client-side framing calls and on the channel abstraction
// of internal/engine (C3).
package transport

import (
	"context"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/iec"
)

// Channel is the blocking byte/sentinel interface a Transport drives —
// satisfied by *engine.Channel for a real bus, or by a Pipe end for the
// in-process drive/host co-process (spec §5).
type Channel interface {
	Read(ctx context.Context) (iec.Value, error)
	Write(ctx context.Context, v iec.Value) (int, error)
}

// Transport is the user-side client of a Channel.
type Transport struct {
	ch Channel

	// buffered holds one look-ahead byte for the sender side so the final
	// byte of a transmission can always be preceded by LAST_BYTE_NEXT
	// (spec §4.4 "Buffered last byte").
	hasBuffered bool
	buffered    byte
}

// New wraps ch.
func New(ch Channel) *Transport { return &Transport{ch: ch} }

func (t *Transport) write(ctx context.Context, v iec.Value) error {
	_, err := t.ch.Write(ctx, v)
	return err
}

func (t *Transport) read(ctx context.Context) (iec.Value, error) {
	return t.ch.Read(ctx)
}

// SetIdentity binds the transport to a device identity. On a real bus
// device this posts the identity sentinel; identityless channels (e.g. an
// in-process Pipe) simply skip the sentinel, per spec §4.4.
func (t *Transport) SetIdentity(ctx context.Context, sentinel iec.Value, postsSentinel bool) error {
	if !postsSentinel {
		return nil
	}
	return t.write(ctx, sentinel)
}

// Listen sends the ATN-assert framing and the negated LISTEN command byte.
func (t *Transport) Listen(ctx context.Context, dev int) error {
	return t.sendCommandFramed(ctx, iec.Listen(dev))
}

// Talk sends the ATN-assert framing and the negated TALK command byte.
func (t *Transport) Talk(ctx context.Context, dev int) error {
	return t.sendCommandFramed(ctx, iec.Talk(dev))
}

// Untalk flushes any buffered last byte, then sends UNTALK.
func (t *Transport) Untalk(ctx context.Context) error {
	if err := t.flush(ctx); err != nil {
		return err
	}
	return t.sendCommandFramed(ctx, iec.CmdUntalk)
}

// Unlisten flushes any buffered last byte, then sends UNLISTEN.
func (t *Transport) Unlisten(ctx context.Context) error {
	if err := t.flush(ctx); err != nil {
		return err
	}
	return t.sendCommandFramed(ctx, iec.CmdUnlisten)
}

// sendCommandFramed wraps one command byte in ASSERT_ATN ... DEASSERT_ATN.
func (t *Transport) sendCommandFramed(ctx context.Context, cmd byte) error {
	return t.sendCommandsFramed(ctx, cmd)
}

// sendCommandsFramed wraps one or more command bytes in a single shared
// ASSERT_ATN ... DEASSERT_ATN phase, matching how a real bus holds ATN
// asserted across an address byte and its secondary address (spec §8
// scenario 1: ASSERT_ATN, -LISTEN(8), -OPEN(0), DEASSERT_ATN).
func (t *Transport) sendCommandsFramed(ctx context.Context, cmds ...byte) error {
	if err := t.write(ctx, iec.AssertATN); err != nil {
		return t.abort(ctx, err)
	}
	for _, cmd := range cmds {
		if err := t.write(ctx, iec.Value(-int(cmd))); err != nil {
			return t.abort(ctx, err)
		}
	}
	if err := t.write(ctx, iec.DeassertATN); err != nil {
		return t.abort(ctx, err)
	}
	return nil
}

// abort implements the C4 error-propagation policy (spec §7): flush with
// UNLISTEN/UNTALK + BUS_IDLE, then re-throw to the caller.
func (t *Transport) abort(ctx context.Context, cause error) error {
	_, _ = t.ch.Write(ctx, iec.Value(-int(iec.CmdUnlisten)))
	_, _ = t.ch.Write(ctx, iec.Value(-int(iec.CmdUntalk)))
	_, _ = t.ch.Write(ctx, iec.BusIdle)
	return cause
}

// bufferByte pushes b into the one-byte look-ahead, emitting whatever byte
// was previously buffered first (spec §4.4 "Buffered last byte").
func (t *Transport) bufferByte(ctx context.Context, b byte) error {
	if t.hasBuffered {
		if err := t.write(ctx, iec.Value(t.buffered)); err != nil {
			return err
		}
	}
	t.buffered, t.hasBuffered = b, true
	return nil
}

// flush emits LAST_BYTE_NEXT followed by the buffered byte, if any.
func (t *Transport) flush(ctx context.Context) error {
	if !t.hasBuffered {
		return nil
	}
	if err := t.write(ctx, iec.LastByteNext); err != nil {
		return err
	}
	if err := t.write(ctx, iec.Value(t.buffered)); err != nil {
		return err
	}
	t.hasBuffered = false
	return nil
}

// OpenFile frames LISTEN and OPEN-sa under one shared ATN phase, followed
// by name-bytes (last-byte flagged) / UNLISTEN (spec §4.4, §8 scenario 1).
func (t *Transport) OpenFile(ctx context.Context, name []byte, dev, sa int) error {
	if err := t.sendCommandsFramed(ctx, iec.Listen(dev), iec.Open(sa)); err != nil {
		return err
	}
	for _, b := range name {
		if err := t.bufferByte(ctx, b); err != nil {
			return t.abort(ctx, err)
		}
	}
	return t.Unlisten(ctx)
}

// CloseFile frames LISTEN and CLOSE-sa under one shared ATN phase, then
// UNLISTEN.
func (t *Transport) CloseFile(ctx context.Context, dev, sa int) error {
	if err := t.sendCommandsFramed(ctx, iec.Listen(dev), iec.Close(sa)); err != nil {
		return err
	}
	return t.Unlisten(ctx)
}

// SendData frames LISTEN and DATA-sa under one shared ATN phase, then bytes
// with last-byte framing / UNLISTEN, returning the number of bytes handed
// to the channel.
func (t *Transport) SendData(ctx context.Context, data []byte, dev, sa int) (int, error) {
	if err := t.sendCommandsFramed(ctx, iec.Listen(dev), iec.Data(sa)); err != nil {
		return 0, err
	}
	n := 0
	for _, b := range data {
		if err := t.bufferByte(ctx, b); err != nil {
			return n, t.abort(ctx, err)
		}
		n++
	}
	if err := t.Unlisten(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// ReceiveData frames TALK and DATA-sa under one shared ATN phase, then
// TURNAROUND / stream until EOI or LAST_BYTE_NEXT / UNTALK, handling both
// bus-EOI termination and the in-process pipe's LAST_BYTE_NEXT termination
// (spec §4.4 "Reception termination").
func (t *Transport) ReceiveData(ctx context.Context, dev, sa int) ([]byte, error) {
	if err := t.sendCommandsFramed(ctx, iec.Talk(dev), iec.Data(sa)); err != nil {
		return nil, err
	}
	if err := t.write(ctx, iec.Turnaround); err != nil {
		return nil, t.abort(ctx, err)
	}

	var out []byte
	lastByteNext := false
	for {
		v, err := t.read(ctx)
		if err != nil {
			return out, t.abort(ctx, err)
		}
		switch {
		case v == iec.EOI:
			return out, t.Untalk(ctx)
		case v == iec.LastByteNext:
			lastByteNext = true
		case v == iec.PrevByteError:
			// in-band warning on the preceding byte; data already appended.
		case v >= 0 && v <= 255:
			out = append(out, byte(v))
			if lastByteNext {
				return out, t.Untalk(ctx)
			}
		default:
			// An error sentinel landed mid-reception (spec §4.2.7).
			return out, t.abort(ctx, biecerr.New(biecerr.Code(v)))
		}
	}
}
