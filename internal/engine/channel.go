package engine

import (
	"context"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/iec"
)

// Channel is the blocking byte/sentinel device interface between the engine
// and the user side (spec §4.3). Exactly one Channel may be open on an
// Engine at a time.
type Channel struct {
	e *Engine
}

// Close releases the device so another Open can succeed.
func (c *Channel) Close() { c.e.release() }

// Read blocks until a value is available or ctx is cancelled. If the
// error-notification substate is return-EIO, it fails with EIO and advances
// the substate to send-code, per §4.2.7/§4.3.
func (c *Channel) Read(ctx context.Context) (iec.Value, error) {
	c.e.mu.Lock()
	if c.e.notify == notifyReturnEIO {
		c.e.notify = notifySendCode
		c.e.mu.Unlock()
		return 0, biecerr.New(biecerr.GeneralError) // EIO: caller sees "operation failed"
	}
	if c.e.notify == notifySendCode {
		code := c.e.lastStatus
		c.e.notify = notifyClearingPending
		c.e.mu.Unlock()
		return iec.Value(code), nil
	}
	c.e.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, biecerr.New(biecerr.Signal)
	case v := <-c.e.readFIFO:
		return v, nil
	}
}

// Write blocks until there is FIFO room or ctx is cancelled. When the
// talk-interrupted flag is set, writes drain silently and return 0 without
// posting any bytes (spec §4.3).
func (c *Channel) Write(ctx context.Context, v iec.Value) (int, error) {
	c.e.mu.Lock()
	if c.e.talkInterrupted {
		c.e.talkInterrupted = false
		c.e.mu.Unlock()
		return 0, nil
	}
	c.e.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, biecerr.New(biecerr.Signal)
	case c.e.writeFIFO <- v:
		return 1, nil
	}
}

// State returns the current engine state number (debug-only attribute).
func (c *Channel) State() State { return c.e.State() }
