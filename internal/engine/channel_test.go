package engine

import (
	"context"
	"testing"
	"time"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/gpio"
	"github.com/goiec/biec64/internal/iec"
	"github.com/matryer/is"
)

func TestOpenRejectsSecondClient(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, IdentityComputer, nil, false)

	ch1, err := e.Open()
	is.NoErr(err)
	defer ch1.Close()

	_, err = e.Open()
	is.True(err != nil)
}

func TestChannelReadReturnsPostedValue(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, IdentityComputer, nil, false)
	ch, err := e.Open()
	is.NoErr(err)

	e.post(iec.Value(42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := ch.Read(ctx)
	is.NoErr(err)
	is.Equal(v, iec.Value(42))
}

func TestChannelReadSurfacesErrorThenCode(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, IdentityComputer, nil, false)
	ch, err := e.Open()
	is.NoErr(err)

	e.mu.Lock()
	e.notify = notifyReturnEIO
	e.lastStatus = biecerr.FileNotFound
	e.mu.Unlock()

	ctx := context.Background()
	_, err = ch.Read(ctx)
	is.True(err != nil)
	code, ok := biecerr.As(err)
	is.True(ok)
	is.Equal(code, biecerr.GeneralError)

	v, err := ch.Read(ctx)
	is.NoErr(err)
	is.Equal(v, iec.Value(biecerr.FileNotFound))

	e.mu.Lock()
	notify := e.notify
	e.mu.Unlock()
	is.Equal(notify, notifyClearingPending)
}

func TestChannelReadRespectsCancellation(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, IdentityComputer, nil, false)
	ch, err := e.Open()
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ch.Read(ctx)
	is.True(err != nil)
	code, ok := biecerr.As(err)
	is.True(ok)
	is.Equal(code, biecerr.Signal)
}

func TestChannelWriteDrainsWhenTalkInterrupted(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, Identity(8), nil, false)
	ch, err := e.Open()
	is.NoErr(err)

	e.mu.Lock()
	e.talkInterrupted = true
	e.mu.Unlock()

	n, err := ch.Write(context.Background(), iec.Value(5))
	is.NoErr(err)
	is.Equal(n, 0)

	select {
	case <-e.writeFIFO:
		t.Fatal("expected no value posted to writeFIFO")
	default:
	}
}

func TestChannelWriteDeliversToFIFO(t *testing.T) {
	is := is.New(t)
	a, _ := gpio.NewSimPair()
	e := New(a, Identity(8), nil, false)
	ch, err := e.Open()
	is.NoErr(err)

	n, err := ch.Write(context.Background(), iec.Value(99))
	is.NoErr(err)
	is.Equal(n, 1)
	is.Equal(<-e.writeFIFO, iec.Value(99))
}
