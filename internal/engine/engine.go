// Package engine implements the IEC three-wire handshake as a timed state
// machine (spec §4.2) and exposes it to user space as a blocking
// byte/sentinel Channel (spec §4.3).
//
// The original raspbiec kernel driver dispatches one GPIO-interrupt or
// hrtimer event at a time, because kernel interrupt context cannot simply
// block. A single Go goroutine has no such constraint, so the busy-wait
// helpers below (waitLevel) poll for the engine's full documented timeout
// directly, instead of the original's two-phase "busy-wait a short bound,
// then arm an interrupt" split. The state set, timing windows and
// transaction algorithm are otherwise a direct port.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/gpio"
	"github.com/goiec/biec64/internal/iec"
	"github.com/goiec/biec64/internal/logctx"
	"log/slog"
)

const fifoSize = 1024

// Engine is the single owner of a bus: the GPIO lines (via a gpio.Driver)
// and the two FIFOs described in spec §3. Exactly one Channel may be taken
// from it at a time (spec §3 "Exactly one client may hold the device open").
type Engine struct {
	driver gpio.Driver
	log    *slog.Logger

	readFIFO  chan iec.Value // engine -> user
	writeFIFO chan iec.Value // user -> engine

	identity Identity
	devState Role // bus role assigned to this device by TALK/LISTEN
	underATN bool
	eoi      eoiState
	strict   bool

	mu              sync.Mutex
	state           State
	lastStatus      biecerr.Code
	notify          notifyState
	talkInterrupted bool

	opened bool
}

// New builds an Engine bound to driver, initially impersonating identity.
// log may be nil, in which case a discarding logger is used.
func New(driver gpio.Driver, identity Identity, log *slog.Logger, strict bool) *Engine {
	if log == nil {
		log = logctx.New(nil, false)
	}
	e := &Engine{
		driver:    driver,
		log:       log,
		readFIFO:  make(chan iec.Value, fifoSize),
		writeFIFO: make(chan iec.Value, fifoSize),
		identity:  identity,
		strict:    strict,
	}
	e.reset()
	return e
}

// Open returns the Channel for this engine, failing if one is already open.
func (e *Engine) Open() (*Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return nil, fmt.Errorf("engine: device busy")
	}
	e.opened = true
	return &Channel{e: e}, nil
}

// release is called by Channel.Close.
func (e *Engine) release() {
	e.mu.Lock()
	e.opened = false
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Debug("state", "state", s.String())
}

// State returns the current engine state (debug-only attribute, spec §4.3).
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) reset() {
	e.setState(StateReset)
	e.driver.CancelTimeout()
	e.driver.SetCLK(gpio.Hi)
	e.driver.SetData(gpio.Hi)
	e.driver.SetATN(gpio.Hi)
	e.mu.Lock()
	e.lastStatus = biecerr.OK
	if e.notify == notifyClearingPending {
		e.notify = notifyNone
	}
	e.devState = RoleIdle
	e.underATN = false
	e.eoi = eoiNo
	e.mu.Unlock()
	e.setState(StateIdle)
}

// SetIdentity switches identity and resets the engine (spec §4.2.5).
func (e *Engine) SetIdentity(id Identity) error {
	if id != IdentityComputer && !id.IsDrive() {
		return biecerr.New(biecerr.IllegalDeviceNumber)
	}
	e.mu.Lock()
	e.identity = id
	e.mu.Unlock()
	e.reset()
	return nil
}

func (e *Engine) Identity() Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// postError records code as the engine's error substate (spec §4.2.7): the
// next Read returns EIO, the one after that returns code itself, and the
// engine then blocks until CLEAR_ERROR — the code is never pushed onto
// readFIFO, since Channel.Read's notifySendCode branch already delivers it
// exactly once from lastStatus.
func (e *Engine) postError(code biecerr.Code) {
	e.mu.Lock()
	e.lastStatus = code
	if e.notify == notifyNone {
		e.notify = notifyReturnEIO
	}
	e.mu.Unlock()
	e.log.Warn("bus error", "code", code.String())
}

func (e *Engine) clearError() {
	e.mu.Lock()
	e.lastStatus = biecerr.OK
	if e.notify == notifyClearingPending {
		e.notify = notifyNone
	}
	e.mu.Unlock()
}

func (e *Engine) post(v iec.Value) {
	select {
	case e.readFIFO <- v:
	default:
		e.log.Warn("read fifo full, dropping value")
	}
}

// waitLevel polls get() until it reports want or timeoutUS microseconds
// have elapsed; it reports whether want was observed.
func (e *Engine) waitLevel(get func() gpio.Level, want gpio.Level, timeoutUS uint32) bool {
	start := e.driver.Micros()
	for {
		if get() == want {
			return true
		}
		if e.driver.Micros()-start >= timeoutUS {
			return false
		}
	}
}

func (e *Engine) sleepUS(n uint32) { e.driver.SleepUS(n) }

func (e *Engine) releaseBus() {
	e.driver.SetCLK(gpio.Hi)
	e.driver.SetData(gpio.Hi)
}

func (e *Engine) idleState() {
	e.driver.SetATN(gpio.Hi)
	e.releaseBus()
}

// Run drives the engine until ctx is cancelled. It is meant to be the body
// of the one goroutine the device owns for its lifetime.
func (e *Engine) Run(ctx context.Context) {
	for ctx.Err() == nil {
		id := e.Identity()
		if id == IdentityComputer && e.devState == RoleListen {
			// TURNAROUND (processUserData) made the host the bus listener
			// (spec §4.2.5 "enter RECEIVE_BYTE"): drain the drive's talker
			// stream the same way a drive receives command/data bytes,
			// just without the ATN address/command framing.
			e.receiveCommandPhase(ctx)
			continue
		}
		if id == IdentityComputer || (e.devState == RoleTalk && e.eoi != eoiSent) {
			if !e.processUserData(ctx) {
				return
			}
			continue
		}
		if !e.waitATNAssert(ctx) {
			continue
		}
		e.onATNAsserted()
		e.receiveCommandPhase(ctx)
	}
}

// waitATNAssert blocks (with a poll bound and missed-edge re-check) until
// ATN goes low, honouring ctx cancellation. It returns false on cancellation.
func (e *Engine) waitATNAssert(ctx context.Context) bool {
	e.setState(StateWaitATNAssert)
	for {
		if ctx.Err() != nil {
			return false
		}
		if e.waitLevel(e.driver.GetATN, gpio.Lo, atnMissedEdgeUS) {
			e.setState(StateCheckATN)
			return true
		}
	}
}

func (e *Engine) onATNAsserted() {
	if !e.underATN {
		e.post(iec.AssertATN)
		e.underATN = true
		e.clearError()
	}
	e.driver.SetCLK(gpio.Hi)
	e.driver.SetData(gpio.Lo)
	e.eoi = eoiNo
	e.waitLevel(e.driver.GetCLK, gpio.Lo, bitWaitTimeoutUS)
}

// receiveCommandPhase receives command/data bytes while ATN stays asserted,
// and the first byte or two of data once it deasserts, exactly mirroring
// IEC_RECEIVE_BYTE / IEC_NEXT_CMD_BYTE in the ported driver.
func (e *Engine) receiveCommandPhase(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if e.driver.GetATN() == gpio.Hi {
			e.onATNDeasserted()
			if e.devState != RoleListen {
				return
			}
			// fall through to continue receiving data bytes.
		}
		b, eoiFlag, biterr, err := e.receiveByte(ctx)
		if err != nil {
			e.postError(err.(*biecerr.Error).Code)
			e.idleState()
			if e.Identity() == IdentityComputer {
				e.devState = RoleIdle // back to Run's processUserData branch
			}
			return
		}
		under := e.underATN
		if under {
			e.post(-iec.Value(b))
		} else {
			e.post(iec.Value(b))
		}
		if biterr {
			e.post(iec.PrevByteError)
		}
		if under {
			stop := e.dispatchCommandByte(b)
			if stop {
				return
			}
			continue
		}
		if eoiFlag {
			e.post(iec.EOI)
			e.sleepUS(eoiResponseHoldUS)
			e.releaseBus()
			if e.Identity() == IdentityComputer {
				e.devState = RoleIdle // back to Run's processUserData branch
			}
			return
		}
	}
}

// dispatchCommandByte interprets a just-received command byte under ATN and
// reports whether the command phase (for this device) is finished.
func (e *Engine) dispatchCommandByte(b byte) (done bool) {
	id := e.Identity()
	switch {
	case b == iec.CmdUnlisten || b == iec.CmdUntalk:
		e.devState = RoleIdle
	case id.IsDrive() && b == iec.Talk(id.DeviceNumber()):
		e.devState = RoleTalk
		return false // keep receiving command bytes under ATN
	case id.IsDrive() && b == iec.Listen(id.DeviceNumber()):
		e.devState = RoleListen
		return false
	case iec.IsData(b) || iec.IsClose(b) || iec.IsOpen(b):
		// secondary-address byte: interpreted by the drive-emulation layer.
	default:
		e.releaseBus()
		e.devState = RoleIdle
	}
	e.waitATNDeassert()
	// If we're now the listener, keep this same reception loop running to
	// receive the data bytes that follow; otherwise hand control back to Run.
	return e.devState != RoleListen
}

func (e *Engine) waitATNDeassert() bool {
	e.setState(StateWaitATNDeassert)
	for {
		if e.driver.GetATN() == gpio.Hi {
			e.onATNDeasserted()
			return true
		}
		if e.waitLevel(e.driver.GetATN, gpio.Hi, atnMissedEdgeUS) {
			e.onATNDeasserted()
			return true
		}
	}
}

func (e *Engine) onATNDeasserted() {
	if e.underATN {
		e.post(iec.DeassertATN)
		e.underATN = false
	}
	switch e.devState {
	case RoleListen:
		// caller continues to receive data bytes.
	case RoleTalk:
		e.driver.SetData(gpio.Hi)
		e.driver.SetCLK(gpio.Lo)
		e.sleepUS(talkAttnAckHoldUS)
		e.eoi = eoiNo
	default:
		e.releaseBus()
	}
}

// receiveByte performs the listener-side 8-bit reception, spec §4.2.2.
func (e *Engine) receiveByte(ctx context.Context) (b byte, eoiFlag bool, biterr bool, err error) {
	e.setState(StateReceiveByte)
	e.driver.SetCLK(gpio.Hi)
	if !e.waitLevel(e.driver.GetCLK, gpio.Hi, bitWaitTimeoutUS) {
		return 0, false, false, biecerr.New(biecerr.ReadTimeout)
	}

	e.setState(StateRemoteTalkerReady)
	if e.driver.GetATN() == gpio.Lo && !e.underATN {
		e.post(iec.AssertATN)
		e.underATN = true
		e.clearError()
	}
	e.driver.SetData(gpio.Hi) // listener ready for data
	e.waitLevel(e.driver.GetData, gpio.Hi, listenerRFDBusyUS)

	e.setState(StateListenerReadyForData)
	if !e.waitLevel(e.driver.GetCLK, gpio.Lo, eoiTimeoutUS) {
		if e.eoi == eoiNo {
			e.driver.SetData(gpio.Lo)
			e.eoi = eoiReceived
			e.sleepUS(eoiResponseHoldUS)
			e.driver.SetData(gpio.Hi)
			if !e.waitLevel(e.driver.GetCLK, gpio.Lo, eoiTimeoutUS) {
				e.releaseBus()
				return 0, false, false, biecerr.New(biecerr.ReadTimeout)
			}
		} else {
			e.releaseBus()
			return 0, false, false, biecerr.New(biecerr.ReadTimeout)
		}
	}

	var shift byte
	for i := 0; i < 8; i++ {
		if !e.waitLevel(e.driver.GetCLK, gpio.Hi, bitWaitTimeoutUS) {
			biterr = true
		}
		shift >>= 1
		if e.driver.GetData() == gpio.Hi {
			shift |= 0x80
		}
		if !e.waitLevel(e.driver.GetCLK, gpio.Lo, bitWaitTimeoutUS) {
			biterr = true
		}
	}
	e.sleepUS(frameHandshakeUS)
	e.driver.SetData(gpio.Lo)

	eoiFlag = e.eoi == eoiReceived
	e.eoi = eoiNo
	return shift, eoiFlag, biterr, nil
}

// processUserData feeds queued writeFIFO values to the bus: command bytes,
// data bytes, and bus-phase sentinels (spec §4.2.5). It returns false when
// the context is cancelled.
func (e *Engine) processUserData(ctx context.Context) bool {
	e.setState(StateProcessUserData)
	var v iec.Value
	select {
	case <-ctx.Done():
		return false
	case v = <-e.writeFIFO:
	case <-time.After(2 * time.Millisecond):
		return true
	}

	switch {
	case v == iec.AssertATN:
		e.driver.SetData(gpio.Hi)
		e.driver.SetCLK(gpio.Hi)
		e.driver.SetATN(gpio.Lo)
		e.clearError()
	case v == iec.DeassertATN:
		e.sleepUS(attnReleaseToATNUS)
		e.driver.SetATN(gpio.Hi)
		e.sleepUS(talkAttnReleaseUS)
	case v == iec.BusIdle:
		e.sleepUS(attnReleaseToATNUS)
		e.idleState()
		e.devState = RoleIdle
	case v == iec.LastByteNext:
		e.eoi = eoiSend
	case v == iec.Turnaround:
		e.driver.SetData(gpio.Lo)
		e.driver.SetATN(gpio.Hi)
		e.driver.SetCLK(gpio.Hi)
		e.waitLevel(e.driver.GetCLK, gpio.Lo, writeTimeoutUS)
		e.devState = RoleListen
	case v == iec.ClearError:
		e.mu.Lock()
		e.notify = notifyNone
		e.lastStatus = biecerr.OK
		e.mu.Unlock()
	case isIdentitySentinel(v):
		id, err := identityFromSentinel(v)
		if err != nil {
			e.postError(biecerr.IllegalDeviceNumber)
			return true
		}
		e.SetIdentity(id)
	case iec.IsCommandRange(v):
		e.sendCommandByte(iec.CommandByte(v))
	default:
		e.sendDataByte(byte(v))
	}
	return true
}

func isIdentitySentinel(v iec.Value) bool {
	return v == iec.IdentityComp || (v <= -0x1E0 && v >= -0x1FF)
}

func identityFromSentinel(v iec.Value) (Identity, error) {
	if v == iec.IdentityComp {
		return IdentityComputer, nil
	}
	dev := int(-v) & 0x1F
	if dev < 8 || dev > 11 {
		return 0, biecerr.New(biecerr.IllegalDeviceNumber)
	}
	return Identity(dev), nil
}

// sendCommandByte is the host driving a command byte out under ATN
// (IEC_SEND_COMMAND / IEC_SEND_BYTE in the ported driver).
func (e *Engine) sendCommandByte(b byte) {
	e.setState(StateSendCommand)
	e.driver.SetCLK(gpio.Lo)
	e.driver.SetData(gpio.Hi)
	e.waitLevel(e.driver.GetCLK, gpio.Lo, writeTimeoutUS)
	e.transmitByte(b, true)
}

// sendDataByte is the talker sending one data byte (spec §4.2.3).
func (e *Engine) sendDataByte(b byte) {
	eoiNow := e.eoi == eoiSend
	if e.identity.IsDrive() && e.driver.GetATN() == gpio.Lo {
		e.mu.Lock()
		e.talkInterrupted = true
		e.mu.Unlock()
		e.setState(StateEOIATNAsserted)
		return
	}
	e.driver.SetCLK(gpio.Hi)
	if !e.waitLevel(e.driver.GetData, gpio.Hi, deviceNotPresentUS) {
		e.releaseBus()
		e.postError(biecerr.DeviceNotPresent)
		return
	}
	if eoiNow {
		e.setState(StateEOIHandshake)
		e.waitLevel(e.driver.GetData, gpio.Lo, eoiHandshakeBusyUS)
		e.eoi = eoiSent
		e.setState(StateEOIHandshakeEnd)
		e.waitLevel(e.driver.GetData, gpio.Hi, eoiHandshakeEndBusyUS)
	}
	e.sleepUS(nonEOIResponseUS)
	if e.identity.IsDrive() && e.driver.GetATN() == gpio.Lo {
		e.mu.Lock()
		e.talkInterrupted = true
		e.mu.Unlock()
		e.setState(StateEOIATNAsserted)
		return
	}
	e.transmitByte(b, true)
}

func (e *Engine) transmitByte(b byte, checkAccepted bool) {
	e.driver.SetCLK(gpio.Lo)
	timing := computerTalkTiming
	if e.identity.IsDrive() {
		timing = driveTalkTiming
	}
	for i := 0; i < 8; i++ {
		if e.driver.GetData() == gpio.Lo {
			e.releaseBus()
			e.postError(biecerr.WriteTimeout)
			return
		}
		e.sleepUS(timing.dataHi)
		if b&1 != 0 {
			e.driver.SetData(gpio.Hi)
		} else {
			e.driver.SetData(gpio.Lo)
		}
		b >>= 1
		e.sleepUS(timing.dataSettle)
		e.driver.SetCLK(gpio.Hi)
		e.sleepUS(timing.dataValid)
		e.driver.SetCLK(gpio.Lo)
		e.driver.SetData(gpio.Hi)
	}
	if checkAccepted {
		if !e.waitLevel(e.driver.GetData, gpio.Lo, writeTimeoutUS) {
			e.idleState()
			e.postError(biecerr.WriteTimeout)
		}
	}
}
