// Package biecerr carries the IEC error taxonomy as a small sum type
// instead of in-band exceptions, per the escalation policy the engine and
// transport both need to preserve.
package biecerr

import (
	"errors"
	"fmt"
)

// Code is one of the negative IEC error constants.
type Code int16

const (
	OK                    Code = 0
	ClearError            Code = -0x100
	IllegalDeviceNumber   Code = -0x200
	MissingFilename       Code = -0x201
	FileNotFound          Code = -0x202
	WriteTimeout          Code = -0x203
	ReadTimeout           Code = -0x204
	DeviceNotPresent      Code = -0x205
	IllegalState          Code = -0x206
	GeneralError          Code = -0x207
	PrevByteHasError      Code = -0x208
	FileExists            Code = -0x209
	DriverNotPresent      Code = -0x210
	OutOfMemory           Code = -0x211
	UnknownMode           Code = -0x212
	Signal                Code = -0x213
	BusNotIdle            Code = -0x214
	SaveError             Code = -0x215
	UnknownDiskImage      Code = -0x216
	IllegalTrackSector    Code = -0x217
	DiskImageError        Code = -0x218
	NoSpaceLeftOnDevice   Code = -0x219
	FileReadError         Code = -0x220
	FileWriteError        Code = -0x221
)

var messages = map[Code]string{
	ClearError:          "clear error",
	IllegalDeviceNumber: "illegal device number",
	MissingFilename:     "missing filename",
	FileNotFound:        "file not found",
	WriteTimeout:        "write timeout",
	ReadTimeout:         "read timeout",
	DeviceNotPresent:    "device not present",
	IllegalState:        "illegal state",
	GeneralError:        "general error",
	PrevByteHasError:    "previous byte has error",
	FileExists:          "file exists",
	DriverNotPresent:    "driver not present",
	OutOfMemory:         "out of memory",
	UnknownMode:         "unknown mode",
	Signal:              "signal",
	BusNotIdle:          "bus not idle",
	SaveError:           "save error",
	UnknownDiskImage:    "unknown disk image",
	IllegalTrackSector:  "illegal track/sector",
	DiskImageError:      "disk image error",
	NoSpaceLeftOnDevice: "no space left on device",
	FileReadError:       "file read error",
	FileWriteError:      "file write error",
}

// String renders the human message used for the error's stdout line.
func (c Code) String() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return fmt.Sprintf("error %d", int16(c))
}

// Error is a biec error: a code plus the error it wraps, if any.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare Error from a code.
func New(c Code) *Error { return &Error{Code: c} }

// Wrap attaches an underlying error to a code.
func Wrap(c Code, err error) *Error { return &Error{Code: c, Err: err} }

// As extracts a Code from err, returning (code, true) if err is a *Error.
func As(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
