package biecerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matryer/is"
)

func TestNewAndAs(t *testing.T) {
	is := is.New(t)
	err := New(FileNotFound)
	code, ok := As(err)
	is.True(ok)
	is.Equal(code, FileNotFound)
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	is := is.New(t)
	underlying := fmt.Errorf("disk read failed")
	err := Wrap(DiskImageError, underlying)

	is.True(errors.Is(err, err))
	is.True(errors.Unwrap(err) == underlying)
	code, ok := As(err)
	is.True(ok)
	is.Equal(code, DiskImageError)
}

func TestAsRejectsForeignError(t *testing.T) {
	is := is.New(t)
	_, ok := As(fmt.Errorf("not a biec error"))
	is.True(!ok)
}

func TestStringKnownAndUnknownCodes(t *testing.T) {
	is := is.New(t)
	is.Equal(FileNotFound.String(), "file not found")
	is.Equal(Code(-999).String(), "error -999")
}

func TestErrorMessageIncludesWrapped(t *testing.T) {
	is := is.New(t)
	err := Wrap(FileWriteError, fmt.Errorf("no space"))
	is.Equal(err.Error(), "file write error: no space")
}
