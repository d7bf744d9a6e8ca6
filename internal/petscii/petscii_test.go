package petscii

import (
	"testing"

	"github.com/matryer/is"
)

func TestRoundTripMappedCharacters(t *testing.T) {
	is := is.New(t)
	mapped := " !\"#$%&'()*+,-./0123456789:;<=>?@" +
		"abcdefghijklmnopqrstuvwxyz" +
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ[]"
	for _, ascii := range []byte(mapped) {
		p := ToPETSCII(ascii)
		got := ToASCII(p)
		is.Equal(got, ascii)
	}
}

func TestUnmappedPETSCIIFoldsToSpace(t *testing.T) {
	is := is.New(t)
	is.Equal(ToASCII(0x01), byte(' '))
	is.Equal(ToASCII(0xA0), byte(' '))
}

func TestCRAndLF(t *testing.T) {
	is := is.New(t)
	is.Equal(ToASCII(0x0D), byte('\r'))
	is.Equal(ToASCII(0x8D), byte('\n'))
}

func TestMatchNameExact(t *testing.T) {
	is := is.New(t)
	is.True(MatchName([]byte("FOO"), PadName([]byte("FOO"))))
}

func TestMatchNameStarWildcard(t *testing.T) {
	is := is.New(t)
	is.True(MatchName([]byte("F*"), PadName([]byte("FOOBAR"))))
}

func TestMatchNameQuestionWildcard(t *testing.T) {
	is := is.New(t)
	is.True(MatchName([]byte("F?O"), PadName([]byte("FXO"))))
}

func TestMatchNameRejectsMismatch(t *testing.T) {
	is := is.New(t)
	is.True(!MatchName([]byte("FOO"), PadName([]byte("BAR"))))
}

func TestPadAndTrimNameRoundTrip(t *testing.T) {
	is := is.New(t)
	padded := PadName([]byte("HELLO"))
	is.Equal(string(TrimName(padded)), "HELLO")
}

func TestTrimNameFullWidth(t *testing.T) {
	is := is.New(t)
	padded := PadName([]byte("SIXTEEN CHARS!!!"))
	is.Equal(len(TrimName(padded)), 16)
}
