package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/goiec/biec64/internal/diskimage"
	"github.com/goiec/biec64/internal/drive"
	"github.com/goiec/biec64/internal/transport"
)

func newBlankImage(t *testing.T) *diskimage.Image {
	t.Helper()
	geo, ok := diskimage.Lookup(174848)
	if !ok {
		t.Fatal("174848 not recognised")
	}
	data := make([]byte, 174848)

	bamOff, _ := geo.Offset(geo.BAMTrack, geo.BAMSector)
	data[bamOff], data[bamOff+1] = byte(geo.DirTrack), byte(geo.DirSector)
	for track := geo.FirstTrack; track <= geo.LastTrack; track++ {
		if track == geo.DirTrack {
			continue
		}
		n := geo.SectorsPerTrack(track)
		entryOff := bamOff + 4 + 4*(track-1)
		data[entryOff] = byte(n)
		for s := 0; s < n; s++ {
			data[entryOff+1+s/8] |= 1 << uint(s&7)
		}
	}
	dirOff, _ := geo.Offset(geo.DirTrack, geo.DirSector)
	data[dirOff], data[dirOff+1] = 0, 0xFF

	path := filepath.Join(t.TempDir(), "test.d64")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	im, err := diskimage.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return im
}

func newHost(t *testing.T, im *diskimage.Image) *Host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hostEnd, driveEnd := transport.NewPipe()
	d := drive.NewDrive(8, im, nil)
	go d.Serve(ctx, driveEnd)
	return New(transport.New(hostEnd), 8)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	is := is.New(t)
	im := newBlankImage(t)
	h := newHost(t, im)

	dir := t.TempDir()
	src := filepath.Join(dir, "prog.bin")
	is.NoErr(os.WriteFile(src, []byte{0x01, 0x08, 0xAA, 0xBB}, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := h.Save(ctx, src, "HELLO")
	is.NoErr(err)
	is.Equal(n, 4)

	dst := filepath.Join(dir, "out.bin")
	n, err = h.Load(ctx, "HELLO", dst)
	is.NoErr(err)
	is.Equal(n, 4)

	got, err := os.ReadFile(dst)
	is.NoErr(err)
	is.Equal(got, []byte{0x01, 0x08, 0xAA, 0xBB})
}

func TestLoadRefusesToOverwriteExistingLocalFile(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	existing := filepath.Join(dir, "already-there.bin")
	is.NoErr(os.WriteFile(existing, []byte("keep me"), 0o644))

	h := New(nil, 8)
	_, err := h.Load(context.Background(), "ANYTHING", existing)
	is.True(err != nil)

	got, _ := os.ReadFile(existing)
	is.Equal(string(got), "keep me")
}

func TestLoadDollarSignAlwaysAllowed(t *testing.T) {
	is := is.New(t)
	im := newBlankImage(t)
	is.NoErr(im.WriteFile([]byte("PROG"), []byte{1, 2, 3}))
	h := newHost(t, im)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := h.Load(ctx, "$", "$")
	is.NoErr(err)
	is.True(n > 0)
}

func TestCommandThenReadErrorChannelReportsFileNotFound(t *testing.T) {
	is := is.New(t)
	im := newBlankImage(t)
	h := newHost(t, im)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := h.Command(ctx, "S0:NOSUCHFILE")
	is.NoErr(err)
	is.True(len(msg) > 0)
	is.True(strings.Contains(msg, "FILE NOT FOUND"))
}
