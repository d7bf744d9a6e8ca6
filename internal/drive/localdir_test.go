package drive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/goiec/biec64/internal/petscii"
	"github.com/goiec/biec64/internal/transport"
)

// runLocalDrive spins up a Drive serving dir as a local-mode backend (spec
// §4.6) over the drive side of a Pipe, mirroring runDrive in drive_test.go.
func runLocalDrive(t *testing.T, dir string) (*transport.Transport, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	host, driveEnd := transport.NewPipe()
	d := NewLocalDrive(8, dir, nil)
	go d.Serve(ctx, driveEnd)
	return transport.New(host), cancel
}

func TestLocalDirSaveThenLoadRoundTrip(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	tr, cancel := runLocalDrive(t, dir)
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	is.NoErr(tr.OpenFile(ctx, []byte("HELLO,P,W"), 8, 2))
	_, err := tr.SendData(ctx, []byte{0x01, 0x08, 0xAA, 0xBB}, 8, 2)
	is.NoErr(err)
	is.NoErr(tr.CloseFile(ctx, 8, 2))

	is.NoErr(tr.OpenFile(ctx, []byte("HELLO"), 8, 3))
	got, err := tr.ReceiveData(ctx, 8, 3)
	is.NoErr(err)
	is.Equal(got, []byte{0x01, 0x08, 0xAA, 0xBB})
	is.NoErr(tr.CloseFile(ctx, 8, 3))

	// PETSCII "HELLO" (0x48..0x4F) decodes to lower-case ASCII, so that is
	// the host-side file name.
	onDisk, err := os.ReadFile(filepath.Join(dir, "hello"))
	is.NoErr(err)
	is.Equal(onDisk, []byte{0x01, 0x08, 0xAA, 0xBB})
}

func TestLocalDirDirectoryOpenReturnsListing(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	is.NoErr(os.WriteFile(filepath.Join(dir, "PROG"), []byte{1, 2, 3}, 0o644))

	tr, cancel := runLocalDrive(t, dir)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	is.NoErr(tr.OpenFile(ctx, []byte("$"), 8, 0))
	listing, err := tr.ReceiveData(ctx, 8, 0)
	is.NoErr(err)

	// Load address, then the header line's dummy link and blank disk name
	// (a local directory has no BAM name/ID to report).
	is.True(len(listing) > 8)
	is.Equal(listing[0:8], []byte{0x01, 0x04, 0x01, 0x01, 0x00, 0x00, 0x12, 0x22})

	idx := bytesIndex(listing, petscii.StringToPETSCII("PROG"))
	is.True(idx >= 0)

	is.Equal(listing[len(listing)-2], byte(0))
	is.Equal(listing[len(listing)-1], byte(0))
}

func TestLocalDirScratchRemovesFile(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	// The PETSCII command body "DOOMED" decodes to the host name "doomed".
	is.NoErr(os.WriteFile(filepath.Join(dir, "doomed"), []byte{9}, 0o644))

	tr, cancel := runLocalDrive(t, dir)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	is.NoErr(tr.OpenFile(ctx, []byte("S0:DOOMED"), 8, commandChannel))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "doomed")); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scratch did not remove DOOMED within the deadline")
}
