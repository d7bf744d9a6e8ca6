package drive

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/diskimage"
	"github.com/goiec/biec64/internal/petscii"
)

// Backend is the storage a Drive serves against (spec §4.6): either a
// mounted D64 disk image or a plain host directory ("local mode"). Names
// are ASCII; a Backend is responsible for whatever encoding its own medium
// needs.
type Backend interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	ScratchFile(pattern string) (int, error)
	RenameFile(oldName, newName string) error
	Listing() ([]byte, error)
}

// imageBackend adapts *diskimage.Image, grounded on raspbiec_diskimage.cpp
// via the diskimage package, to Backend.
type imageBackend struct{ im *diskimage.Image }

func (b imageBackend) ReadFile(name string) ([]byte, error) {
	return b.im.ReadFile(petscii.StringToPETSCII(name))
}

func (b imageBackend) WriteFile(name string, data []byte) error {
	return b.im.WriteFile(petscii.StringToPETSCII(name), data)
}

func (b imageBackend) ScratchFile(pattern string) (int, error) {
	return b.im.ScratchFile(petscii.StringToPETSCII(pattern))
}

func (b imageBackend) RenameFile(oldName, newName string) error {
	return b.im.RenameFile(petscii.StringToPETSCII(oldName), petscii.StringToPETSCII(newName))
}

func (b imageBackend) Listing() ([]byte, error) { return DirectoryListing(b.im), nil }

// LocalDir implements Backend against a real host directory instead of a
// mounted D64 image (spec §4.6 "local mode"): OPEN/SAVE/SCRATCH/RENAME map
// straight onto POSIX file calls, and "$" synthesizes a listing from the
// directory's own entries rather than a BAM/directory-track chain. Grounded
// on raspbiec_drive.cpp's drive::serve S_ISDIR branch and
// raspbiec_utils.cpp's read_local_file/write_local_file/open_local_file.
type LocalDir struct {
	path string
}

// NewLocalDir builds a Backend serving files directly out of path.
func NewLocalDir(path string) *LocalDir { return &LocalDir{path: path} }

func (d *LocalDir) join(name string) string { return filepath.Join(d.path, name) }

func (d *LocalDir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.join(name))
	if err != nil {
		return nil, biecerr.Wrap(biecerr.FileNotFound, err)
	}
	return data, nil
}

func (d *LocalDir) WriteFile(name string, data []byte) error {
	if err := os.WriteFile(d.join(name), data, 0o644); err != nil {
		return biecerr.Wrap(biecerr.SaveError, err)
	}
	return nil
}

// ScratchFile removes every local file matching pattern as a filepath.Glob
// pattern, mirroring the disk-image backend's wildcard SCRATCH (spec §4.6).
func (d *LocalDir) ScratchFile(pattern string) (int, error) {
	matches, err := filepath.Glob(d.join(pattern))
	if err != nil || len(matches) == 0 {
		return 0, biecerr.New(biecerr.FileNotFound)
	}
	n := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			n++
		}
	}
	if n == 0 {
		return 0, biecerr.New(biecerr.FileNotFound)
	}
	return n, nil
}

func (d *LocalDir) RenameFile(oldName, newName string) error {
	if _, err := os.Stat(d.join(newName)); err == nil {
		return biecerr.New(biecerr.FileExists)
	}
	if err := os.Rename(d.join(oldName), d.join(newName)); err != nil {
		return biecerr.Wrap(biecerr.FileNotFound, err)
	}
	return nil
}

func (d *LocalDir) Listing() ([]byte, error) { return LocalDirListing(d.path) }

// LocalDirListing synthesizes the "$" listing for a plain host directory
// (spec §4.6/§4.8, C8): a blank-named header, since a local directory
// carries no BAM disk name/ID, one line per directory entry sized from its
// byte length, and a "BLOCKS FREE." footer computed from the filesystem's
// free space. Grounded directly on raspbiec_utils.cpp's read_local_dir,
// whose header_line/file_line/footer_line tables use the same blank
// 16-space name, "00 2A" id/version, blocks-per-254-bytes rounding, and
// always-PRG type this produces.
func LocalDirListing(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, biecerr.Wrap(biecerr.FileNotFound, err)
	}

	buf := []byte{0x01, 0x04}
	var lineStarts []int

	lineStarts = append(lineStarts, len(buf))
	header := make([]byte, 0, 32)
	header = append(header, 0x12, '"')
	for i := 0; i < 16; i++ {
		header = append(header, ' ')
	}
	header = append(header, '"', ' ', '0', '0', ' ', '2', 'A')
	buf = appendLine(buf, 0, header)

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		blocks := (int(info.Size()) + 253) / 254
		if blocks > 65535 {
			blocks = 65535
		}
		name := ent.Name()
		nameP := petscii.StringToPETSCII(name)
		if len(nameP) > 16 {
			nameP = nameP[:16]
		}
		lineStarts = append(lineStarts, len(buf))
		buf = appendLine(buf, blocks, fileLine(nameP, "PRG "))
	}

	lineStarts = append(lineStarts, len(buf))
	buf = appendLine(buf, localFreeBlocks(dir), []byte("BLOCKS FREE."))

	patchLinks(buf, lineStarts)
	buf = append(buf, 0, 0)

	return buf, nil
}

// localFreeBlocks reports the filesystem's free space in 256-byte blocks,
// capped the same way the original's statvfs-derived freeblocks count is.
func localFreeBlocks(dir string) int {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0
	}
	free := stat.Bavail * uint64(stat.Bsize) / 256
	if free > 65535 {
		free = 65535
	}
	return int(free)
}
