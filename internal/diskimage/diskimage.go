// Package diskimage implements the D64 disk-image model (spec §4.5 and §3):
// geometry, BAM allocation, directory chain walking, file read/write, and
// the interleaved free-block search. Grounded directly on
// raspbiec_diskimage.cpp.
package diskimage

import (
	"os"

	"github.com/goiec/biec64/internal/biecerr"
	"github.com/goiec/biec64/internal/petscii"
)

// File types stored in a directory entry's low 4 bits, plus the two flag
// bits in the high nibble (spec §6).
const (
	FileDEL = 0x0
	FileSEQ = 0x1
	FilePRG = 0x2
	FileUSR = 0x3
	FileREL = 0x4

	FileLocked = 1 << 6
	FileClosed = 1 << 7
)

// Direntry is one 32-byte directory entry, byte-for-byte as stored on disk.
type Direntry struct {
	LinkTrack, LinkSector   byte
	FileType                byte
	FirstTrack, FirstSector byte
	Name                    [16]byte
	RelSSTrack, RelSSSector byte
	RelRecLen               byte
	Reserved                [6]byte
	SizeLo, SizeHi          byte
}

const direntrySize = 32
const directBlockSize = 256
const direntriesPerBlock = 8

// dataPayloadSize is the payload capacity of a data block: 256 bytes minus
// the 2-byte link header.
const dataPayloadSize = 254

// Image is one mounted, mutable D64 disk image.
type Image struct {
	path string
	data []byte
	geo  Geometry
	dirty bool
}

// Open reads path and recognises its geometry by size (spec §8: a
// recognised size mounts; any other size is UNKNOWN_DISK_IMAGE).
func Open(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, biecerr.Wrap(biecerr.FileNotFound, err)
	}
	geo, ok := Lookup(len(raw))
	if !ok {
		return nil, biecerr.New(biecerr.UnknownDiskImage)
	}
	return &Image{path: path, data: raw, geo: geo}, nil
}

// Close flushes and releases the image.
func (im *Image) Close() error { return im.Flush() }

// Flush writes the image back to disk if it has unsaved changes.
func (im *Image) Flush() error {
	if !im.dirty {
		return nil
	}
	if err := os.WriteFile(im.path, im.data, 0o644); err != nil {
		return biecerr.Wrap(biecerr.SaveError, err)
	}
	im.dirty = false
	return nil
}

// block returns the 256-byte slice at (track, sector), sharing storage with
// the image so writes through it mutate the image directly.
func (im *Image) block(track, sector int) ([]byte, error) {
	off, ok := im.geo.Offset(track, sector)
	if !ok || off+directBlockSize > len(im.data) {
		return nil, biecerr.New(biecerr.IllegalTrackSector)
	}
	return im.data[off : off+directBlockSize], nil
}

// bamEntry returns the free-count byte and 3-byte allocation bitmap for
// track (1-based) within the BAM block.
func (im *Image) bamEntry(track int) ([]byte, error) {
	bam, err := im.block(im.geo.BAMTrack, im.geo.BAMSector)
	if err != nil {
		return nil, err
	}
	// BAM layout: 4-byte header (dir_track, dir_sector, dos_version,
	// unused), then one 4-byte {free, bitmap[3]} entry per track starting
	// at track 1, at offset 4 + 4*(track-1).
	off := 4 + 4*(track-1)
	if off+4 > len(bam) {
		return nil, biecerr.New(biecerr.IllegalTrackSector)
	}
	return bam[off : off+4], nil
}

// DiskName returns the 16-byte disk name plus the 2-byte ID/DOS-version
// field that follows it, as stored at the BAM block's 0x90 offset.
func (im *Image) DiskName() (name [16]byte, id [2]byte, dosVersion byte, err error) {
	bam, err := im.block(im.geo.BAMTrack, im.geo.BAMSector)
	if err != nil {
		return name, id, 0, err
	}
	copy(name[:], bam[0x90:0xA0])
	id[0], id[1] = bam[0xA2], bam[0xA3]
	dosVersion = bam[0xA5]
	return name, id, dosVersion, nil
}

// BlockIsAllocated reports whether (track, sector) is currently allocated.
func (im *Image) BlockIsAllocated(track, sector int) bool {
	if !im.geo.ValidTS(track, sector) {
		return true
	}
	entry, err := im.bamEntry(track)
	if err != nil {
		return true
	}
	bitmap := entry[1:4]
	return bitmap[sector/8]&(1<<uint(sector&7)) == 0
}

// SetBlockAllocation allocates or frees (track, sector), keeping the
// per-track free count consistent with the bitmap (spec §8 invariant 4).
func (im *Image) SetBlockAllocation(track, sector int, alloc bool) {
	if !im.geo.ValidTS(track, sector) {
		return
	}
	entry, err := im.bamEntry(track)
	if err != nil {
		return
	}
	bitmap := entry[1:4]
	bit := byte(1 << uint(sector&7))
	wasFree := bitmap[sector/8]&bit != 0
	if alloc && wasFree {
		bitmap[sector/8] &^= bit
		entry[0]--
	} else if !alloc && !wasFree {
		bitmap[sector/8] |= bit
		entry[0]++
	}
	im.dirty = true
}

// trackIsFull reports whether a track has zero free blocks according to
// the BAM's free count.
func (im *Image) trackIsFull(track int) bool {
	if track < im.geo.FirstTrack || track > im.geo.LastTrack {
		return true
	}
	entry, err := im.bamEntry(track)
	if err != nil {
		return true
	}
	return entry[0] == 0
}

// BlocksFree sums the BAM free counts across every track eligible by
// geometry (spec §8 invariant 4), excluding the directory track unless
// DataToDirTrack allows data there.
func (im *Image) BlocksFree() int {
	free := 0
	for track := im.geo.FirstTrack; track <= im.geo.LastTrack; track++ {
		if !im.geo.DataToDirTrack && track == im.geo.DirTrack {
			continue
		}
		entry, err := im.bamEntry(track)
		if err != nil {
			continue
		}
		free += int(entry[0])
	}
	return free
}

// FindFirstFreeBlock implements the standard 1541 allocation order: start
// from the track immediately outside the directory track and alternate
// directions at increasing distance.
func (im *Image) FindFirstFreeBlock() (track, sector int, ok bool) {
	maxDistance := im.geo.DirTrack - im.geo.FirstTrack
	if d := im.geo.LastTrack - im.geo.DirTrack; d > maxDistance {
		maxDistance = d
	}

	distance := 0
	found := false
	for !found {
		if distance < 0 {
			distance = -distance
		} else {
			distance = -(distance + 1)
		}
		if distance > maxDistance || -distance > maxDistance {
			break // every track within range of DirTrack has been tried
		}
		track = im.geo.DirTrack + distance
		if track < im.geo.FirstTrack || track > im.geo.LastTrack {
			continue
		}
		found = !im.trackIsFull(track)
	}
	if !found && im.geo.DataToDirTrack {
		track = im.geo.DirTrack
		found = !im.trackIsFull(track)
	}
	if !found {
		return 0, 0, false
	}
	for sector = 0; sector < im.geo.SectorsPerTrack(track); sector++ {
		if !im.BlockIsAllocated(track, sector) {
			return track, sector, true
		}
	}
	return 0, 0, false
}

// FindNextFreeBlock searches forward from (track, sector) at the given
// interleave, skewing to adjacent tracks when the current one fills up.
// Ported from Diskimage::find_next_free_block (non-GEOS path only; this
// module's only recognised geometry never sets DataToDirTrack nor targets
// GEOS skew, see SPEC_FULL.md's C5 supplement).
func (im *Image) FindNextFreeBlock(track, sector, interleave int) (nt, ns int, ok bool) {
	if track < im.geo.FirstTrack || track > im.geo.LastTrack {
		return 0, 0, false
	}
	tries := 3
	found := false
	for !found && tries > 0 {
		if !im.trackIsFull(track) {
			sector += interleave
			spt := im.geo.SectorsPerTrack(track)
			for sector >= spt {
				sector -= spt
				if sector > 0 {
					sector--
				}
			}
			curSector := sector
			for {
				found = !im.BlockIsAllocated(track, sector)
				if !found {
					sector++
				}
				if sector >= spt {
					sector = 0
				}
				if found || sector == curSector {
					break
				}
			}
		} else {
			switch {
			case track == im.geo.DirTrack:
				tries = 0
			case track < im.geo.DirTrack:
				track--
				if track < im.geo.FirstTrack {
					track = im.geo.DirTrack + 1
					sector = 0
					tries--
					if track > im.geo.LastTrack {
						tries = 0
					}
				}
			default:
				track++
				if track > im.geo.LastTrack {
					track = im.geo.DirTrack - 1
					sector = 0
					tries--
					if track < im.geo.FirstTrack {
						tries = 0
					}
				}
			}
		}
		if !found && tries == 0 && track != im.geo.DirTrack && im.geo.DataToDirTrack {
			track = im.geo.DirTrack
			tries++
		}
	}
	if !found {
		return 0, 0, false
	}
	return track, sector, true
}

// direntryLoc names one directory-entry slot: a block and an index 0..7.
type direntryLoc struct {
	track, sector, index int
}

// walkDirEntries calls visit for every directory entry in chain order,
// stopping early if visit returns true. It reports the location of the
// last block visited, for appending a new directory block.
func (im *Image) walkDirEntries(visit func(loc direntryLoc, e *Direntry) bool) (last direntryLoc, found *direntryLoc) {
	track, sector := im.geo.DirTrack, im.geo.DirSector
	for {
		block, err := im.block(track, sector)
		if err != nil {
			return direntryLoc{track, sector, 0}, nil
		}
		for i := 0; i < direntriesPerBlock; i++ {
			e := decodeDirentry(block[i*direntrySize : (i+1)*direntrySize])
			loc := direntryLoc{track, sector, i}
			if visit(loc, &e) {
				l := loc
				return l, &l
			}
		}
		linkTrack, linkSector := block[0], block[1]
		last = direntryLoc{track, sector, direntriesPerBlock}
		if linkTrack == 0 {
			return last, nil
		}
		track, sector = int(linkTrack), int(linkSector)
	}
}

func decodeDirentry(b []byte) Direntry {
	var e Direntry
	e.LinkTrack, e.LinkSector = b[0], b[1]
	e.FileType = b[2]
	e.FirstTrack, e.FirstSector = b[3], b[4]
	copy(e.Name[:], b[5:21])
	e.RelSSTrack, e.RelSSSector, e.RelRecLen = b[0x15], b[0x16], b[0x17]
	copy(e.Reserved[:], b[0x18:0x1E])
	e.SizeLo, e.SizeHi = b[0x1E], b[0x1F]
	return e
}

func encodeDirentry(b []byte, e *Direntry) {
	b[0], b[1] = e.LinkTrack, e.LinkSector
	b[2] = e.FileType
	b[3], b[4] = e.FirstTrack, e.FirstSector
	copy(b[5:21], e.Name[:])
	b[0x15], b[0x16], b[0x17] = e.RelSSTrack, e.RelSSSector, e.RelRecLen
	copy(b[0x18:0x1E], e.Reserved[:])
	b[0x1E], b[0x1F] = e.SizeLo, e.SizeHi
}

func (im *Image) direntryBytes(loc direntryLoc) []byte {
	block, _ := im.block(loc.track, loc.sector)
	return block[loc.index*direntrySize : (loc.index+1)*direntrySize]
}

// DirEntry is a directory entry together with its on-disk location, for
// directory traversal (C8's listing synthesis) and deletion.
type DirEntry struct {
	Loc  direntryLoc
	Direntry
}

// ReadDir returns every non-deleted directory entry in chain order.
func (im *Image) ReadDir() []DirEntry {
	var entries []DirEntry
	im.walkDirEntries(func(loc direntryLoc, e *Direntry) bool {
		if e.FileType != FileDEL {
			entries = append(entries, DirEntry{loc, *e})
		}
		return false
	})
	return entries
}

// findByName locates the first non-deleted entry whose name matches
// pattern (spec §8.7 wildcard match; per SPEC_FULL.md's Open Question 3,
// DEL entries are skipped but traversal continues past them).
func (im *Image) findByName(pattern []byte) (direntryLoc, *Direntry, bool) {
	var found Direntry
	var foundLoc direntryLoc
	ok := false
	im.walkDirEntries(func(loc direntryLoc, e *Direntry) bool {
		if e.FileType == FileDEL {
			return false
		}
		if petscii.MatchName(pattern, e.Name) {
			foundLoc, found, ok = loc, *e, true
			return true
		}
		return false
	})
	return foundLoc, &found, ok
}

// ReadFile resolves name by wildcard match and returns its full contents
// (spec §4.5 "File read").
func (im *Image) ReadFile(petsciiName []byte) ([]byte, error) {
	_, e, ok := im.findByName(petsciiName)
	if !ok {
		return nil, biecerr.New(biecerr.FileNotFound)
	}
	var data []byte
	track, sector := int(e.FirstTrack), int(e.FirstSector)
	for {
		block, err := im.block(track, sector)
		if err != nil {
			return nil, biecerr.New(biecerr.DiskImageError)
		}
		linkTrack, linkSector := int(block[0]), int(block[1])
		if linkTrack != 0 {
			data = append(data, block[2:2+dataPayloadSize]...)
			track, sector = linkTrack, linkSector
			continue
		}
		// Final block: link_sector is the index of the last valid byte.
		n := linkSector - 2 + 1
		if n < 0 {
			n = 0
		}
		if n > dataPayloadSize {
			n = dataPayloadSize
		}
		data = append(data, block[2:2+n]...)
		return data, nil
	}
}

// WriteFile allocates directory and data blocks for name and writes data
// (spec §4.5 "File write"). Reuses the first scratched (DEL) directory
// slot if one exists, otherwise appends a new directory block.
func (im *Image) WriteFile(petsciiName []byte, data []byte) error {
	needed := (len(data) + dataPayloadSize - 1) / dataPayloadSize
	if needed == 0 {
		needed = 1
	}
	if needed > im.BlocksFree() {
		return biecerr.New(biecerr.NoSpaceLeftOnDevice)
	}

	var slot direntryLoc
	foundSlot := false
	im.walkDirEntries(func(loc direntryLoc, e *Direntry) bool {
		if e.FileType == FileDEL {
			slot, foundSlot = loc, true
			return true
		}
		return false
	})

	if !foundSlot {
		last, _ := im.walkDirEntries(func(direntryLoc, *Direntry) bool { return false })
		nt, ns, ok := im.FindNextFreeBlock(last.track, last.sector, im.geo.DirInterleave)
		if !ok {
			return biecerr.New(biecerr.NoSpaceLeftOnDevice)
		}
		im.SetBlockAllocation(nt, ns, true)
		prevBlock, _ := im.block(last.track, last.sector)
		prevBlock[0], prevBlock[1] = byte(nt), byte(ns)
		newBlock, _ := im.block(nt, ns)
		for i := range newBlock {
			newBlock[i] = 0
		}
		newBlock[0], newBlock[1] = 0, 0xFF
		slot = direntryLoc{nt, ns, 0}
	}

	track := im.geo.DirTrack - 1
	sector := 0
	track, sector, ok := im.FindNextFreeBlock(track, sector, im.geo.Interleave)
	if !ok {
		return biecerr.New(biecerr.NoSpaceLeftOnDevice)
	}
	im.SetBlockAllocation(track, sector, true)

	entry := Direntry{}
	entry.FileType = FilePRG
	entry.FirstTrack, entry.FirstSector = byte(track), byte(sector)
	entry.Name = petscii.PadName(petsciiName)

	blocksWritten := 0
	pos := 0
	for {
		block, err := im.block(track, sector)
		if err != nil {
			return biecerr.New(biecerr.DiskImageError)
		}
		n := copy(block[2:2+dataPayloadSize], data[pos:])
		pos += n
		blocksWritten++
		if pos < len(data) {
			nt, ns, ok := im.FindNextFreeBlock(track, sector, im.geo.Interleave)
			if !ok {
				return biecerr.New(biecerr.NoSpaceLeftOnDevice)
			}
			im.SetBlockAllocation(nt, ns, true)
			block[0], block[1] = byte(nt), byte(ns)
			track, sector = nt, ns
		} else {
			block[0] = 0
			block[1] = byte(2 + n - 1)
			break
		}
	}

	entry.FileType |= FileClosed
	entry.SizeLo = byte(blocksWritten & 0xFF)
	entry.SizeHi = byte((blocksWritten >> 8) & 0xFF)
	encodeDirentry(im.direntryBytes(slot), &entry)
	im.dirty = true
	return nil
}

// ScratchFile marks every entry matching pattern as deleted and frees its
// data blocks, returning the count removed (spec §4.6 "S" command).
func (im *Image) ScratchFile(pattern []byte) (int, error) {
	var locs []direntryLoc
	var chains [][2]byte
	im.walkDirEntries(func(loc direntryLoc, e *Direntry) bool {
		if e.FileType == FileDEL {
			return false
		}
		if petscii.MatchName(pattern, e.Name) {
			locs = append(locs, loc)
			chains = append(chains, [2]byte{e.FirstTrack, e.FirstSector})
		}
		return false
	})
	if len(locs) == 0 {
		return 0, biecerr.New(biecerr.FileNotFound)
	}
	for i, loc := range locs {
		b := im.direntryBytes(loc)
		b[2] = FileDEL
		im.freeChain(chains[i][0], chains[i][1])
	}
	im.dirty = true
	return len(locs), nil
}

func (im *Image) freeChain(track, sector byte) {
	t, s := int(track), int(sector)
	for t != 0 {
		im.SetBlockAllocation(t, s, false)
		block, err := im.block(t, s)
		if err != nil {
			return
		}
		t, s = int(block[0]), int(block[1])
	}
}

// RenameFile renames the first entry matching oldPattern to newName (spec
// §4.6 "R" command). It fails if newName is already in use.
func (im *Image) RenameFile(oldPattern, newName []byte) error {
	if _, _, ok := im.findByName(newName); ok {
		return biecerr.New(biecerr.FileExists)
	}
	loc, _, ok := im.findByName(oldPattern)
	if !ok {
		return biecerr.New(biecerr.FileNotFound)
	}
	b := im.direntryBytes(loc)
	padded := petscii.PadName(newName)
	copy(b[5:21], padded[:])
	im.dirty = true
	return nil
}
