package diskimage

// Geometry describes one recognised D64 variant: its track layout and the
// allocation policy tied to that layout. Grounded on raspbiec_diskimage.cpp's
// Diskinfo/Trackinfo tables — this module only recognises the standard
// 35-track/683-block variant named in spec §1's non-goals ("other geometries
// rejected"), with and without the 683 per-block error-info tail.
type Geometry struct {
	ImageSize int

	FirstTrack, LastTrack int
	DirTrack, DirSector   int
	BAMTrack, BAMSector   int

	Interleave    int
	DirInterleave int

	// DataToDirTrack allows the directory track to hold file data once every
	// other track is full. False for every geometry this module recognises;
	// carried as an explicit field (see SPEC_FULL.md's C5 supplement) so the
	// allocation search has one source of truth instead of a hardcoded track
	// exclusion.
	DataToDirTrack bool
}

type trackEntry struct {
	sectorsPerTrack int
	blockOffset     int // in whole blocks, from the start of the image
}

// trackTable is indexed by track number, 1-based; index 0 is unused.
var trackTable = [36]trackEntry{
	{0, 0x000},
	{21, 0x000}, {21, 0x015}, {21, 0x02A}, {21, 0x03F}, {21, 0x054},
	{21, 0x069}, {21, 0x07E}, {21, 0x093}, {21, 0x0A8}, {21, 0x0BD},
	{21, 0x0D2}, {21, 0x0E7}, {21, 0x0FC}, {21, 0x111}, {21, 0x126},
	{21, 0x13B}, {21, 0x150},
	{19, 0x165}, {19, 0x178}, {19, 0x18B}, {19, 0x19E}, {19, 0x1B1},
	{19, 0x1C4}, {19, 0x1D7},
	{18, 0x1EA}, {18, 0x1FC}, {18, 0x20E}, {18, 0x220}, {18, 0x232}, {18, 0x244},
	{17, 0x256}, {17, 0x267}, {17, 0x278}, {17, 0x289}, {17, 0x29A},
}

// geometries lists every image size this module recognises, matching
// spec §8's boundary test for a 175531-byte image (683 error bytes, ignored).
var geometries = []Geometry{
	{ // 35 tracks, no per-block error-info tail
		ImageSize:  174848,
		FirstTrack: 1, LastTrack: 35,
		DirTrack: 18, DirSector: 1,
		BAMTrack: 18, BAMSector: 0,
		Interleave: 10, DirInterleave: 3,
	},
	{ // 35 tracks, 683 per-block error-info bytes appended and ignored
		ImageSize:  175531,
		FirstTrack: 1, LastTrack: 35,
		DirTrack: 18, DirSector: 1,
		BAMTrack: 18, BAMSector: 0,
		Interleave: 10, DirInterleave: 3,
	},
}

// Lookup returns the geometry matching an image of the given size.
func Lookup(size int) (Geometry, bool) {
	for _, g := range geometries {
		if g.ImageSize == size {
			return g, true
		}
	}
	return Geometry{}, false
}

// SectorsPerTrack returns the sector count for a track (1-based).
func (g Geometry) SectorsPerTrack(track int) int {
	if track < 1 || track > 35 {
		return 0
	}
	return trackTable[track].sectorsPerTrack
}

// ValidTS reports whether (track, sector) is addressable under g.
func (g Geometry) ValidTS(track, sector int) bool {
	if track < g.FirstTrack || track > g.LastTrack {
		return false
	}
	n := g.SectorsPerTrack(track)
	return sector >= 0 && sector < n
}

// BlockNumber returns the 0-based block index of (track, sector).
func (g Geometry) BlockNumber(track, sector int) (int, bool) {
	if !g.ValidTS(track, sector) {
		return 0, false
	}
	return trackTable[track].blockOffset + sector, true
}

// Offset returns the byte offset of (track, sector) within the image,
// per spec §8 invariant 5: offset(t,s) = 256 * (cum_offset[t] + s).
func (g Geometry) Offset(track, sector int) (int, bool) {
	n, ok := g.BlockNumber(track, sector)
	if !ok {
		return 0, false
	}
	return 256 * n, true
}
