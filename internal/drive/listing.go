package drive

import (
	"github.com/goiec/biec64/internal/diskimage"
	"github.com/goiec/biec64/internal/petscii"
)

// fileTypeName maps a Direntry.FileType's low nibble to the three-letter
// suffix the 1541 prints in a directory listing.
var fileTypeName = map[byte]string{
	diskimage.FileDEL: "DEL",
	diskimage.FileSEQ: "SEQ",
	diskimage.FilePRG: "PRG",
	diskimage.FileUSR: "USR",
	diskimage.FileREL: "REL",
}

// appendLine writes one pseudo-BASIC program line: a 2-byte forward-link
// placeholder (patched by patchLinks), a 2-byte line number, then text
// terminated by a 0 byte.
func appendLine(buf []byte, lineNumber int, text []byte) []byte {
	buf = append(buf, 0, 0)
	buf = append(buf, byte(lineNumber&0xFF), byte((lineNumber>>8)&0xFF))
	buf = append(buf, text...)
	buf = append(buf, 0)
	return buf
}

// dummyLink is the forward-link value every directory-listing line carries,
// matching the original drive (raspbiec_utils.cpp's header_line literally
// starts 0x01 0x04 0x01 0x01 ...): a real 1541 directory listing never
// computes real link addresses, since BASIC's LIST only checks a line's
// link for zero to find the end of the program, never dereferences it.
// 0x0000 is that end-of-program marker, so every line, including the last,
// needs dummyLink rather than 0; the real terminator is the two zero bytes
// DirectoryListing appends after the final line.
const dummyLink = 0x0101

// patchLinks rewrites every line's 2-byte forward-link field to dummyLink;
// lineStarts holds each line's starting offset into buf.
func patchLinks(buf []byte, lineStarts []int) {
	for _, start := range lineStarts {
		buf[start] = dummyLink & 0xFF
		buf[start+1] = (dummyLink >> 8) & 0xFF
	}
}

// fileLine renders one directory-entry line's text: a quoted name padded to
// a fixed column so the type field always lines up, then the type label
// (spec §4.8 / C8; shared by the disk-image and local-directory listings).
func fileLine(name []byte, typeLabel string) []byte {
	line := make([]byte, 0, 32)
	line = append(line, '"')
	line = append(line, name...)
	line = append(line, '"')
	for len(line) < 19 {
		line = append(line, ' ')
	}
	line = append(line, typeLabel...)
	return line
}

// DirectoryListing synthesizes the PETSCII BASIC program a 1541 sends on
// channel 0 for a "$" OPEN against a mounted disk image: a header line
// naming the disk, one line per directory entry giving its block count and
// quoted name, and a trailing "BLOCKS FREE." line (spec §4.8 / C8).
func DirectoryListing(im *diskimage.Image) []byte {
	name, id, dosVersion, _ := im.DiskName()

	buf := []byte{0x01, 0x04} // load address, spec §4.8 / raspbiec_utils.cpp's header_line
	var lineStarts []int

	lineStarts = append(lineStarts, len(buf))
	header := make([]byte, 0, 32)
	header = append(header, 0x12) // reverse-on, matching the drive's disk-name quoting
	header = append(header, '"')
	header = append(header, petscii.TrimAndPadQuoted(name)...)
	header = append(header, '"', ' ', id[0], id[1], ' ', dosVersion)
	buf = appendLine(buf, 0, header)

	for _, e := range im.ReadDir() {
		lineStarts = append(lineStarts, len(buf))
		blocks := int(e.SizeLo) | int(e.SizeHi)<<8
		typ := fileTypeName[e.FileType&0x0F]
		if e.FileType&diskimage.FileLocked != 0 {
			typ += "<"
		} else {
			typ += " "
		}
		buf = appendLine(buf, blocks, fileLine(petscii.TrimName(e.Name), typ))
	}

	lineStarts = append(lineStarts, len(buf))
	buf = appendLine(buf, im.BlocksFree(), []byte("BLOCKS FREE."))

	patchLinks(buf, lineStarts)
	buf = append(buf, 0, 0) // program end marker

	return buf
}
