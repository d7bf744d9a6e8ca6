package petscii

// TrimAndPadQuoted renders a 16-byte disk/file name for the quoted field of
// a directory listing: trimmed of trailing pad bytes, then padded with
// spaces back out to column 16 so the closing quote always lands in the
// same column, matching the 1541's directory format (spec §4.8 / C8).
func TrimAndPadQuoted(name [16]byte) []byte {
	trimmed := TrimName(name)
	out := append([]byte{}, trimmed...)
	for len(out) < 16 {
		out = append(out, ' ')
	}
	return out
}
