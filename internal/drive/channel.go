package drive

// ChannelState tracks one secondary address (0..15) across a single
// LISTEN/OPEN/.../CLOSE cycle, mirroring the per-channel fields
// raspbiec_drive.cpp keeps in its channel table (spec §3 "channel state").
type ChannelState struct {
	Open bool

	LastCommand byte // last OPEN/DATA/CLOSE command byte seen for this sa

	RawName   []byte // PETSCII bytes accumulated since OPEN, or command text on sa 15
	ASCIIName string

	DecodedName []byte // the filename portion, once the ",mode,type" suffix is split off
	Mode        byte   // 'R' (read), 'W' (write), 'A' (append)
	FileType    byte   // 'P'/'S'/'U'/'L', the requested file type suffix

	IsDirectory bool // opened with a "$" name: serves a directory listing

	Pending []byte // read buffer (file/listing contents) or write buffer (SAVE data)
	readPos int
}

func (c *ChannelState) reset() { *c = ChannelState{} }
