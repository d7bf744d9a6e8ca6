package drive

import "github.com/goiec/biec64/internal/petscii"

// Command names the kind of DOS command string received on the command
// channel (secondary address 15), per spec §4.6's closing sentence: only
// command-kind identification is required, argument grammar is out of
// scope.
type Command int

const (
	CmdNone Command = iota
	CmdNew          // N: new/format
	CmdScratch      // S: scratch/delete
	CmdRename       // R: rename
	CmdCopy         // C: copy
	CmdUtilLoader   // &: util-loader name recognition
	CmdPosition     // P: position
	CmdUser         // U: user commands (U1-U9, UI, UJ...)
	CmdBlock        // B: block-*
	CmdMemory       // M: memory-*
	CmdDuplicate    // D: duplicate
	CmdInitialize   // I: initialize
	CmdValidate     // V: validate
)

// Block/memory sub-commands, classified by their required "-X" follow
// letter, matching raspbiec_drive.cpp's command dispatch table.
type SubCommand int

const (
	SubNone SubCommand = iota
	SubBlockPointer
	SubBlockAllocate
	SubBlockFree
	SubBlockRead
	SubBlockExecute
	SubMemoryRead
	SubMemoryWrite
	SubMemoryExecute
)

// ParsedCommand is the classification result of ClassifyCommand.
type ParsedCommand struct {
	Kind Command
	Sub  SubCommand
	// UtilName is the file name recognised for a UC_UTIL_LDR ('&name')
	// command; SPEC_FULL.md's Open Question 2 scopes checksum-relocation
	// handling out, so only the name is recovered.
	UtilName []byte
}

// stripTerminator removes one trailing CR or CR+LF, matching
// drive::parse_command's handling in raspbiec_drive.cpp.
func stripTerminator(petsciiCmd []byte) []byte {
	n := len(petsciiCmd)
	if n == 0 {
		return petsciiCmd
	}
	const cr = 0x0D
	if petsciiCmd[n-1] == cr {
		return petsciiCmd[:n-1]
	}
	if n >= 2 && petsciiCmd[n-2] == cr {
		return petsciiCmd[:n-2]
	}
	return petsciiCmd
}

// ClassifyCommand identifies the command kind from a PETSCII command
// string's first letter (and, for B/M, the following "-X" sub-letter), per
// spec §4.6 and SPEC_FULL.md's C6 supplement. It does not parse arguments.
func ClassifyCommand(petsciiCmd []byte) (ParsedCommand, bool) {
	cmd := stripTerminator(petsciiCmd)
	if len(cmd) == 0 {
		return ParsedCommand{}, false
	}

	first := cmdLetter(cmd[0])
	switch first {
	case 'N':
		return ParsedCommand{Kind: CmdNew}, true
	case 'S':
		return ParsedCommand{Kind: CmdScratch}, true
	case 'R':
		return ParsedCommand{Kind: CmdRename}, true
	case 'C':
		return ParsedCommand{Kind: CmdCopy}, true
	case '&':
		return ParsedCommand{Kind: CmdUtilLoader, UtilName: cmd[1:]}, true
	case 'P':
		return ParsedCommand{Kind: CmdPosition}, true
	case 'U':
		return ParsedCommand{Kind: CmdUser}, true
	case 'D':
		return ParsedCommand{Kind: CmdDuplicate}, true
	case 'I':
		return ParsedCommand{Kind: CmdInitialize}, true
	case 'V':
		return ParsedCommand{Kind: CmdValidate}, true
	case 'B':
		sub := classifyBlockSub(cmd)
		if sub == SubNone {
			return ParsedCommand{}, false
		}
		return ParsedCommand{Kind: CmdBlock, Sub: sub}, true
	case 'M':
		sub := classifyMemorySub(cmd)
		if sub == SubNone {
			return ParsedCommand{}, false
		}
		return ParsedCommand{Kind: CmdMemory, Sub: sub}, true
	default:
		return ParsedCommand{}, false
	}
}

// cmdLetter decodes one PETSCII command byte to ASCII and folds it to upper
// case, so both PETSCII letter ranges classify the same command.
func cmdLetter(b byte) byte {
	c := petscii.ToASCII(b)
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return c
}

func classifyBlockSub(cmd []byte) SubCommand {
	if len(cmd) < 3 || cmd[1] != '-' {
		return SubNone
	}
	switch cmdLetter(cmd[2]) {
	case 'P':
		return SubBlockPointer
	case 'A':
		return SubBlockAllocate
	case 'F':
		return SubBlockFree
	case 'R':
		return SubBlockRead
	case 'E':
		return SubBlockExecute
	default:
		return SubNone
	}
}

func classifyMemorySub(cmd []byte) SubCommand {
	if len(cmd) < 3 || cmd[1] != '-' {
		return SubNone
	}
	switch cmdLetter(cmd[2]) {
	case 'R':
		return SubMemoryRead
	case 'W':
		return SubMemoryWrite
	case 'E':
		return SubMemoryExecute
	default:
		return SubNone
	}
}
