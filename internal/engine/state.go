package engine

// State names the engine's position in the handshake, kept for tracing and
// for the debug-only state attribute exposed by Channel.State().
type State int

const (
	StateIdle State = iota
	StateWaitATNAssert
	StateWaitATNDeassert
	StateCheckATN
	StateNextCmdByte
	StateReceiveByte
	StateRemoteTalkerReady
	StateListenerReadyForData
	StateProcessUserData
	StateSendNextByte
	StateSendByte
	StateRemoteListenerRFD
	StateRemoteListenerAccepted
	StateEOIHandshake
	StateEOIHandshakeEnd
	StateEOIATNAsserted
	StateSendCommand
	StateReset
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitATNAssert:
		return "WAIT_ATN_ASSERT"
	case StateWaitATNDeassert:
		return "WAIT_ATN_DEASSERT"
	case StateCheckATN:
		return "CHECK_ATN"
	case StateNextCmdByte:
		return "NEXT_CMD_BYTE"
	case StateReceiveByte:
		return "RECEIVE_BYTE"
	case StateRemoteTalkerReady:
		return "REMOTE_TALKER_READY"
	case StateListenerReadyForData:
		return "LISTENER_READY_FOR_DATA"
	case StateProcessUserData:
		return "PROCESS_USER_DATA"
	case StateSendNextByte:
		return "SEND_NEXT_BYTE"
	case StateSendByte:
		return "SEND_BYTE"
	case StateRemoteListenerRFD:
		return "REMOTE_LISTENER_RFD"
	case StateRemoteListenerAccepted:
		return "REMOTE_LISTENER_ACCEPTED"
	case StateEOIHandshake:
		return "EOI_HANDSHAKE"
	case StateEOIHandshakeEnd:
		return "EOI_HANDSHAKE_END"
	case StateEOIATNAsserted:
		return "EOI_ATN_ASSERTED"
	case StateSendCommand:
		return "SEND_COMMAND"
	case StateReset:
		return "RESET"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the device's current role on the bus, assigned by a TALK/LISTEN
// command byte and cleared by UNTALK/UNLISTEN or ATN deassertion handling.
type Role int

const (
	RoleIdle Role = iota
	RoleListen
	RoleTalk
)

// eoiState tracks EOI signalling across a multi-byte transmission.
type eoiState int

const (
	eoiNo eoiState = iota
	eoiSend
	eoiSent
	eoiReceived
)

// notifyState is the error-notification substate described in spec §4.2.7:
// no-error -> return-EIO -> send-code -> clearing-pending -> no-error.
type notifyState int

const (
	notifyNone notifyState = iota
	notifyReturnEIO
	notifySendCode
	notifyClearingPending
)

// Identity is the device identity the engine currently impersonates.
type Identity int

const (
	IdentityComputer Identity = -1
	// Identity values 8..11 mean "drive N".
)

// IsDrive reports whether id names a drive (as opposed to the computer).
func (id Identity) IsDrive() bool { return id >= 8 && id <= 11 }

// DeviceNumber returns the drive device number; meaningless for the computer
// identity.
func (id Identity) DeviceNumber() int { return int(id) }
