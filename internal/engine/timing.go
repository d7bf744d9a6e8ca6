package engine

// Timing constants in microseconds, named after the raspbiec handshake this
// engine ports (udelay call sites and iec_wait_*_busy timeout arguments).
const (
	attnReleaseToATNUS   = 20  // Tr: frame to release of ATN
	talkAttnReleaseUS    = 150 // Ttk: talk-attention release
	eoiTimeoutUS         = 250 // first CLK-release timeout signals EOI-imminent
	eoiResponseHoldUS    = 60  // Tei / Tfr: EOI response/acknowledge hold
	frameHandshakeUS     = 40  // Tf: frame handshake before DATA "byte accepted"
	talkAttnAckHoldUS    = 80  // Tda: talk-attention ack hold
	bitWaitTimeoutUS     = 1000
	listenerRFDBusyUS    = 100
	deviceNotPresentUS   = 400 // busy-wait bound before declaring device absent
	nonEOIResponseUS     = 80  // Tne: non-EOI response to RFD
	eoiHandshakeBusyUS   = 300 // EOI response time min 200 / typ 250
	eoiHandshakeEndBusyUS = 100
	writeTimeoutUS       = 1000
	atnMissedEdgeUS      = 500
)

// bitTiming holds the three per-bit delays a talker uses, which differ by
// device type exactly as raspbiec's bit_timings[device_type] table does.
type bitTiming struct {
	dataHi, dataSettle, dataValid uint32
}

var (
	computerTalkTiming = bitTiming{dataHi: 50, dataSettle: 25, dataValid: 25}
	driveTalkTiming    = bitTiming{dataHi: 90, dataSettle: 25, dataValid: 75}
)
