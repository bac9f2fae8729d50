package mpegts

// Result is the outcome of absorbing one transport stream packet.
type Result int

const (
	// UnexpectedPID means the packet belongs to another PID and was ignored.
	UnexpectedPID Result = iota
	// StreamPacketLost means a continuity counter gap was detected. The
	// packet's payload was not consumed.
	StreamPacketLost
	// AssemblingStarted means a new PES unit began with this packet.
	AssemblingStarted
	// AssemblingContinue means the payload was appended and more is expected.
	AssemblingContinue
	// AssemblingFinished means the buffer now holds the complete payload.
	AssemblingFinished
)

func (r Result) String() string {
	switch r {
	case UnexpectedPID:
		return "unexpected pid"
	case StreamPacketLost:
		return "packet lost"
	case AssemblingStarted:
		return "assembling started"
	case AssemblingContinue:
		return "assembling continues"
	case AssemblingFinished:
		return "assembling finished"
	default:
		return "unknown"
	}
}

// noCC marks that no continuity counter has been seen for the current unit.
const noCC = -1

// Assembler reassembles PES packets carried on one PID. It is not safe for
// concurrent use; packets must be absorbed in arrival order.
//
// The buffer returned by Packet is reused: callers must consume it before
// the next call to Absorb.
type Assembler struct {
	pid     uint16
	buf     []byte
	started bool
	lastCC  int

	header     PESHeader
	headerSize int
	headerErr  error
}

// NewAssembler returns an Assembler bound to pid.
func NewAssembler(pid uint16) *Assembler {
	a := &Assembler{}
	a.Init(pid)
	return a
}

// Init binds the assembler to pid and clears all state.
func (a *Assembler) Init(pid uint16) {
	a.pid = pid
	a.Reset()
}

// PID returns the PID the assembler is bound to.
func (a *Assembler) PID() uint16 {
	return a.pid
}

// Reset discards the current unit and its buffered payload.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.started = false
	a.lastCC = noCC
	a.header = PESHeader{}
	a.headerSize = 0
	a.headerErr = nil
}

// Absorb feeds one packet to the assembler. pkt is the full 188-byte packet,
// hdr its decoded header and af its decoded adaptation field, which is only
// read when hdr signals one.
//
// A packet with the payload unit start indicator always begins a new unit,
// discarding any incomplete one. Once a continuity gap is reported, the last
// accepted counter is kept, so later packets of the same unit keep reporting
// StreamPacketLost until the next unit starts.
func (a *Assembler) Absorb(pkt []byte, hdr PacketHeader, af AdaptationField) Result {
	if hdr.PID != a.pid {
		return UnexpectedPID
	}

	if hdr.PayloadUnitStartIndicator {
		a.Reset()
	}

	cc := int(hdr.ContinuityCounter)
	if a.started && a.lastCC != noCC && cc != (a.lastCC+1)%16 {
		return StreamPacketLost
	}
	a.lastCC = cc

	payload := payloadOf(pkt, hdr, af)

	if !a.started {
		a.started = true
		a.header, a.headerSize, a.headerErr = ParsePESHeader(payload)
		start := min(a.headerSize, len(payload))
		a.buf = append(a.buf[:0], payload[start:]...)
		return AssemblingStarted
	}

	a.buf = append(a.buf, payload...)
	if len(a.buf) >= a.threshold() {
		return AssemblingFinished
	}
	return AssemblingContinue
}

// threshold is the elementary stream byte count of the current unit: the
// whole PES packet (6 + PES_packet_length) minus the header bytes that were
// never buffered.
func (a *Assembler) threshold() int {
	return int(a.header.PacketLength) - a.headerSize + pesFixedHeaderSize
}

// payloadOf returns the bytes following the packet header and, when
// present, the adaptation field. An adaptation field running past the end
// of the packet leaves an empty payload.
func payloadOf(pkt []byte, hdr PacketHeader, af AdaptationField) []byte {
	end := min(len(pkt), PacketSize)
	off := HeaderSize
	if hdr.HasAdaptationField() {
		off += af.Size()
	}
	if off > end {
		off = end
	}
	return pkt[off:end]
}

// Packet returns the buffered payload of the current unit. The slice is
// only valid until the next Absorb or Reset.
func (a *Assembler) Packet() []byte {
	return a.buf
}

// PacketSize returns the number of buffered payload bytes.
func (a *Assembler) PacketSize() int {
	return len(a.buf)
}

// Started reports whether a unit is being assembled.
func (a *Assembler) Started() bool {
	return a.started
}

// LastHeader returns the PES header parsed when the current unit started.
func (a *Assembler) LastHeader() PESHeader {
	return a.header
}

// HeaderSize returns the size of the PES header of the current unit.
func (a *Assembler) HeaderSize() int {
	return a.headerSize
}

// HeaderErr returns the error recorded while parsing the PES header of the
// current unit, if the header did not fit in the start packet's payload.
func (a *Assembler) HeaderErr() error {
	return a.headerErr
}
