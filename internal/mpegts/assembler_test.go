package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func absorb(a *Assembler, pkt []byte) Result {
	hdr := ParseHeader(pkt)
	var af AdaptationField
	if hdr.HasAdaptationField() {
		af, _ = ParseAdaptationField(pkt[HeaderSize:], hdr.AdaptationFieldControl)
	}
	return a.Absorb(pkt, hdr, af)
}

// buildPES returns a PES packet with an empty optional header.
func buildPES(streamID byte, data []byte) []byte {
	pl := 3 + len(data)
	pes := []byte{0x00, 0x00, 0x01, streamID, byte(pl >> 8), byte(pl), 0x80, 0x00, 0x00}
	return append(pes, data...)
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestAssembler_Continuity(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	pes := buildPES(0xE0, sequence(1000))

	if got := absorb(a, makePacket(0x100, 0, true, pes)); got != AssemblingStarted {
		t.Fatalf("first packet: %v, want %v", got, AssemblingStarted)
	}
	for cc := uint8(1); cc <= 3; cc++ {
		got := absorb(a, makePacket(0x100, cc, false, nil))
		if got == StreamPacketLost {
			t.Fatalf("cc %d: unexpected packet loss", cc)
		}
		if got != AssemblingContinue {
			t.Errorf("cc %d: %v, want %v", cc, got, AssemblingContinue)
		}
	}
	if got, want := a.PacketSize(), 184-9+3*184; got != want {
		t.Errorf("PacketSize = %d, want %d", got, want)
	}
}

func TestAssembler_LossDetection(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))
	size := a.PacketSize()

	if got := absorb(a, makePacket(0x100, 2, false, nil)); got != StreamPacketLost {
		t.Fatalf("cc 2 after 0: %v, want %v", got, StreamPacketLost)
	}
	if a.PacketSize() != size {
		t.Errorf("lost packet payload was consumed: size %d, want %d", a.PacketSize(), size)
	}
}

func TestAssembler_LossKeepsLastCounter(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))

	if got := absorb(a, makePacket(0x100, 2, false, nil)); got != StreamPacketLost {
		t.Fatalf("cc 2: %v, want %v", got, StreamPacketLost)
	}
	if got := absorb(a, makePacket(0x100, 3, false, nil)); got != StreamPacketLost {
		t.Fatalf("cc 3: %v, want %v", got, StreamPacketLost)
	}
	// The counter is still 0, so 1 is accepted as the successor.
	if got := absorb(a, makePacket(0x100, 1, false, nil)); got != AssemblingContinue {
		t.Fatalf("cc 1: %v, want %v", got, AssemblingContinue)
	}
}

func TestAssembler_StartRecoversFromLoss(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))
	absorb(a, makePacket(0x100, 5, false, nil))

	if got := absorb(a, makePacket(0x100, 9, true, buildPES(0xE0, sequence(1000)))); got != AssemblingStarted {
		t.Fatalf("start after loss: %v, want %v", got, AssemblingStarted)
	}
	if got := absorb(a, makePacket(0x100, 10, false, nil)); got != AssemblingContinue {
		t.Fatalf("cc 10: %v, want %v", got, AssemblingContinue)
	}
}

func TestAssembler_CCWraparound(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 14, true, buildPES(0xE0, sequence(1000))))
	absorb(a, makePacket(0x100, 15, false, nil))
	if got := absorb(a, makePacket(0x100, 0, false, nil)); got != AssemblingContinue {
		t.Fatalf("cc 15 -> 0: %v, want %v", got, AssemblingContinue)
	}
}

func TestAssembler_UnexpectedPID(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))
	size := a.PacketSize()

	if got := absorb(a, makePacket(0x101, 7, true, buildPES(0xC0, nil))); got != UnexpectedPID {
		t.Fatalf("other pid: %v, want %v", got, UnexpectedPID)
	}
	if a.PacketSize() != size || !a.Started() {
		t.Error("state changed on a foreign packet")
	}
	if got := absorb(a, makePacket(0x100, 1, false, nil)); got != AssemblingContinue {
		t.Fatalf("cc 1: %v, want %v", got, AssemblingContinue)
	}
}

func TestAssembler_TwoPacketUnit(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x88)

	// program_stream_map: 6-byte header, PES_packet_length 10.
	first := []byte{0x00, 0x00, 0x01, 0xBC, 0x00, 0x0A, 'a', 'b', 'c', 'd'}
	second := []byte{'e', 'f', 'g', 'h', 'i', 'j'}

	if got := absorb(a, makePacketWithAF(0x88, 0, true, PacketSize-5-len(first), first)); got != AssemblingStarted {
		t.Fatalf("first: %v, want %v", got, AssemblingStarted)
	}
	if a.HeaderSize() != 6 {
		t.Errorf("HeaderSize = %d, want 6", a.HeaderSize())
	}
	if got := absorb(a, makePacketWithAF(0x88, 1, false, PacketSize-5-len(second), second)); got != AssemblingFinished {
		t.Fatalf("second: %v, want %v", got, AssemblingFinished)
	}
	if a.PacketSize() != 10 {
		t.Errorf("PacketSize = %d, want 10", a.PacketSize())
	}
	if !bytes.Equal(a.Packet(), []byte("abcdefghij")) {
		t.Errorf("Packet = %q", a.Packet())
	}
	if h := a.LastHeader(); h.StreamID != 0xBC || h.PacketLength != 10 {
		t.Errorf("LastHeader = %+v", h)
	}
}

func TestAssembler_ThreePacketUnit(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	data := sequence(400)
	pes := buildPES(0xE0, data)

	results := []Result{
		absorb(a, makePacket(0x100, 3, true, pes[:184])),
		absorb(a, makePacket(0x100, 4, false, pes[184:368])),
		absorb(a, makePacketWithAF(0x100, 5, false, PacketSize-5-len(pes[368:]), pes[368:])),
	}
	want := []Result{AssemblingStarted, AssemblingContinue, AssemblingFinished}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("packet %d: %v, want %v", i, results[i], want[i])
		}
	}
	if !bytes.Equal(a.Packet(), data) {
		t.Errorf("payload mismatch: got %d bytes", a.PacketSize())
	}
}

func TestAssembler_FinishedIncludesTrailingBytes(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	pes := buildPES(0xE0, sequence(200))

	absorb(a, makePacket(0x100, 0, true, pes[:184]))
	if got := absorb(a, makePacket(0x100, 1, false, pes[184:])); got != AssemblingFinished {
		t.Fatalf("%v, want %v", got, AssemblingFinished)
	}
	if a.PacketSize() != 184-9+184 {
		t.Errorf("PacketSize = %d, want %d", a.PacketSize(), 184-9+184)
	}
	if !bytes.Equal(a.Packet()[:200], sequence(200)) {
		t.Error("payload prefix mismatch")
	}
}

func TestAssembler_StartClearsPreviousUnit(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))
	absorb(a, makePacket(0x100, 1, false, nil))

	pes := buildPES(0xC0, []byte{0xAA, 0xBB})
	absorb(a, makePacket(0x100, 2, true, pes))
	if a.PacketSize() != 184-9 {
		t.Errorf("PacketSize = %d, want %d", a.PacketSize(), 184-9)
	}
	if a.Packet()[0] != 0xAA || a.Packet()[1] != 0xBB {
		t.Error("buffer not restarted at new unit")
	}
	if a.LastHeader().StreamID != 0xC0 {
		t.Errorf("StreamID = 0x%02X, want 0xC0", a.LastHeader().StreamID)
	}
}

func TestAssembler_ShortPESHeader(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	pkt := makePacketWithAF(0x100, 0, true, PacketSize-5-3, []byte{0x00, 0x00, 0x01})

	if got := absorb(a, pkt); got != AssemblingStarted {
		t.Fatalf("%v, want %v", got, AssemblingStarted)
	}
	if !errors.Is(a.HeaderErr(), ErrShortPESHeader) {
		t.Errorf("HeaderErr = %v, want ErrShortPESHeader", a.HeaderErr())
	}
	if a.PacketSize() != 0 {
		t.Errorf("PacketSize = %d, want 0", a.PacketSize())
	}
}

func TestAssembler_ResetIdempotent(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	absorb(a, makePacket(0x100, 0, true, buildPES(0xE0, sequence(1000))))

	a.Reset()
	a.Reset()
	if a.PacketSize() != 0 || a.Started() {
		t.Errorf("after Reset: size %d started %v", a.PacketSize(), a.Started())
	}
	if a.LastHeader() != (PESHeader{}) || a.HeaderErr() != nil {
		t.Error("header state not cleared")
	}
	if a.PID() != 0x100 {
		t.Errorf("PID = 0x%X, want 0x100", a.PID())
	}
}

func TestAssembler_FirstPacketWithoutStart(t *testing.T) {
	t.Parallel()
	a := NewAssembler(0x100)
	// The first packet seen starts a unit even mid-stream.
	if got := absorb(a, makePacket(0x100, 7, false, buildPES(0xE0, nil))); got != AssemblingStarted {
		t.Fatalf("%v, want %v", got, AssemblingStarted)
	}
}

func TestResult_String(t *testing.T) {
	t.Parallel()
	if AssemblingFinished.String() != "assembling finished" {
		t.Errorf("got %q", AssemblingFinished.String())
	}
	if Result(42).String() != "unknown" {
		t.Errorf("got %q", Result(42).String())
	}
}

func BenchmarkAssembler_Absorb(b *testing.B) {
	pes := buildPES(0xE0, sequence(60000))
	var pkts [][]byte
	cc := uint8(0)
	for off := 0; off < len(pes); off += 184 {
		end := min(off+184, len(pes))
		pkts = append(pkts, makePacket(0x100, cc, off == 0, pes[off:end]))
		cc = (cc + 1) & 0x0F
	}
	a := NewAssembler(0x100)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range pkts {
			absorb(a, p)
		}
	}
}
