package mpegts

import (
	"encoding/binary"
	"testing"
)

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, pusi bool, afLen int, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x30 | (cc & 0x0F) // adaptation + payload
	if pusi {
		buf[1] |= 0x40
	}
	buf[4] = byte(afLen)
	offset := 5 + afLen
	if offset < PacketSize {
		copy(buf[offset:], payload)
	}
	return buf
}

func TestParseHeader_Fields(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x100, 5, true, nil)
	h := ParseHeader(buf)

	if h.SyncByte != 0x47 {
		t.Errorf("SyncByte = 0x%02X, want 0x47", h.SyncByte)
	}
	if h.PID != 0x100 {
		t.Errorf("PID = 0x%X, want 0x100", h.PID)
	}
	if h.ContinuityCounter != 5 {
		t.Errorf("CC = %d, want 5", h.ContinuityCounter)
	}
	if !h.PayloadUnitStartIndicator {
		t.Error("PUSI should be true")
	}
	if h.TransportErrorIndicator || h.TransportPriority {
		t.Error("TEI and priority should be false")
	}
	if h.AdaptationFieldControl != 1 {
		t.Errorf("AFC = %d, want 1", h.AdaptationFieldControl)
	}
	if h.HasAdaptationField() {
		t.Error("HasAdaptationField should be false")
	}
	if !h.HasPayload() {
		t.Error("HasPayload should be true")
	}
}

func TestParseHeader_AllBitsSet(t *testing.T) {
	t.Parallel()
	h := ParseHeader([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	if h.PID != 0x1FFF {
		t.Errorf("PID = 0x%X, want 0x1FFF", h.PID)
	}
	if h.ContinuityCounter != 15 {
		t.Errorf("CC = %d, want 15", h.ContinuityCounter)
	}
	if h.ScramblingControl != 3 || h.AdaptationFieldControl != 3 {
		t.Errorf("TSC = %d AFC = %d, want 3 3", h.ScramblingControl, h.AdaptationFieldControl)
	}
	if !h.TransportErrorIndicator || !h.PayloadUnitStartIndicator || !h.TransportPriority {
		t.Error("all indicator bits should be set")
	}
	if h.ValidSync() {
		t.Error("0xFF is not a valid sync byte")
	}
}

func TestParseHeader_NoSyncValidation(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x20, 1, false, nil)
	buf[0] = 0x00
	h := ParseHeader(buf)
	if h.SyncByte != 0 {
		t.Errorf("SyncByte = 0x%02X, want 0x00", h.SyncByte)
	}
	if h.PID != 0x20 {
		t.Errorf("PID = 0x%X, want 0x20", h.PID)
	}
}

func TestParseHeader_RoundTrip(t *testing.T) {
	t.Parallel()
	words := []uint32{
		0x00000000,
		0x47000010,
		0x47410030,
		0x47E1FF3F,
		0x12345678,
		0xDEADBEEF,
		0xFFFFFFFF,
	}
	for _, w := range words {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], w)
		h := ParseHeader(b[:])
		if h.PID > 0x1FFF {
			t.Errorf("0x%08X: PID %d out of range", w, h.PID)
		}
		if h.ContinuityCounter > 15 {
			t.Errorf("0x%08X: CC %d out of range", w, h.ContinuityCounter)
		}
		if got := h.Uint32(); got != w {
			t.Errorf("round trip 0x%08X -> 0x%08X", w, got)
		}
	}
}

func TestHeader_AdaptationFieldControl(t *testing.T) {
	t.Parallel()
	tests := []struct {
		afc         uint8
		wantAF      bool
		wantPayload bool
	}{
		{0, false, false},
		{1, false, true},
		{2, true, false},
		{3, true, true},
	}
	for _, tc := range tests {
		h := PacketHeader{AdaptationFieldControl: tc.afc}
		if h.HasAdaptationField() != tc.wantAF {
			t.Errorf("afc %d: HasAdaptationField = %v", tc.afc, h.HasAdaptationField())
		}
		if h.HasPayload() != tc.wantPayload {
			t.Errorf("afc %d: HasPayload = %v", tc.afc, h.HasPayload())
		}
	}
}
