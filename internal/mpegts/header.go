package mpegts

import (
	"encoding/binary"
	"log/slog"
)

const (
	// PacketSize is the size of one transport stream packet.
	PacketSize = 188
	// HeaderSize is the size of the fixed transport stream packet header.
	HeaderSize = 4

	syncByte = 0x47
)

// Adaptation field control values.
const (
	afcPayloadOnly    = 1
	afcAdaptationOnly = 2
	afcBoth           = 3
)

const (
	teiMask  = 0x00800000
	pusiMask = 0x00400000
	tpMask   = 0x00200000
	pidMask  = 0x001FFF00
	tscMask  = 0x000000C0
	afcMask  = 0x00000030
	ccMask   = 0x0000000F
)

// PacketHeader contains the fields of the 4-byte transport stream packet header.
type PacketHeader struct {
	SyncByte                  uint8
	TransportErrorIndicator   bool
	PayloadUnitStartIndicator bool
	TransportPriority         bool
	PID                       uint16
	ScramblingControl         uint8
	AdaptationFieldControl    uint8
	ContinuityCounter         uint8
}

// ParseHeader decodes the first four bytes of b as a big-endian packet header.
// The sync byte is reported as found and never validated. b must hold at
// least HeaderSize bytes.
func ParseHeader(b []byte) PacketHeader {
	w := binary.BigEndian.Uint32(b[:HeaderSize])
	return PacketHeader{
		SyncByte:                  uint8(w >> 24),
		TransportErrorIndicator:   w&teiMask != 0,
		PayloadUnitStartIndicator: w&pusiMask != 0,
		TransportPriority:         w&tpMask != 0,
		PID:                       uint16((w & pidMask) >> 8),
		ScramblingControl:         uint8((w & tscMask) >> 6),
		AdaptationFieldControl:    uint8((w & afcMask) >> 4),
		ContinuityCounter:         uint8(w & ccMask),
	}
}

// Uint32 re-encodes the header into its 32-bit wire form.
func (h PacketHeader) Uint32() uint32 {
	w := uint32(h.SyncByte) << 24
	if h.TransportErrorIndicator {
		w |= teiMask
	}
	if h.PayloadUnitStartIndicator {
		w |= pusiMask
	}
	if h.TransportPriority {
		w |= tpMask
	}
	w |= uint32(h.PID)<<8&pidMask
	w |= uint32(h.ScramblingControl)<<6&tscMask
	w |= uint32(h.AdaptationFieldControl)<<4&afcMask
	w |= uint32(h.ContinuityCounter) & ccMask
	return w
}

// HasAdaptationField reports whether an adaptation field follows the header.
func (h PacketHeader) HasAdaptationField() bool {
	return h.AdaptationFieldControl == afcAdaptationOnly || h.AdaptationFieldControl == afcBoth
}

// HasPayload reports whether the adaptation field control signals a payload.
func (h PacketHeader) HasPayload() bool {
	return h.AdaptationFieldControl == afcPayloadOnly || h.AdaptationFieldControl == afcBoth
}

// ValidSync reports whether the sync byte carries the expected 0x47.
func (h PacketHeader) ValidSync() bool {
	return h.SyncByte == syncByte
}

// LogValue implements slog.LogValuer.
func (h PacketHeader) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("sb", int(h.SyncByte)),
		slog.Bool("e", h.TransportErrorIndicator),
		slog.Bool("s", h.PayloadUnitStartIndicator),
		slog.Bool("t", h.TransportPriority),
		slog.Int("pid", int(h.PID)),
		slog.Int("tsc", int(h.ScramblingControl)),
		slog.Int("afc", int(h.AdaptationFieldControl)),
		slog.Int("cc", int(h.ContinuityCounter)),
	)
}
