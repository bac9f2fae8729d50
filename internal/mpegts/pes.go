package mpegts

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	pesStartCodePrefix = 0x000001

	// pesFixedHeaderSize is the mandatory PES header: start code prefix,
	// stream_id and PES_packet_length.
	pesFixedHeaderSize = 6
	// pesExtendedHeaderSize is the fixed part of the optional header up to
	// and including PES_header_data_length.
	pesExtendedHeaderSize = 9
)

// Stream IDs whose PES packets carry no optional header.
const (
	StreamIDProgramStreamMap       = 0xBC
	StreamIDPaddingStream          = 0xBE
	StreamIDPrivateStream2         = 0xBF
	StreamIDECM                    = 0xF0
	StreamIDEMM                    = 0xF1
	StreamIDDSMCC                  = 0xF2
	StreamIDH2221TypeE             = 0xF8
	StreamIDProgramStreamDirectory = 0xFF
)

// ErrShortPESHeader is returned when the input ends before the PES header
// does.
var ErrShortPESHeader = errors.New("mpegts: PES header truncated")

// PESHeader is the mandatory 6-byte PES packet header.
type PESHeader struct {
	StartCodePrefix uint32
	StreamID        uint8
	PacketLength    uint16
}

// HasValidStartCode reports whether the start code prefix is 0x000001.
func (h PESHeader) HasValidStartCode() bool {
	return h.StartCodePrefix == pesStartCodePrefix
}

// LogValue implements slog.LogValuer.
func (h PESHeader) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pscp", fmt.Sprintf("%X", h.StartCodePrefix)),
		slog.Int("sid", int(h.StreamID)),
		slog.Int("l", int(h.PacketLength)),
	)
}

// HeaderLayout classifies how a PES header is sized for a stream ID.
type HeaderLayout int

const (
	// FixedHeader is the bare 6-byte header.
	FixedHeader HeaderLayout = iota
	// ExtendedHeader is followed by the optional header, whose size is
	// 9 + PES_header_data_length.
	ExtendedHeader
)

// ClassifyStreamID returns the header layout used by streamID.
func ClassifyStreamID(streamID uint8) HeaderLayout {
	switch streamID {
	case StreamIDProgramStreamMap,
		StreamIDPaddingStream,
		StreamIDPrivateStream2,
		StreamIDECM,
		StreamIDEMM,
		StreamIDProgramStreamDirectory,
		StreamIDDSMCC,
		StreamIDH2221TypeE:
		return FixedHeader
	default:
		return ExtendedHeader
	}
}

// ParsePESHeader decodes the PES header at the start of b and returns it
// together with the total header size: 6 for FixedHeader stream IDs,
// otherwise 9 plus the header data length byte at offset 8.
//
// If b is too short, the decoded fields and the best known size are
// returned along with ErrShortPESHeader.
func ParsePESHeader(b []byte) (PESHeader, int, error) {
	if len(b) < pesFixedHeaderSize {
		return PESHeader{}, pesFixedHeaderSize, fmt.Errorf("%w: %d bytes", ErrShortPESHeader, len(b))
	}

	h := PESHeader{
		StartCodePrefix: uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		StreamID:        b[3],
		PacketLength:    uint16(b[4])<<8 | uint16(b[5]),
	}

	if ClassifyStreamID(h.StreamID) == FixedHeader {
		return h, pesFixedHeaderSize, nil
	}
	if len(b) < pesExtendedHeaderSize {
		return h, pesExtendedHeaderSize, fmt.Errorf("%w: stream 0x%02X needs %d bytes, have %d",
			ErrShortPESHeader, h.StreamID, pesExtendedHeaderSize, len(b))
	}
	return h, pesExtendedHeaderSize + int(b[8]), nil
}
