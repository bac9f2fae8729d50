package mpegts

import "log/slog"

// afLegacyConsumed is reported by ParseAdaptationField when no flags byte
// was read. It is not a byte count; use AdaptationField.Size for offsets.
const afLegacyConsumed = 4

// AdaptationField holds the adaptation field length and its flags byte.
// Optional fields (PCR, OPCR, splice countdown, private data, extension)
// and stuffing are not decoded.
type AdaptationField struct {
	Length uint8

	Discontinuity        bool
	RandomAccess         bool
	ESPriority           bool
	PCR                  bool
	OPCR                 bool
	SplicingPoint        bool
	TransportPrivateData bool
	Extension            bool
}

// ParseAdaptationField decodes the adaptation field at the start of b, which
// must begin right after the 4-byte packet header. afc is the header's
// adaptation field control; the field is only decoded for 2 and 3.
//
// The second return value is Length+1 when the flags byte was decoded and 4
// otherwise, matching the historical contract of this decoder. Payload
// offsets must be computed with Size.
func ParseAdaptationField(b []byte, afc uint8) (AdaptationField, int) {
	var af AdaptationField
	if (afc != afcAdaptationOnly && afc != afcBoth) || len(b) == 0 {
		return af, afLegacyConsumed
	}
	af.Length = b[0]
	if af.Length == 0 || len(b) < 2 {
		return af, afLegacyConsumed
	}

	flags := b[1]
	af.Discontinuity = flags&0x80 != 0
	af.RandomAccess = flags&0x40 != 0
	af.ESPriority = flags&0x20 != 0
	af.PCR = flags&0x10 != 0
	af.OPCR = flags&0x08 != 0
	af.SplicingPoint = flags&0x04 != 0
	af.TransportPrivateData = flags&0x02 != 0
	af.Extension = flags&0x01 != 0
	return af, int(af.Length) + 1
}

// Size is the number of packet bytes the field occupies, length byte included.
func (af AdaptationField) Size() int {
	return 1 + int(af.Length)
}

// LogValue implements slog.LogValuer.
func (af AdaptationField) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("l", int(af.Length)),
		slog.Bool("dc", af.Discontinuity),
		slog.Bool("ra", af.RandomAccess),
		slog.Bool("sp", af.ESPriority),
		slog.Bool("pr", af.PCR),
		slog.Bool("or", af.OPCR),
		slog.Bool("sf", af.SplicingPoint),
		slog.Bool("tp", af.TransportPrivateData),
		slog.Bool("ex", af.Extension),
	)
}
