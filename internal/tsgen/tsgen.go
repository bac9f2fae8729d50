// Package tsgen builds synthetic MPEG-TS streams: PES packets split into
// 188-byte transport packets, with adaptation field stuffing on the last
// packet of each unit so that payloads end exactly at the PES boundary.
package tsgen

import (
	"github.com/zsiec/tspes/internal/mpegts"
)

const maxPayload = mpegts.PacketSize - mpegts.HeaderSize

// BuildPES wraps data in a PES packet for streamID. Stream IDs that carry an
// optional header get one with no optional fields.
func BuildPES(streamID byte, data []byte) []byte {
	if mpegts.ClassifyStreamID(streamID) == mpegts.FixedHeader {
		pl := len(data)
		pes := []byte{0x00, 0x00, 0x01, streamID, byte(pl >> 8), byte(pl)}
		return append(pes, data...)
	}
	pl := 3 + len(data)
	pes := []byte{
		0x00, 0x00, 0x01, streamID, byte(pl >> 8), byte(pl),
		0x80, // marker bits
		0x00, // no optional fields
		0x00, // PES_header_data_length
	}
	return append(pes, data...)
}

// Muxer packetizes PES packets, tracking continuity counters per PID.
type Muxer struct {
	cc map[uint16]uint8
}

// NewMuxer returns a Muxer with all continuity counters at zero.
func NewMuxer() *Muxer {
	return &Muxer{cc: make(map[uint16]uint8)}
}

// SetCC sets the continuity counter the next packet on pid will carry.
func (m *Muxer) SetCC(pid uint16, cc uint8) {
	m.cc[pid] = cc & 0x0F
}

// Packetize splits pes into transport packets on pid. The first packet has
// the payload unit start indicator set.
func (m *Muxer) Packetize(pid uint16, pes []byte) [][]byte {
	var pkts [][]byte
	pusi := true
	for len(pes) > 0 {
		n := min(len(pes), maxPayload)
		pkts = append(pkts, m.packet(pid, pusi, pes[:n]))
		pes = pes[n:]
		pusi = false
	}
	return pkts
}

func (m *Muxer) packet(pid uint16, pusi bool, payload []byte) []byte {
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0F

	buf := make([]byte, mpegts.PacketSize)
	buf[0] = 0x47
	buf[1] = byte(pid>>8) & 0x1F
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)

	if len(payload) == maxPayload {
		buf[3] = 0x10 | cc
		copy(buf[mpegts.HeaderSize:], payload)
		return buf
	}

	buf[3] = 0x30 | cc
	afLen := maxPayload - 1 - len(payload)
	buf[4] = byte(afLen)
	if afLen > 0 {
		buf[5] = 0x00 // flags
		for i := 6; i < 5+afLen; i++ {
			buf[i] = 0xFF
		}
	}
	copy(buf[5+afLen:], payload)
	return buf
}
