// Package extract drives PES reassembly over a transport stream: it reads
// 188-byte packets from an io.Reader, decodes them, feeds the packets of one
// PID to an mpegts.Assembler and hands every finished payload to a sink.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/tspes/internal/mpegts"
	"github.com/zsiec/tspes/internal/sink"
)

// Sink receives finished units. It must be done with u.Data when
// WriteUnit returns.
type Sink interface {
	WriteUnit(u sink.Unit) error
}

// Stats counts what an extraction has seen.
type Stats struct {
	Packets      int64
	Filtered     int64
	Lost         int64
	UnitsStarted int64
	Units        int64
	Bytes        int64
	// Overruns counts packets that arrived for a unit already written.
	Overruns int64
	// ShortRead is set when the stream ended in the middle of a packet.
	ShortRead bool
}

// Extractor reassembles the PES packets of a single PID. It is driven by
// Run and is not safe for concurrent use.
type Extractor struct {
	log   *slog.Logger
	r     io.Reader
	sink  Sink
	asm   *mpegts.Assembler
	buf   []byte
	trace bool
	stats Stats

	// written is set once the current unit has gone to the sink.
	written bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTrace enables per-packet debug records carrying the decoded TS
// header and adaptation field.
func WithTrace(on bool) Option {
	return func(e *Extractor) {
		e.trace = on
	}
}

// WithStreamKey tags every log record with the given stream key.
func WithStreamKey(key string) Option {
	return func(e *Extractor) {
		e.log = e.log.With("stream", key)
	}
}

// New creates an Extractor reading packets from r and writing the payloads
// of pid to s. If log is nil, slog.Default() is used.
func New(r io.Reader, pid uint16, s Sink, log *slog.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		log:  log.With("component", "extractor", "pid", pid),
		r:    r,
		sink: s,
		asm:  mpegts.NewAssembler(pid),
		buf:  make([]byte, mpegts.PacketSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns the counters collected so far.
func (e *Extractor) Stats() Stats {
	return e.stats
}

// Run reads packets until the reader is exhausted, ctx is cancelled, or
// the sink fails. End of stream, including a trailing partial packet, is
// not an error.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	for {
		if err := ctx.Err(); err != nil {
			return e.stats, err
		}

		if _, err := io.ReadFull(e.r, e.buf); err != nil {
			if errors.Is(err, io.EOF) {
				e.log.Debug("end of stream reached")
				return e.stats, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				e.stats.ShortRead = true
				e.log.Warn("stream ended inside a packet", "packet", e.stats.Packets)
				return e.stats, nil
			}
			return e.stats, fmt.Errorf("read packet %d: %w", e.stats.Packets, err)
		}

		if err := e.process(e.buf); err != nil {
			return e.stats, err
		}
	}
}

func (e *Extractor) process(pkt []byte) error {
	id := e.stats.Packets
	e.stats.Packets++

	hdr := mpegts.ParseHeader(pkt)
	var af mpegts.AdaptationField
	if hdr.HasAdaptationField() {
		af, _ = mpegts.ParseAdaptationField(pkt[mpegts.HeaderSize:], hdr.AdaptationFieldControl)
	}

	if e.trace {
		if hdr.HasAdaptationField() {
			e.log.Debug("packet", "id", id, "ts", hdr, "af", af)
		} else {
			e.log.Debug("packet", "id", id, "ts", hdr)
		}
		if !hdr.ValidSync() {
			e.log.Debug("sync byte mismatch", "id", id, "sb", hdr.SyncByte)
		}
	}

	res := e.asm.Absorb(pkt, hdr, af)
	switch res {
	case mpegts.UnexpectedPID:
		e.stats.Filtered++
	case mpegts.StreamPacketLost:
		e.stats.Lost++
		e.log.Warn("packet lost", "id", id, "cc", hdr.ContinuityCounter)
	case mpegts.AssemblingStarted:
		e.stats.UnitsStarted++
		e.written = false
		e.log.Debug("assembling started", "id", id, "pes", e.asm.LastHeader())
		if err := e.asm.HeaderErr(); err != nil {
			e.log.Warn("PES header does not fit in the start packet", "id", id, "error", err)
		}
	case mpegts.AssemblingContinue:
		if e.trace {
			e.log.Debug("assembling continues", "id", id, "size", e.asm.PacketSize())
		}
	case mpegts.AssemblingFinished:
		if e.written {
			e.stats.Overruns++
			e.log.Debug("payload past the end of a written unit", "id", id, "size", e.asm.PacketSize())
			return nil
		}
		return e.finish(id)
	}
	return nil
}

func (e *Extractor) finish(id int64) error {
	h := e.asm.LastHeader()
	u := sink.Unit{
		PID:      e.asm.PID(),
		StreamID: h.StreamID,
		Seq:      uint64(e.stats.Units),
		Data:     e.asm.Packet(),
	}
	e.log.Debug("assembling finished", "id", id, "pes", h, "size", len(u.Data))

	if err := e.sink.WriteUnit(u); err != nil {
		return fmt.Errorf("write unit %d: %w", u.Seq, err)
	}
	e.written = true
	e.stats.Units++
	e.stats.Bytes += int64(len(u.Data))
	return nil
}
