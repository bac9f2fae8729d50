// Package pcap replays transport streams captured as UDP traffic. It reads
// pcap and pcapng files, keeps the UDP datagrams of interest and writes
// their TS payload, with any RTP encapsulation removed, to a writer.
package pcap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pion/rtp"
)

const tsPacketSize = 188

var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Options selects and unwraps datagrams.
type Options struct {
	// Port keeps only datagrams sent to this UDP port. Zero keeps all.
	Port uint16
	// RTP strips an RTP header from every datagram. Without it, datagrams
	// that are not a whole number of TS packets are taken as RTP.
	RTP bool
}

// Stats counts what a replay has seen.
type Stats struct {
	Frames    int64
	Datagrams int64
	RTP       int64
	Skipped   int64
}

// Reader replays the UDP-carried transport stream of one capture.
type Reader struct {
	log   *slog.Logger
	src   *gopacket.PacketSource
	opts  Options
	stats Stats
}

// NewReader parses the capture header from r. Both the classic pcap and
// the pcapng formats are accepted. If log is nil, slog.Default() is used.
func NewReader(r io.Reader, opts Options, log *slog.Logger) (*Reader, error) {
	if log == nil {
		log = slog.Default()
	}

	br := bufio.NewReader(r)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		return nil, fmt.Errorf("pcap: read header: %w", err)
	}

	var src *gopacket.PacketSource
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pcap: open pcapng: %w", err)
		}
		src = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("pcap: open capture: %w", err)
		}
		src = gopacket.NewPacketSource(pr, pr.LinkType())
	}
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	return &Reader{
		log:  log.With("component", "pcap"),
		src:  src,
		opts: opts,
	}, nil
}

// Stats returns the counters collected so far.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Copy writes the TS payload of every selected datagram to w, in capture
// order, until the capture ends or ctx is cancelled. It returns the number
// of bytes written.
func (r *Reader) Copy(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		frame, err := r.src.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.log.Debug("capture exhausted", "frames", r.stats.Frames, "datagrams", r.stats.Datagrams)
				return written, nil
			}
			return written, fmt.Errorf("pcap: read frame %d: %w", r.stats.Frames, err)
		}
		r.stats.Frames++

		payload, ok := r.datagram(frame)
		if !ok {
			r.stats.Skipped++
			continue
		}

		ts, err := r.unwrap(payload)
		if err != nil {
			r.stats.Skipped++
			r.log.Debug("skipping datagram", "frame", r.stats.Frames, "error", err)
			continue
		}

		n, err := w.Write(ts)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// datagram returns the UDP payload of frame if it passes the port filter.
func (r *Reader) datagram(frame gopacket.Packet) ([]byte, bool) {
	l := frame.Layer(layers.LayerTypeUDP)
	if l == nil {
		return nil, false
	}
	udp, _ := l.(*layers.UDP)
	if udp == nil || len(udp.Payload) == 0 {
		return nil, false
	}
	if r.opts.Port != 0 && uint16(udp.DstPort) != r.opts.Port {
		return nil, false
	}
	r.stats.Datagrams++
	return udp.Payload, true
}

func (r *Reader) unwrap(b []byte) ([]byte, error) {
	if !r.opts.RTP && isRawTS(b) {
		return b, nil
	}
	var p rtp.Packet
	if err := p.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("unmarshal RTP: %w", err)
	}
	r.stats.RTP++
	if !isRawTS(p.Payload) {
		return nil, fmt.Errorf("RTP payload of %d bytes is not MPEG-TS", len(p.Payload))
	}
	return p.Payload, nil
}

// isRawTS reports whether b is a whole number of TS packets starting with
// a sync byte.
func isRawTS(b []byte) bool {
	return len(b) > 0 && len(b)%tsPacketSize == 0 && b[0] == 0x47
}
