package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tspes/internal/certs"
	"github.com/zsiec/tspes/internal/extract"
	"github.com/zsiec/tspes/internal/ingest"
	"github.com/zsiec/tspes/internal/ingest/pcap"
	"github.com/zsiec/tspes/internal/ingest/srt"
	"github.com/zsiec/tspes/internal/sink"
)

// Input sources accepted by the extract command.
const (
	sourceFile      = "file"
	sourcePCAP      = "pcap"
	sourceSRTListen = "srt-listen"
	sourceSRTPull   = "srt-pull"
)

var errExtractionStopped = errors.New("extraction stopped")

type extractOptions struct {
	source  string
	input   string
	pid     string
	output  string
	framed  bool
	trace   bool
	udpPort uint16
	rtp     bool

	streamKey string
	streamID  string

	relay            string
	relayFingerprint string
}

func newExtractCmd() *cobra.Command {
	var o extractOptions

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the PES payload of one PID",
		Long: `Extract reads 188-byte transport stream packets, reassembles the PES
packets of the selected PID and writes each finished payload, in order, to
the output file or to a QUIC relay receiver.

Sources:
  file        --input is a .ts file
  pcap        --input is a pcap/pcapng capture of UDP (or RTP) carried TS
  srt-listen  --input is the listen address; one output per publisher, in --output as a directory
  srt-pull    --input is the remote SRT listener address`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.source, "source", envOr("TSPES_SOURCE", sourceFile), "input source: file, pcap, srt-listen, srt-pull (env TSPES_SOURCE)")
	f.StringVarP(&o.input, "input", "i", envOr("TSPES_INPUT", "example_new.ts"), "input path or address (env TSPES_INPUT)")
	f.StringVar(&o.pid, "pid", envOr("TSPES_PID", "136"), "PID to reassemble, decimal or 0x-hex (env TSPES_PID)")
	f.StringVarP(&o.output, "output", "o", envOr("TSPES_OUTPUT", "PID136.mp2"), "output file, or directory for srt-listen (env TSPES_OUTPUT)")
	f.BoolVar(&o.framed, "framed", envBool("TSPES_FRAMED"), "write length-prefixed records instead of raw payload (env TSPES_FRAMED)")
	f.BoolVar(&o.trace, "trace", envBool("TSPES_TRACE"), "log every packet header at debug level (env TSPES_TRACE)")
	f.Uint16Var(&o.udpPort, "udp-port", 0, "pcap: keep only datagrams to this UDP port")
	f.BoolVar(&o.rtp, "rtp", false, "pcap: datagrams are RTP encapsulated")
	f.StringVar(&o.streamKey, "stream-key", envOr("TSPES_STREAM_KEY", "default"), "srt-pull: local stream key (env TSPES_STREAM_KEY)")
	f.StringVar(&o.streamID, "stream-id", "", "srt-pull: SRT stream ID to request (default live/<stream-key>)")
	f.StringVar(&o.relay, "relay", envOr("TSPES_RELAY_ADDR", ""), "send units to a tspes receiver at this QUIC address (env TSPES_RELAY_ADDR)")
	f.StringVar(&o.relayFingerprint, "relay-fingerprint", envOr("TSPES_RELAY_FINGERPRINT", ""), "base64 SHA-256 certificate fingerprint of the receiver (env TSPES_RELAY_FINGERPRINT)")

	return cmd
}

func runExtract(ctx context.Context, o extractOptions) error {
	pid, err := parsePID(o.pid)
	if err != nil {
		return err
	}

	switch o.source {
	case sourceFile:
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		return extractOne(ctx, o, pid, o.input, f, o.output)

	case sourcePCAP:
		return extractPCAP(ctx, o, pid)

	case sourceSRTListen:
		return extractSRTListen(ctx, o, pid)

	case sourceSRTPull:
		return extractSRTPull(ctx, o, pid)

	default:
		return fmt.Errorf("unknown source %q", o.source)
	}
}

// extractOne runs one extraction from r to a sink opened for output.
func extractOne(ctx context.Context, o extractOptions, pid uint16, key string, r io.Reader, output string) error {
	s, err := openSink(ctx, o, output)
	if err != nil {
		return err
	}

	e := extract.New(r, pid, s, slog.Default(), extract.WithTrace(o.trace), extract.WithStreamKey(key))
	stats, runErr := e.Run(ctx)
	closeErr := s.Close()

	slog.Info("extraction finished",
		"stream", key,
		"pid", pid,
		"packets", stats.Packets,
		"filtered", stats.Filtered,
		"lost", stats.Lost,
		"started", stats.UnitsStarted,
		"units", stats.Units,
		"bytes", stats.Bytes,
		"overruns", stats.Overruns,
		"short_read", stats.ShortRead,
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close output: %w", closeErr)
	}
	return nil
}

func openSink(ctx context.Context, o extractOptions, output string) (sink.Sink, error) {
	if o.relay == "" {
		return sink.NewFile(output, o.framed)
	}
	var conf *tls.Config
	if o.relayFingerprint != "" {
		c, err := certs.PinnedClientConfig(o.relayFingerprint)
		if err != nil {
			return nil, err
		}
		conf = c
	} else {
		slog.Warn("relay certificate is not verified, set --relay-fingerprint to pin it")
	}
	rs, err := sink.DialRelay(ctx, o.relay, conf)
	if err != nil {
		return nil, err
	}
	slog.Info("relaying units", "addr", o.relay, "output", output)
	return rs, nil
}

// extractPCAP replays a capture through a pipe into the extractor.
func extractPCAP(ctx context.Context, o extractOptions, pid uint16) error {
	f, err := os.Open(o.input)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	rd, err := pcap.NewReader(f, pcap.Options{Port: o.udpPort, RTP: o.rtp}, slog.Default())
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := rd.Copy(ctx, pw)
		pw.CloseWithError(err)
		s := rd.Stats()
		slog.Info("capture replayed", "frames", s.Frames, "datagrams", s.Datagrams, "rtp", s.RTP, "skipped", s.Skipped)
		return err
	})
	g.Go(func() error {
		err := extractOne(ctx, o, pid, o.input, pr, o.output)
		pr.CloseWithError(errExtractionStopped)
		return err
	})
	err = g.Wait()
	if errors.Is(err, errExtractionStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// extractSRTListen accepts SRT publishers and runs one extraction per
// stream, writing <output>/<stream key>.pes.
func extractSRTListen(ctx context.Context, o extractOptions, pid uint16) error {
	if o.relay == "" {
		if err := os.MkdirAll(o.output, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	registry := ingest.NewRegistry(func(s *ingest.Stream) {
		_ = runStream(ctx, o, pid, s, filepath.Join(o.output, fileName(s.Key)+".pes"))
	})

	err := srt.NewServer(o.input, registry, slog.Default()).Start(ctx)
	for _, key := range registry.Keys() {
		registry.Unregister(key)
	}
	registry.Wait()
	return err
}

// extractSRTPull pulls one stream from a remote SRT listener and returns
// once it has ended.
func extractSRTPull(ctx context.Context, o extractOptions, pid uint16) error {
	done := make(chan error, 1)
	registry := ingest.NewRegistry(func(s *ingest.Stream) {
		done <- runStream(ctx, o, pid, s, o.output)
	})

	caller := srt.NewCaller(registry, slog.Default())
	err := caller.Pull(ctx, srt.PullRequest{
		Address:   o.input,
		StreamKey: o.streamKey,
		StreamID:  o.streamID,
	})
	if err != nil {
		return err
	}
	return <-done
}

// runStream extracts one ingest stream. When extraction stops early the
// stream is aborted so the receiver drops the connection.
func runStream(ctx context.Context, o extractOptions, pid uint16, s *ingest.Stream, output string) error {
	err := extractOne(ctx, o, pid, s.Key, s, output)
	if err != nil {
		slog.Error("stream extraction failed", "stream", s.Key, "source", s.Source, "error", err)
	}
	s.Abort(errExtractionStopped)
	return err
}
