package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/tspes/internal/certs"
	"github.com/zsiec/tspes/internal/sink"
)

type receiveOptions struct {
	listen    string
	outputDir string
	framed    bool
	certHosts []string
	validity  time.Duration
}

func newReceiveCmd() *cobra.Command {
	var o receiveOptions

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive units relayed by tspes extract over QUIC",
		Long: `Receive listens for QUIC connections from "tspes extract --relay" and
writes the units of every sender and PID to <output-dir>/<remote>_PID<pid>.pes.
A self-signed certificate is generated at startup; its fingerprint is logged
for use with --relay-fingerprint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReceive(cmd.Context(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", envOr("TSPES_RELAY_LISTEN", ":4443"), "QUIC listen address (env TSPES_RELAY_LISTEN)")
	f.StringVarP(&o.outputDir, "output-dir", "o", envOr("TSPES_OUTPUT_DIR", "."), "directory for received payloads (env TSPES_OUTPUT_DIR)")
	f.BoolVar(&o.framed, "framed", envBool("TSPES_FRAMED"), "write length-prefixed records instead of raw payload (env TSPES_FRAMED)")
	f.StringSliceVar(&o.certHosts, "cert-host", nil, "extra host names and IPs for the certificate, besides localhost")
	f.DurationVar(&o.validity, "cert-validity", 24*time.Hour, "certificate validity")

	return cmd
}

func runReceive(ctx context.Context, o receiveOptions) error {
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	cert, err := certs.Generate(o.validity, o.certHosts...)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	rcv, err := sink.ListenRelay(o.listen, cert.ServerConfig(), slog.Default())
	if err != nil {
		return err
	}
	defer rcv.Close()

	slog.Info("receiver ready",
		"addr", rcv.Addr(),
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	outs := newOutputs(o.outputDir, o.framed)
	serveErr := rcv.Serve(ctx, outs.write)
	if err := outs.close(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// outputs maps each (sender, PID) pair to its own file sink.
type outputs struct {
	dir    string
	framed bool

	mu    sync.Mutex
	sinks map[string]sink.Sink
}

func newOutputs(dir string, framed bool) *outputs {
	return &outputs{
		dir:    dir,
		framed: framed,
		sinks:  make(map[string]sink.Sink),
	}
}

func (o *outputs) write(remote string, u sink.Unit) error {
	name := fmt.Sprintf("%s_PID%d.pes", fileName(remote), u.PID)

	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sinks[name]
	if !ok {
		var err error
		s, err = sink.NewFile(filepath.Join(o.dir, name), o.framed)
		if err != nil {
			return err
		}
		o.sinks[name] = s
		slog.Info("writing relayed units", "remote", remote, "pid", u.PID, "file", name)
	}
	return s.WriteUnit(u)
}

func (o *outputs) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var first error
	for name, s := range o.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", name, err)
		}
		delete(o.sinks, name)
	}
	return first
}
