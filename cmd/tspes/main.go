// Command tspes extracts the PES payload of one PID from an MPEG transport
// stream read from a file, a packet capture or SRT, and writes it to a file
// or relays it over QUIC to a receiving tspes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("tspes failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "tspes",
		Short:         "Reassemble PES packets of one PID from an MPEG transport stream",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(debug)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", envBool("DEBUG"), "enable debug logging (env DEBUG)")

	root.AddCommand(newExtractCmd(), newReceiveCmd(), newGenCmd(), newPushCmd())
	return root
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
