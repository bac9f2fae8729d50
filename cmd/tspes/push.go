package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zsiec/tspes/internal/ingest/srt"
)

type pushOptions struct {
	addr     string
	streamID string
	rate     int64
	loops    int
}

func newPushCmd() *cobra.Command {
	var o pushOptions

	cmd := &cobra.Command{
		Use:   "push <file.ts>",
		Short: "Publish a transport stream file to an SRT listener",
		Long: `Push sends a .ts file to an SRT listener such as
"tspes extract --source srt-listen", in 1316-byte chunks paced at --rate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", envOr("TSPES_SRT_ADDR", "127.0.0.1:6000"), "SRT listener address (env TSPES_SRT_ADDR)")
	f.StringVar(&o.streamID, "stream-id", "", "SRT stream ID (default live/<file name>)")
	f.Int64Var(&o.rate, "rate", 1<<20, "bytes per second, 0 sends unpaced")
	f.IntVar(&o.loops, "loops", 1, "number of times to send the file")

	return cmd
}

func runPush(ctx context.Context, o pushOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(data)%188 != 0 {
		slog.Warn("file size is not a multiple of 188", "file", path, "size", len(data))
	}

	streamID := o.streamID
	if streamID == "" {
		base := filepath.Base(path)
		streamID = "live/" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	_, err = srt.Publish(ctx, srt.PublishRequest{
		Address:  o.addr,
		StreamID: streamID,
		Rate:     o.rate,
		Loops:    o.loops,
	}, data, slog.Default())
	return err
}
