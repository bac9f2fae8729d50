package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/tspes/internal/ingest"
)

// readBufferSize holds ten SRT payloads of 7 TS packets (1316 bytes) each.
const readBufferSize = 1316 * 10

// latencyNs is the SRT receiver latency in nanoseconds (120ms).
const latencyNs = 120_000_000

// pump copies conn into w until the connection ends, ctx is cancelled or
// the extraction side stops reading.
func pump(ctx context.Context, conn io.Reader, stream *ingest.Stream, w io.Writer, log *slog.Logger) {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "error", err)
			}
			return
		}
	}
}

func logClosed(log *slog.Logger, msg string, stream *ingest.Stream) {
	stats := stream.IngestStats()
	log.Info(msg,
		"bytes", stats.BytesReceived,
		"reads", stats.ReadCount,
		"uptime", stats.Uptime.Round(time.Millisecond))
}
