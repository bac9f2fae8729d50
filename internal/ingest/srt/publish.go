package srt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// publishChunk is one SRT payload: seven TS packets.
const publishChunk = 188 * 7

// PublishRequest describes a transport stream to send to a remote SRT
// listener.
type PublishRequest struct {
	Address  string
	StreamID string
	// Rate paces sending in bytes per second. Zero sends as fast as the
	// connection accepts.
	Rate int64
	// Loops is the number of times the data is sent. Zero means once.
	Loops int
}

// Publish dials req.Address and sends data, returning the number of bytes
// written. It stops early when ctx is cancelled.
func Publish(ctx context.Context, req PublishRequest, data []byte, log *slog.Logger) (int64, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-publish", "stream_id", req.StreamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = req.StreamID

	conn, err := srtgo.Dial(req.Address, cfg)
	if err != nil {
		return 0, fmt.Errorf("SRT dial %s: %w", req.Address, err)
	}
	defer conn.Close()
	log.Info("connected", "address", req.Address, "bytes", len(data), "rate", req.Rate)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sent, err := send(ctx, conn, data, req.Rate, max(req.Loops, 1))
	if ctx.Err() != nil {
		return sent, ctx.Err()
	}
	if err != nil {
		return sent, fmt.Errorf("SRT write: %w", err)
	}
	log.Info("published", "bytes", sent)
	return sent, nil
}

// send writes data loops times in publishChunk pieces, pacing against the
// start time so the average rate holds across loop boundaries.
func send(ctx context.Context, w io.Writer, data []byte, rate int64, loops int) (int64, error) {
	start := time.Now()
	var sent int64
	for range loops {
		for i := 0; i < len(data); i += publishChunk {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			end := min(i+publishChunk, len(data))
			if _, err := w.Write(data[i:end]); err != nil {
				return sent, err
			}
			sent += int64(end - i)

			if rate > 0 {
				due := time.Duration(float64(sent) / float64(rate) * float64(time.Second))
				if wait := due - time.Since(start); wait > 0 {
					time.Sleep(wait)
				}
			}
		}
	}
	return sent, nil
}
