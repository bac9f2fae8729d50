package srt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tspes/internal/ingest"
)

// Server accepts SRT publishers and registers each connection with the
// ingest registry under the key derived from its stream ID.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates a Server listening on addr. If log is nil,
// slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start accepts publishers until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, ok := s.registry.Get(extractStreamKey(req.StreamID)); ok {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := extractStreamKey(conn.StreamID())
	log := s.log.With("stream_key", key)

	stream, w, err := s.registry.Register(key, ingest.SourceSRTListen)
	if err != nil {
		log.Warn("rejecting publisher", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	log.Info("publish", "remote", conn.RemoteAddr())

	pump(ctx, conn, stream, w, log)

	s.registry.Unregister(key)
	logClosed(log, "connection closed", stream)
}

// extractStreamKey maps an SRT stream ID such as "/live/cam1" to the
// ingest key "cam1".
func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
