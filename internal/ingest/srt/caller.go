package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tspes/internal/ingest"
)

// dialTimeout bounds the SRT handshake of a pull.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT listener to pull from.
type PullRequest struct {
	Address   string
	StreamKey string
	// StreamID defaults to "live/<StreamKey>".
	StreamID string
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller dials remote SRT listeners and feeds what they send into the
// ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller registering pulled streams with registry.
// If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote listener, waiting at most dialTimeout for the
// handshake. On success the stream is received in the background until
// the remote ends it, ctx is cancelled or Stop is called.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return fmt.Errorf("address is required")
	}
	if req.StreamKey == "" {
		return fmt.Errorf("stream key is required")
	}
	if c.active(req.StreamKey) {
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = req.StreamID
	if cfg.StreamID == "" {
		cfg.StreamID = "live/" + req.StreamKey
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial %s: %w", req.Address, res.err)
		}
		return c.startStreaming(ctx, req, res.conn)
	case <-timer.C:
		go closeLate(ch)
		return fmt.Errorf("SRT dial %s timed out after %s", req.Address, dialTimeout)
	case <-ctx.Done():
		go closeLate(ch)
		return ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// closeLate closes a connection whose dial completed after Pull gave up.
func closeLate(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	log := c.log.With("stream_key", req.StreamKey)

	stream, w, err := c.registry.Register(req.StreamKey, ingest.SourceSRTPull)
	if err != nil {
		conn.Close()
		return err
	}
	stream.SetRemoteAddr(req.Address)

	pullCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	log.Info("connected", "address", req.Address)

	closeConn := sync.OnceFunc(func() { conn.Close() })
	go func() {
		defer func() {
			cancel()
			closeConn()
			c.registry.Unregister(req.StreamKey)
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
			logClosed(log, "pull ended", stream)
		}()
		go func() {
			// Unblock a pending Read when the pull is stopped.
			<-pullCtx.Done()
			closeConn()
		}()
		pump(pullCtx, conn, stream, w, log)
	}()
	return nil
}

// Stop ends the pull registered under streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}
	ap.cancel()
	return nil
}

// ActivePulls returns the running pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}

func (c *Caller) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pulls[key]
	return ok
}
