// Package ingest couples network byte producers with extraction: each
// incoming transport stream gets a Stream whose pipe is written by the
// receiver and read by one extractor.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Source identifies how an ingest stream reached us.
type Source int

// Ingest sources.
const (
	SourceSRTListen Source = iota
	SourceSRTPull
)

func (s Source) String() string {
	switch s {
	case SourceSRTListen:
		return "srt-listen"
	case SourceSRTPull:
		return "srt-pull"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ErrStreamExists is returned by Register for a key already in use.
var ErrStreamExists = errors.New("ingest: stream key already registered")

// IngestStats captures connection-level counters for an ingest stream.
type IngestStats struct {
	BytesReceived int64
	ReadCount     int64
	ConnectedAt   time.Time
	Uptime        time.Duration
	RemoteAddr    string
}

// Stream is one active ingest connection. Bytes written to its pipe by
// the receiver are read through Read by the extraction side.
type Stream struct {
	Key       string
	StartedAt time.Time
	Source    Source

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Read reads transport stream bytes delivered by the receiver. It returns
// io.EOF once the stream has been unregistered and drained.
func (s *Stream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Abort stops consumption: pending and future receiver writes fail with
// err, which makes the receiver drop the connection.
func (s *Stream) Abort(err error) {
	s.pr.CloseWithError(err)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// RecordRead increments the byte and read counters, called by the
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the connection.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of the connection counters.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt,
		Uptime:        time.Since(s.StartedAt),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest streams by key and hands each new stream
// to the onStream callback, which runs in its own goroutine and must
// consume or Abort the stream.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(s *Stream)
	running  sync.WaitGroup
}

// NewRegistry creates a Registry. onStream may be nil.
func NewRegistry(onStream func(s *Stream)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream for key and returns it together with the
// writer the receiver should copy into.
func (r *Registry) Register(key string, src Source) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Source:    src,
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.streams[key]; exists {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrStreamExists, key)
	}
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		r.running.Add(1)
		go func() {
			defer r.running.Done()
			r.onStream(stream)
		}()
	}
	return stream, pw, nil
}

// Unregister removes the stream for key, closing its pipe so the reader
// sees io.EOF after the buffered data, and closes Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Wait blocks until every onStream callback started so far has returned.
func (r *Registry) Wait() {
	r.running.Wait()
}

// Get returns the stream for key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the registered stream keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
