// Package sink persists reassembled PES payloads: to files, either as a raw
// concatenation of payloads or as length-prefixed records, and to a remote
// receiver over QUIC.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Unit is one reassembled PES payload.
type Unit struct {
	PID      uint16
	StreamID uint8
	// Seq numbers finished units per extraction, starting at 0.
	Seq  uint64
	Data []byte
}

// Sink receives finished units in order. WriteUnit must not retain
// u.Data after returning.
type Sink interface {
	WriteUnit(u Unit) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Sink = (*writerSink)(nil)
	_ Sink = (*RelaySink)(nil)
)

type writerSink struct {
	bw     *bufio.Writer
	c      io.Closer
	framed bool
}

// NewWriter returns a Sink writing to w. Raw sinks write payload bytes
// back to back; framed sinks write one record per unit (see WriteFrame).
// Close flushes and closes w if it is an io.Closer.
func NewWriter(w io.Writer, framed bool) Sink {
	c, _ := w.(io.Closer)
	return &writerSink{
		bw:     bufio.NewWriter(w),
		c:      c,
		framed: framed,
	}
}

// NewFile creates (or truncates) path and returns a Sink writing to it.
func NewFile(path string, framed bool) (Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return NewWriter(f, framed), nil
}

func (s *writerSink) WriteUnit(u Unit) error {
	if s.framed {
		return WriteFrame(s.bw, u)
	}
	_, err := s.bw.Write(u.Data)
	return err
}

func (s *writerSink) Close() error {
	err := s.bw.Flush()
	if s.c != nil {
		if cerr := s.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
