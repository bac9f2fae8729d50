package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/iotest"

	"github.com/zsiec/tspes/internal/ingest"
)

func TestPump_CopiesUntilEOF(t *testing.T) {
	t.Parallel()
	r := ingest.NewRegistry(nil)
	stream, _, err := r.Register("cam", ingest.SourceSRTListen)
	if err != nil {
		t.Fatal(err)
	}

	src := bytes.Repeat([]byte{0x47, 1, 2, 3}, 1000)
	var dst bytes.Buffer
	pump(context.Background(), iotest.OneByteReader(bytes.NewReader(src)), stream, &dst, slog.Default())

	if !bytes.Equal(dst.Bytes(), src) {
		t.Fatalf("copied %d bytes, want %d", dst.Len(), len(src))
	}
	stats := stream.IngestStats()
	if stats.BytesReceived != int64(len(src)) {
		t.Errorf("BytesReceived = %d, want %d", stats.BytesReceived, len(src))
	}
	if stats.ReadCount != int64(len(src)) {
		t.Errorf("ReadCount = %d, want %d", stats.ReadCount, len(src))
	}
}

func TestPump_DataWithError(t *testing.T) {
	t.Parallel()
	r := ingest.NewRegistry(nil)
	stream, _, _ := r.Register("cam", ingest.SourceSRTListen)

	src := iotest.DataErrReader(bytes.NewReader([]byte{1, 2, 3}))
	var dst bytes.Buffer
	pump(context.Background(), src, stream, &dst, slog.Default())
	if dst.Len() != 3 {
		t.Fatalf("copied %d bytes, want 3", dst.Len())
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestPump_StopsOnWriteError(t *testing.T) {
	t.Parallel()
	r := ingest.NewRegistry(nil)
	stream, _, _ := r.Register("cam", ingest.SourceSRTListen)

	reads := 0
	src := readerFunc(func(p []byte) (int, error) {
		reads++
		p[0] = 0x47
		return 1, nil
	})
	pump(context.Background(), src, stream, errWriter{}, slog.Default())
	if reads != 1 {
		t.Fatalf("reads = %d, want 1", reads)
	}
}

func TestPump_StopsOnCancel(t *testing.T) {
	t.Parallel()
	r := ingest.NewRegistry(nil)
	stream, _, _ := r.Register("cam", ingest.SourceSRTListen)

	ctx, cancel := context.WithCancel(context.Background())
	src := readerFunc(func(p []byte) (int, error) {
		cancel()
		return 0, nil
	})
	pump(ctx, src, stream, io.Discard, slog.Default())
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatal("context should be cancelled")
	}
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
