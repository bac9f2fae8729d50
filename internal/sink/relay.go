package sink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// RelayALPN is the ALPN protocol spoken between RelaySink and Receiver.
const RelayALPN = "tspes-relay"

// relayDrainTimeout bounds how long Close waits for the receiver to drain.
const relayDrainTimeout = 5 * time.Second

// RelaySink sends units to a Receiver over one unidirectional QUIC stream.
type RelaySink struct {
	conn   quic.Connection
	stream quic.SendStream
}

// DialRelay connects to the receiver at addr and opens the unit stream.
// tlsConf may be nil, in which case the receiver's certificate is not
// verified.
func DialRelay(ctx context.Context, addr string, tlsConf *tls.Config) (*RelaySink, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed receivers
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{RelayALPN}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", addr, err)
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("open relay stream: %w", err)
	}
	return &RelaySink{conn: conn, stream: stream}, nil
}

// WriteUnit sends u as one record on the relay stream.
func (s *RelaySink) WriteUnit(u Unit) error {
	return WriteFrame(s.stream, u)
}

// Close finishes the stream and waits for the receiver to close the
// connection once it has read everything, or for relayDrainTimeout.
func (s *RelaySink) Close() error {
	err := s.stream.Close()
	timer := time.NewTimer(relayDrainTimeout)
	defer timer.Stop()
	select {
	case <-s.conn.Context().Done():
	case <-timer.C:
	}
	s.conn.CloseWithError(0, "")
	return err
}

// Receiver accepts relay connections and decodes the units they carry.
type Receiver struct {
	log *slog.Logger
	ln  *quic.Listener
}

// ListenRelay starts a Receiver on addr. tlsConf must carry a certificate.
// If log is nil, slog.Default() is used.
func ListenRelay(addr string, tlsConf *tls.Config, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{RelayALPN}

	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	return &Receiver{
		log: log.With("component", "relay-receiver"),
		ln:  ln,
	}, nil
}

// Addr returns the address the receiver listens on.
func (r *Receiver) Addr() string {
	return r.ln.Addr().String()
}

// Close stops accepting connections.
func (r *Receiver) Close() error {
	return r.ln.Close()
}

// Serve accepts connections until ctx is cancelled, calling handle for
// every received unit. Units from one connection are delivered in order;
// connections are served concurrently. An error from handle closes the
// offending connection.
func (r *Receiver) Serve(ctx context.Context, handle func(remote string, u Unit) error) error {
	go func() {
		<-ctx.Done()
		r.ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := r.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.serveConn(ctx, conn, handle)
		}()
	}
}

func (r *Receiver) serveConn(ctx context.Context, conn quic.Connection, handle func(string, Unit) error) {
	remote := conn.RemoteAddr().String()
	log := r.log.With("remote", remote)
	log.Info("relay connected")

	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		log.Debug("accept stream", "error", err)
		conn.CloseWithError(0, "")
		return
	}

	br := bufio.NewReader(stream)
	var units int
	for {
		u, err := ReadFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("relay read error", "error", err)
			}
			break
		}
		if err := handle(remote, u); err != nil {
			log.Warn("relay handler error", "error", err)
			break
		}
		units++
	}
	conn.CloseWithError(0, "")
	log.Info("relay closed", "units", units)
}
