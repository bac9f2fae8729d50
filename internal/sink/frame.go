package sink

import (
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// maxFrameData bounds the payload length accepted by ReadFrame.
const maxFrameData = 1 << 20

// WriteFrame writes u as one record:
// [pid (varint)] [stream_id (varint)] [seq (varint)] [length (varint)] [data].
// The record is assembled first and written with a single Write call.
func WriteFrame(w io.Writer, u Unit) error {
	size := quicvarint.Len(uint64(u.PID)) +
		quicvarint.Len(uint64(u.StreamID)) +
		quicvarint.Len(u.Seq) +
		quicvarint.Len(uint64(len(u.Data))) +
		len(u.Data)

	buf := make([]byte, 0, size)
	buf = quicvarint.Append(buf, uint64(u.PID))
	buf = quicvarint.Append(buf, uint64(u.StreamID))
	buf = quicvarint.Append(buf, u.Seq)
	buf = quicvarint.Append(buf, uint64(len(u.Data)))
	buf = append(buf, u.Data...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one record written by WriteFrame. It returns io.EOF only
// when r is exhausted before the first byte of a record.
func ReadFrame(r quicvarint.Reader) (Unit, error) {
	var u Unit

	pid, err := quicvarint.Read(r)
	if err != nil {
		return u, err
	}
	streamID, err := quicvarint.Read(r)
	if err != nil {
		return u, fmt.Errorf("read stream id: %w", noEOF(err))
	}
	seq, err := quicvarint.Read(r)
	if err != nil {
		return u, fmt.Errorf("read seq: %w", noEOF(err))
	}
	n, err := quicvarint.Read(r)
	if err != nil {
		return u, fmt.Errorf("read length: %w", noEOF(err))
	}
	if pid > 0x1FFF || streamID > 0xFF {
		return u, fmt.Errorf("invalid record header: pid %d stream id %d", pid, streamID)
	}
	if n > maxFrameData {
		return u, fmt.Errorf("record length %d exceeds %d", n, maxFrameData)
	}

	u.PID = uint16(pid)
	u.StreamID = uint8(streamID)
	u.Seq = seq
	u.Data = make([]byte, n)
	if _, err := io.ReadFull(r, u.Data); err != nil {
		return u, fmt.Errorf("read data: %w", noEOF(err))
	}
	return u, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
