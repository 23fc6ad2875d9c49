// Package sbem reads and writes the Movesense SBEM log container: an opaque
// 8-byte header followed by (id, length, payload) chunks with an escape-based
// variable-width encoding for ids and lengths.
package sbem

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the fixed, opaque file header length.
	HeaderSize = 8
	// DescriptorID marks a descriptor chunk holding textual group metadata.
	DescriptorID = 0

	escape = 0xFF
)

// Chunk is one (id, payload) unit of the container.
type Chunk struct {
	ID      uint16
	Payload []byte
}

// IsDescriptor reports whether the chunk holds descriptor text rather than
// telemetry.
func (c Chunk) IsDescriptor() bool {
	return c.ID == DescriptorID
}

// Reader decodes chunks from an SBEM stream.
type Reader struct {
	r      io.Reader
	offset int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// ReadHeader consumes the 8-byte file header and returns it unvalidated.
func (r *Reader) ReadHeader() ([]byte, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r.r, header)
	r.offset += int64(n)
	if err != nil {
		return nil, ErrTruncatedStream
	}
	return header, nil
}

// Next returns the next chunk. It returns io.EOF at a clean end of stream,
// ErrTruncatedStream when the stream ends inside an id or length field, and
// ErrChunkSizeMismatch when fewer payload bytes are available than declared.
func (r *Reader) Next() (Chunk, error) {
	id, err := r.readID()
	if err != nil {
		return Chunk{}, err
	}
	length, err := r.readLength()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrTruncatedStream
		}
		return Chunk{}, err
	}
	payload := make([]byte, length)
	n, err := io.ReadFull(r.r, payload)
	r.offset += int64(n)
	if err != nil {
		return Chunk{}, ErrChunkSizeMismatch
	}
	return Chunk{ID: id, Payload: payload}, nil
}

// readID reads one byte; 0xFF escapes to a little-endian 16-bit id. A clean
// EOF before the first byte surfaces as io.EOF so callers can detect end of
// stream; running out mid-field is ErrTruncatedStream.
func (r *Reader) readID() (uint16, error) {
	var b [2]byte
	n, err := io.ReadFull(r.r, b[:1])
	r.offset += int64(n)
	if err != nil {
		// A clean end of stream is the normal exit; anything else is a real
		// read failure and must not look like one.
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, err
	}
	if b[0] < escape {
		return uint16(b[0]), nil
	}
	n, err = io.ReadFull(r.r, b[:2])
	r.offset += int64(n)
	if err != nil {
		return 0, ErrTruncatedStream
	}
	return binary.LittleEndian.Uint16(b[:2]), nil
}

// readLength reads one byte; 0xFF escapes to a little-endian 32-bit length.
func (r *Reader) readLength() (uint32, error) {
	var b [4]byte
	n, err := io.ReadFull(r.r, b[:1])
	r.offset += int64(n)
	if err != nil {
		return 0, ErrTruncatedStream
	}
	if b[0] < escape {
		return uint32(b[0]), nil
	}
	n, err = io.ReadFull(r.r, b[:4])
	r.offset += int64(n)
	if err != nil {
		return 0, ErrTruncatedStream
	}
	return binary.LittleEndian.Uint32(b[:4]), nil
}
