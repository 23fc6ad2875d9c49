package sbem

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer produces SBEM streams that the Reader round-trips exactly. The
// one-byte form is always chosen when a value fits below the escape byte,
// matching what the sensor firmware emits.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the 8-byte file header. Short input is zero-padded.
func (w *Writer) WriteHeader(header []byte) error {
	buf := make([]byte, HeaderSize)
	copy(buf, header)
	_, err := w.w.Write(buf)
	return err
}

func (w *Writer) WriteChunk(c Chunk) error {
	if uint64(len(c.Payload)) > math.MaxUint32 {
		return fmt.Errorf("sbem: payload of %d bytes exceeds 32-bit length", len(c.Payload))
	}
	if err := w.writeID(c.ID); err != nil {
		return err
	}
	if err := w.writeLength(uint32(len(c.Payload))); err != nil {
		return err
	}
	_, err := w.w.Write(c.Payload)
	return err
}

func (w *Writer) writeID(id uint16) error {
	if id < escape {
		_, err := w.w.Write([]byte{byte(id)})
		return err
	}
	var b [3]byte
	b[0] = escape
	binary.LittleEndian.PutUint16(b[1:], id)
	_, err := w.w.Write(b[:])
	return err
}

func (w *Writer) writeLength(length uint32) error {
	if length < escape {
		_, err := w.w.Write([]byte{byte(length)})
		return err
	}
	var b [5]byte
	b[0] = escape
	binary.LittleEndian.PutUint32(b[1:], length)
	_, err := w.w.Write(b[:])
	return err
}
