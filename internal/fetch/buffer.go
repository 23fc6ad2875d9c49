// Package fetch drives the log transfer exchange with one connected device:
// fetch command out, offset-tagged data notifications in, reassembled into a
// byte buffer until the end-of-log marker or a receive timeout.
package fetch

import (
	"errors"
	"fmt"
	"math"
)

// ErrBufferSealed reports a write after the buffer was closed by EOF or
// timeout.
var ErrBufferSealed = errors.New("fetch: log buffer is sealed")

// LogBuffer is an offset-addressable byte sink for one log id. Notifications
// may arrive out of order and sparse; gaps stay zero-filled. The buffer is
// owned by a single session and is not safe for concurrent use.
type LogBuffer struct {
	data   []byte
	sealed bool
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// WriteAt stores p at the given offset, growing the buffer as needed.
func (b *LogBuffer) WriteAt(p []byte, off int64) error {
	if b.sealed {
		return ErrBufferSealed
	}
	if off < 0 || off > math.MaxInt64-int64(len(p)) {
		return fmt.Errorf("fetch: invalid write offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:end], p)
	return nil
}

// Seal closes the buffer against further writes.
func (b *LogBuffer) Seal() {
	b.sealed = true
}

func (b *LogBuffer) Sealed() bool {
	return b.sealed
}

func (b *LogBuffer) Len() int {
	return len(b.data)
}

// Bytes returns the reassembled log. The slice aliases the buffer's storage.
func (b *LogBuffer) Bytes() []byte {
	return b.data
}
