package sbem

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedStream means the stream ended inside an id or length field.
	ErrTruncatedStream = errors.New("sbem: truncated stream")
	// ErrChunkSizeMismatch means a chunk declared more payload bytes than the
	// stream holds. Decoding of the current file stops at this point.
	ErrChunkSizeMismatch = errors.New("sbem: chunk size mismatch")
)

// ChunkError wraps a decode failure with the position it happened at.
type ChunkError struct {
	Index  int
	Offset int64
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("sbem: chunk %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// UnknownChunkError is returned in strict mode for a data chunk whose id is
// not in the known id-to-length map, or whose length disagrees with it.
type UnknownChunkError struct {
	ID     uint16
	Length int
}

func (e *UnknownChunkError) Error() string {
	return fmt.Sprintf("sbem: unknown chunk id %d (length %d)", e.ID, e.Length)
}
