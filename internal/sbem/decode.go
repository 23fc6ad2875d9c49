package sbem

import (
	"bytes"
	"errors"
	"io"
)

// Options tune a single decode pass.
type Options struct {
	// Strict rejects data chunks whose id is missing from KnownLengths or
	// whose payload length disagrees with it. The container carries no type
	// tag, so a future payload that happens to hit a recognized length would
	// otherwise be silently misread.
	Strict bool
	// KnownLengths maps data chunk ids to their expected payload length.
	KnownLengths map[uint16]int
}

// Result holds everything decoded from one file. Each decode call gets its
// own Result so concurrent extractions never share parser state.
type Result struct {
	Header      []byte
	Descriptors []Descriptor
	Records     []Record
	ChunkCount  int
	// Err is set when decoding stopped early. Chunks decoded before the
	// failure are preserved above.
	Err error
}

// Groups returns all group definitions across the file's descriptors.
func (r *Result) Groups() []GroupDefinition {
	var groups []GroupDefinition
	for _, d := range r.Descriptors {
		groups = append(groups, d.Groups...)
	}
	return groups
}

// Decode reads one SBEM stream to the end. A malformed chunk stops decoding
// of this stream only: the error is recorded on the Result (and returned)
// while everything decoded up to that point is kept.
func Decode(r io.Reader, opts Options) (*Result, error) {
	res := &Result{}
	sr := NewReader(r)

	header, err := sr.ReadHeader()
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Header = header

	for {
		offset := sr.Offset()
		chunk, err := sr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			res.Err = &ChunkError{Index: res.ChunkCount, Offset: offset, Err: err}
			return res, res.Err
		}

		if chunk.IsDescriptor() {
			res.Descriptors = append(res.Descriptors, ParseDescriptor(chunk.Payload))
			res.ChunkCount++
			continue
		}

		if opts.Strict {
			want, ok := opts.KnownLengths[chunk.ID]
			if !ok || want != len(chunk.Payload) {
				res.Err = &ChunkError{
					Index:  res.ChunkCount,
					Offset: offset,
					Err:    &UnknownChunkError{ID: chunk.ID, Length: len(chunk.Payload)},
				}
				return res, res.Err
			}
		}

		if rec, ok := DecodeRecord(chunk.ID, chunk.Payload); ok {
			res.Records = append(res.Records, rec)
		}
		res.ChunkCount++
	}
}

// DecodeBytes decodes an in-memory SBEM buffer, as produced by a log fetch.
func DecodeBytes(data []byte, opts Options) (*Result, error) {
	return Decode(bytes.NewReader(data), opts)
}
