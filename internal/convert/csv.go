package convert

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"movesense-agent/internal/sbem"
)

// CSVSink writes one CSV file per converted log.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("convert: creating csv output dir: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

func (s *CSVSink) Write(ctx context.Context, name string, res *sbem.Result) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	table := Flatten(res)
	path := filepath.Join(s.dir, name+".csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("convert: creating %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(table.Columns); err != nil {
		f.Close()
		return "", fmt.Errorf("convert: writing header to %s: %w", path, err)
	}
	if err := w.WriteAll(table.Rows); err != nil {
		f.Close()
		return "", fmt.Errorf("convert: writing rows to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("convert: closing %s: %w", path, err)
	}
	return path, nil
}

func (s *CSVSink) Standalone() bool { return true }

func (s *CSVSink) Close() error { return nil }
