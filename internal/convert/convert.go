package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"movesense-agent/internal/extract"
	"movesense-agent/internal/model"
	"movesense-agent/internal/sbem"
)

// rawStamp is the raw archive timestamp layout, HHMMSSddmmyyyy.
const rawStamp = "15040502012006"

// Options configure a Converter.
type Options struct {
	// RawDir receives a verbatim copy of every fetched container before
	// conversion. Empty disables archiving.
	RawDir string
	// Participants maps a sensor name suffix to the participant wearing it.
	// Mapped devices get their converted files renamed to
	// <participant>_<ddmmyy>_<day>.
	Participants map[string]string
	// DayNumber is the recording day used in participant file names.
	DayNumber int
	Decode    sbem.Options
}

// Converter decodes fetched logs and hands them to a sink. It satisfies the
// scheduler's conversion interface.
type Converter struct {
	sink   Sink
	opts   Options
	logger *slog.Logger

	// now is swapped in tests to pin archive names.
	now func() time.Time
}

func New(sink Sink, opts Options, logger *slog.Logger) *Converter {
	if opts.DayNumber <= 0 {
		opts.DayNumber = 1
	}
	return &Converter{sink: sink, opts: opts, logger: logger, now: time.Now}
}

// ConvertDevice persists every log fetched from one device. A log that fails
// to convert never blocks the rest; all failures come back joined.
func (c *Converter) ConvertDevice(ctx context.Context, device string, logs []model.FetchedLog) (extract.ConversionResult, error) {
	var (
		out  extract.ConversionResult
		errs []error
	)
	for _, lg := range logs {
		base := fmt.Sprintf("%s_%s_%d", c.now().Format(rawStamp), device, lg.LogID)

		if c.opts.RawDir != "" {
			if path, err := c.archiveRaw(base, lg.Data); err != nil {
				c.logger.Warn("raw archive failed", "device", device, "log", lg.LogID, "error", err)
				errs = append(errs, err)
			} else {
				out.Paths = append(out.Paths, path)
			}
		}

		res, err := sbem.DecodeBytes(lg.Data, c.opts.Decode)
		if err != nil {
			// Chunks decoded before the failure are still worth keeping.
			c.logger.Warn("log decoded partially", "device", device, "log", lg.LogID, "error", err)
			errs = append(errs, err)
		}
		if len(res.Records) == 0 {
			c.logger.Warn("no records decoded from log", "device", device, "log", lg.LogID)
			continue
		}

		path, err := c.sink.Write(ctx, base, res)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if c.sink.Standalone() {
			if renamed, err := c.applyParticipantName(device, path); err != nil {
				errs = append(errs, err)
			} else {
				path = renamed
			}
		}
		out.Records += len(res.Records)
		out.Paths = append(out.Paths, path)

		c.logger.Info("log converted",
			"device", device,
			"log", lg.LogID,
			"records", len(res.Records),
			"path", path)
	}
	return out, errors.Join(errs...)
}

func (c *Converter) archiveRaw(base string, data []byte) (string, error) {
	if err := os.MkdirAll(c.opts.RawDir, 0o755); err != nil {
		return "", fmt.Errorf("convert: creating raw dir: %w", err)
	}
	path := filepath.Join(c.opts.RawDir, base+".sbem")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("convert: archiving %s: %w", path, err)
	}
	return path, nil
}

// applyParticipantName renames a converted file to the participant form when
// the device is mapped. Unmapped devices keep the archive-style name.
func (c *Converter) applyParticipantName(device, path string) (string, error) {
	participant, ok := c.opts.Participants[device]
	if !ok || participant == "" {
		return path, nil
	}
	ext := filepath.Ext(path)
	target := filepath.Join(filepath.Dir(path),
		fmt.Sprintf("%s_%s_%d%s", participant, c.now().Format("020106"), c.opts.DayNumber, ext))
	return safeRename(path, target)
}

// safeRename moves src to dst, appending _1, _2, ... while dst exists.
func safeRename(src, dst string) (string, error) {
	base := strings.TrimSuffix(dst, filepath.Ext(dst))
	ext := filepath.Ext(dst)
	candidate := dst
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			break
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	if err := os.Rename(src, candidate); err != nil {
		return "", fmt.Errorf("convert: renaming %s: %w", src, err)
	}
	return candidate, nil
}
