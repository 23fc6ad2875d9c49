package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"movesense-agent/internal/ble"
	"movesense-agent/internal/model"
)

// DrainOptions bound the per-device drain loop.
type DrainOptions struct {
	// ReceiveTimeout is the per-notification wait budget.
	ReceiveTimeout time.Duration
	// MaxConsecutiveMisses ends the loop after this many non-complete
	// fetches in a row. A completed fetch resets the counter.
	MaxConsecutiveMisses int
	// InterLogDelay separates consecutive fetch attempts.
	InterLogDelay time.Duration
	// ResetGrace is how long to wait after the HELLO reset before releasing
	// the connection, leaving the firmware in a clean state.
	ResetGrace time.Duration
	// StopLoggingFirst issues STOP_LOGGING before the first fetch so a
	// recording in progress is flushed to flash.
	StopLoggingFirst bool
}

func (o DrainOptions) withDefaults() DrainOptions {
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = 10 * time.Second
	}
	if o.MaxConsecutiveMisses <= 0 {
		o.MaxConsecutiveMisses = 1
	}
	if o.InterLogDelay < 0 {
		o.InterLogDelay = 0
	}
	if o.ResetGrace <= 0 {
		o.ResetGrace = 2 * time.Second
	}
	return o
}

// DrainResult is the outcome of draining one device.
type DrainResult struct {
	Logs []model.FetchedLog
	// Attempted is true once at least one fetch command reached the device.
	Attempted bool
	// LastErr holds the final non-timeout error, if any.
	LastErr error
}

// Drain fetches logs from a connected device starting at log id 1,
// incrementing after each attempt, until the consecutive-miss threshold is
// hit, the link drops, or the context is canceled. Before returning it sends
// a HELLO reset and sleeps a bounded grace period so the device's internal
// state stays consistent for the next session.
func Drain(ctx context.Context, conn ble.Connection, device string, opts DrainOptions, logger *slog.Logger) DrainResult {
	opts = opts.withDefaults()
	logger = logger.With("device", device)
	session := NewSession(conn, opts.ReceiveTimeout, logger)

	var res DrainResult

	if opts.StopLoggingFirst {
		if err := conn.Send(ctx, ble.Command(ble.OpStopLogging)); err != nil {
			logger.Warn("stop logging command failed", "error", err)
		}
	}

	logID := uint32(1)
	misses := 0
	for misses < opts.MaxConsecutiveMisses {
		if ctx.Err() != nil {
			res.LastErr = ctx.Err()
			break
		}

		buf, err := session.FetchLog(ctx, logID)
		res.Attempted = session.CommandsSent() > 0
		switch {
		case err == nil:
			logger.Info("fetched log", "log_id", logID, "bytes", buf.Len())
			res.Logs = append(res.Logs, model.FetchedLog{
				DeviceSuffix: device,
				LogID:        logID,
				Data:         buf.Bytes(),
				FetchedAt:    time.Now().UTC(),
			})
			misses = 0
		case errors.Is(err, ErrFetchTimeout):
			logger.Info("no data for log, assuming log set exhausted", "log_id", logID)
			misses++
		case errors.Is(err, ble.ErrDisconnected):
			logger.Warn("device disconnected mid-drain", "log_id", logID)
			res.LastErr = err
			return res
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			res.LastErr = err
			return res
		default:
			logger.Error("log fetch failed", "log_id", logID, "error", err)
			res.LastErr = err
			misses++
		}
		logID++
		sleepWithContext(ctx, opts.InterLogDelay)
	}

	reset(ctx, conn, opts.ResetGrace, logger)
	return res
}

// reset puts the firmware back into a known state. Best effort with a
// bounded sleep only; application correctness never depends on it.
func reset(ctx context.Context, conn ble.Connection, grace time.Duration, logger *slog.Logger) {
	if err := conn.Send(ctx, ble.Command(ble.OpHello)); err != nil {
		logger.Warn("reset command failed", "error", err)
		return
	}
	sleepWithContext(ctx, grace)
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
