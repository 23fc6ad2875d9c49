package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"movesense-agent/internal/ble"
	"movesense-agent/internal/config"
	"movesense-agent/internal/convert"
	"movesense-agent/internal/extract"
	"movesense-agent/internal/fetch"
	"movesense-agent/internal/model"
	"movesense-agent/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	adapter   *ble.Adapter
	scheduler *extract.Scheduler
	sink      stream.ReportSink
	convSink  convert.Sink
	stats     *RunStats
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	participants, err := config.LoadParticipants(cfg.ParticipantMapPath)
	if err != nil {
		return nil, fmt.Errorf("participant map: %w", err)
	}

	convSink, err := buildConversionSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("conversion sink: %w", err)
	}
	converter := convert.New(convSink, convert.Options{
		RawDir:       cfg.RawDir,
		Participants: participants,
		DayNumber:    cfg.DayNumber,
	}, logger)

	adapter, err := ble.NewAdapter(cfg.ScanWindow, logger)
	if err != nil {
		convSink.Close()
		return nil, fmt.Errorf("bluetooth adapter: %w", err)
	}

	stats := NewRunStats()
	wrappedSink := &statsSink{sink: sink, stats: stats}
	scheduler := extract.New(cfg.DeviceSuffixes, adapter, adapter, converter, extract.Options{
		Workers:           cfg.Workers,
		Transactions:      int64(cfg.Transactions),
		ConvertWorkers:    cfg.ConvertWorkers,
		MaxDeviceAttempts: cfg.MaxDeviceAttempts,
		MaxIdleRounds:     cfg.MaxIdleRounds,
		SelectionBackoff:  cfg.SelectionBackoff,
		ScanInterval:      cfg.ScanInterval,
		Drain: fetch.DrainOptions{
			ReceiveTimeout:       cfg.ReceiveTimeout,
			MaxConsecutiveMisses: cfg.MaxConsecutiveMisses,
			InterLogDelay:        cfg.InterLogDelay,
			ResetGrace:           cfg.ResetGrace,
			StopLoggingFirst:     cfg.StopLoggingFirst,
		},
	}, logger)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		adapter:   adapter,
		scheduler: scheduler,
		sink:      wrappedSink,
		convSink:  convSink,
		stats:     stats,
	}, nil
}

func buildConversionSink(cfg config.Config) (convert.Sink, error) {
	switch cfg.SinkMode {
	case config.SinkModeSQLite:
		return convert.NewSQLiteSink(cfg.SQLitePath)
	default:
		return convert.NewCSVSink(cfg.OutputDir)
	}
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting movesense-agent",
		"host", a.cfg.Hostname,
		"devices", len(a.cfg.DeviceSuffixes),
		"workers", a.cfg.Workers)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Extraction finished by itself (all devices terminal, or a runtime
		// error, or the parent ctx was canceled).
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
			// graceful stop completed in time
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("movesense-agent stopped")
	return nil
}

// publishReport logs the run outcome and offers it to the report sink. Stream
// failures are logged, never fatal: the converted files are already on disk.
func (a *Agent) publishReport(ctx context.Context, report model.RunReport) {
	a.stats.Apply(report)
	a.logger.Info("extraction report",
		"run_id", report.RunID,
		"completed", report.Completed(),
		"devices", len(report.Devices),
		"stats", a.stats.Snapshot())

	for _, dev := range report.Devices {
		a.logger.Info("device outcome",
			"device", dev.Suffix,
			"state", dev.State,
			"failure", dev.Failure,
			"logs", dev.LogsFetched,
			"records", dev.RecordsDecoded,
			"paths", dev.OutputPaths)
		if err := a.sink.SendDeviceReport(ctx, report.RunID, dev); err != nil {
			a.logger.Warn("device report stream failed", "device", dev.Suffix, "error", err)
		}
	}
	if err := a.sink.SendRunReport(ctx, report); err != nil {
		a.logger.Warn("run report stream failed", "error", err)
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

type statsSink struct {
	sink  stream.ReportSink
	stats *RunStats
}

func (s *statsSink) SendRunReport(ctx context.Context, report model.RunReport) error {
	err := s.sink.SendRunReport(ctx, report)
	s.stats.SetStreamConnected(err == nil)
	return err
}

func (s *statsSink) SendDeviceReport(ctx context.Context, runID string, report model.DeviceReport) error {
	err := s.sink.SendDeviceReport(ctx, runID, report)
	s.stats.SetStreamConnected(err == nil)
	return err
}

func (s *statsSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
