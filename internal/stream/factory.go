package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"movesense-agent/internal/config"
	"movesense-agent/internal/model"
)

const (
	defaultRunStreamMethod    = "/movesense.extraction.v1.ExtractionService/StreamRunReports"
	defaultDeviceStreamMethod = "/movesense.extraction.v1.ExtractionService/StreamDeviceReports"
)

// NopSink discards every report. Used when no backend is configured.
type NopSink struct{}

func (NopSink) SendRunReport(ctx context.Context, report model.RunReport) error { return nil }
func (NopSink) SendDeviceReport(ctx context.Context, runID string, report model.DeviceReport) error {
	return nil
}
func (NopSink) Close(ctx context.Context) error { return nil }

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (ReportSink, error) {
	switch cfg.StreamMode {
	case config.StreamModeGRPC:
		return NewGRPCClient(
			cfg.BackendGRPCAddr,
			tlsCfg,
			cfg.BackendToken,
			defaultRunStreamMethod,
			defaultDeviceStreamMethod,
			logger,
		), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(
			cfg.BackendWSURL,
			cfg.BackendToken,
			tlsCfg,
			cfg.StreamWriteTimeout,
			cfg.StreamPingInterval,
			logger,
		), nil
	case config.StreamModeNone:
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("stream: unknown mode %q", cfg.StreamMode)
	}
}
