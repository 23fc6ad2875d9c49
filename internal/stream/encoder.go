package stream

import (
	"context"
	"encoding/json"
	"time"

	"movesense-agent/internal/model"
)

// ReportSink receives extraction outcomes. Implementations reconnect on
// failure; a send error means the frame was lost after a retry.
type ReportSink interface {
	SendRunReport(ctx context.Context, report model.RunReport) error
	SendDeviceReport(ctx context.Context, runID string, report model.DeviceReport) error
	Close(ctx context.Context) error
}

const (
	frameTypeRun    = "run_report"
	frameTypeDevice = "device_report"
)

type Envelope struct {
	Type          string `json:"type"`
	RunID         string `json:"run_id"`
	TimestampUnix int64  `json:"timestamp_unix"`
	Payload       any    `json:"payload"`
}

type RunFrame struct {
	RunID         string          `json:"run_id"`
	TimestampUnix int64           `json:"timestamp_unix"`
	Report        model.RunReport `json:"report"`
}

type DeviceFrame struct {
	RunID         string             `json:"run_id"`
	TimestampUnix int64              `json:"timestamp_unix"`
	Report        model.DeviceReport `json:"report"`
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewRunFrame(report model.RunReport) RunFrame {
	at := report.FinishedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return RunFrame{RunID: report.RunID, TimestampUnix: at.Unix(), Report: report}
}

func NewDeviceFrame(runID string, report model.DeviceReport) DeviceFrame {
	return DeviceFrame{RunID: runID, TimestampUnix: time.Now().UTC().Unix(), Report: report}
}
