package agent

import (
	"sync/atomic"
	"time"

	"movesense-agent/internal/model"
)

// RunStats aggregates the run outcome for logging and the probe endpoint.
type RunStats struct {
	streamConnected  atomic.Bool
	devicesCompleted atomic.Int64
	devicesFailed    atomic.Int64
	logsFetched      atomic.Int64
	recordsDecoded   atomic.Int64
	finishedAt       atomic.Int64
}

func NewRunStats() *RunStats {
	return &RunStats{}
}

func (s *RunStats) SetStreamConnected(ok bool) {
	s.streamConnected.Store(ok)
}

func (s *RunStats) Apply(report model.RunReport) {
	var completed, failed, logs, records int64
	for _, d := range report.Devices {
		switch d.State {
		case model.StateCompleted:
			completed++
		case model.StateFailed:
			failed++
		}
		logs += int64(d.LogsFetched)
		records += int64(d.RecordsDecoded)
	}
	s.devicesCompleted.Store(completed)
	s.devicesFailed.Store(failed)
	s.logsFetched.Store(logs)
	s.recordsDecoded.Store(records)
	if !report.FinishedAt.IsZero() {
		s.finishedAt.Store(report.FinishedAt.UnixNano())
	}
}

func (s *RunStats) Snapshot() map[string]any {
	out := map[string]any{
		"stream_connected":  s.streamConnected.Load(),
		"devices_completed": s.devicesCompleted.Load(),
		"devices_failed":    s.devicesFailed.Load(),
		"logs_fetched":      s.logsFetched.Load(),
		"records_decoded":   s.recordsDecoded.Load(),
	}
	if v := s.finishedAt.Load(); v > 0 {
		out["finished_at"] = time.Unix(0, v).UTC()
	}
	return out
}
