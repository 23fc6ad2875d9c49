// Package model holds the shared types the scheduler, sinks, and stream
// clients exchange.
package model

import "time"

// DeviceState tracks one targeted sensor through an extraction run. The
// scheduler owns every transition.
type DeviceState string

const (
	StatePending   DeviceState = "pending"
	StateFound     DeviceState = "found"
	StateBusy      DeviceState = "busy"
	StateCompleted DeviceState = "completed"
	StateFailed    DeviceState = "failed"
)

// Terminal reports whether a device needs no further scheduling.
func (s DeviceState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureClass distinguishes why a device ended up failed; it drives the
// operator-facing remediation message.
type FailureClass string

const (
	// FailureNone is the zero value for completed devices.
	FailureNone FailureClass = ""
	// FailureNotFound means the device was never discovered at selection
	// time.
	FailureNotFound FailureClass = "not_found"
	// FailureNeverAttempted means the device was reachable but no fetch
	// command was ever issued.
	FailureNeverAttempted FailureClass = "never_attempted"
	// FailurePartialAttempt means at least one fetch command went out before
	// the session gave up.
	FailurePartialAttempt FailureClass = "partial_attempt"
)

// DeviceReport is the per-device outcome of a finished run.
type DeviceReport struct {
	Suffix         string       `json:"suffix"`
	State          DeviceState  `json:"state"`
	Failure        FailureClass `json:"failure,omitempty"`
	LogsFetched    int          `json:"logs_fetched"`
	RecordsDecoded int          `json:"records_decoded"`
	Attempted      bool         `json:"attempted"`
	OutputPaths    []string     `json:"output_paths,omitempty"`
	// ConversionError is set when extraction succeeded but the sink failed.
	ConversionError string `json:"conversion_error,omitempty"`
}

// RunReport summarizes one extraction run across all targeted devices.
type RunReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Devices    []DeviceReport `json:"devices"`
}

// Completed counts devices that finished with at least one fetched log.
func (r RunReport) Completed() int {
	n := 0
	for _, d := range r.Devices {
		if d.State == StateCompleted {
			n++
		}
	}
	return n
}
