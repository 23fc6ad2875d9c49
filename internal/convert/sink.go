// Package convert persists fetched logs: raw containers are archived as-is,
// decoded records go to a tabular sink, and converted files are renamed after
// the participant wearing the sensor.
package convert

import (
	"context"

	"movesense-agent/internal/sbem"
)

// Sink writes one decoded log under the given base name and returns the path
// it wrote to.
type Sink interface {
	Write(ctx context.Context, name string, res *sbem.Result) (string, error)
	// Standalone reports whether each Write produces an independent file.
	// Shared-store sinks return false and are exempt from participant
	// renaming.
	Standalone() bool
	Close() error
}
