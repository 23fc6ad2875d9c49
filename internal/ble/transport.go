// Package ble defines the wireless transport boundary: device discovery,
// per-device connections, and the command/notification wire format the
// sensor firmware speaks.
package ble

import (
	"context"
	"errors"
)

// ErrDisconnected reports a transport-level loss of the connection, distinct
// from a notification timeout.
var ErrDisconnected = errors.New("ble: device disconnected")

// Advertisement is one device seen during a scan.
type Advertisement struct {
	Name    string
	Address string
}

// Scanner discovers nearby devices. One call covers one scan window.
type Scanner interface {
	Discover(ctx context.Context) ([]Advertisement, error)
}

// Dialer opens a connection to a discovered device.
type Dialer interface {
	Connect(ctx context.Context, address string) (Connection, error)
}

// Connection is one device's command/notification exchange. Notifications
// arrive on a bounded channel so the session has a single blocking receive
// point; the transport drops packets rather than block when the consumer
// falls behind.
type Connection interface {
	// Send writes a command to the device's command characteristic. Delivery
	// is fire-and-forget; firmware acknowledgement comes back as a
	// notification, not as a write response.
	Send(ctx context.Context, cmd []byte) error
	// Notifications delivers raw notification packets. The channel stays
	// open for the life of the process; Disconnected signals the end of the
	// link.
	Notifications() <-chan []byte
	// Disconnected is closed when the transport drops the link.
	Disconnected() <-chan struct{}
	Close() error
}
