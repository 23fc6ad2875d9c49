package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"movesense-agent/internal/ble"
)

// ErrFetchTimeout means no notification arrived within the receive budget.
// Upstream treats it as "no further logs on this device", not as a device
// fault, so it stays distinct from a transport disconnect.
var ErrFetchTimeout = errors.New("fetch: timed out waiting for log data")

// State of one log transfer.
type State string

const (
	StateIdle        State = "idle"
	StateCommandSent State = "command_sent"
	StateReceiving   State = "receiving"
	StateComplete    State = "complete"
	StateTimedOut    State = "timed_out"
	StateError       State = "error"
)

// Session fetches log files from one connected device. Not safe for
// concurrent use; the scheduler guarantees one session per device.
type Session struct {
	conn    ble.Connection
	logger  *slog.Logger
	timeout time.Duration
	state   State
	sent    int
}

func NewSession(conn ble.Connection, receiveTimeout time.Duration, logger *slog.Logger) *Session {
	if receiveTimeout <= 0 {
		receiveTimeout = 10 * time.Second
	}
	return &Session{
		conn:    conn,
		logger:  logger,
		timeout: receiveTimeout,
		state:   StateIdle,
	}
}

// State returns the state the last transfer ended in.
func (s *Session) State() State {
	return s.state
}

// CommandsSent counts fetch commands that reached the device. The scheduler
// uses it to tell a never-attempted device from a partially-drained one.
func (s *Session) CommandsSent() int {
	return s.sent
}

// FetchLog pulls one log by id. It returns the sealed buffer on success,
// ErrFetchTimeout when the device stops talking, ble.ErrDisconnected when
// the link drops, and the context error on cancellation.
func (s *Session) FetchLog(ctx context.Context, logID uint32) (*LogBuffer, error) {
	s.state = StateIdle
	buf := NewLogBuffer()

	cmd := ble.FetchLogCommand(logID)
	s.logger.Debug("sending fetch command", "log_id", logID)
	if err := s.conn.Send(ctx, cmd); err != nil {
		s.state = StateError
		return nil, fmt.Errorf("send fetch command for log %d: %w", logID, err)
	}
	s.state = StateCommandSent
	s.sent++

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.state = StateError
			buf.Seal()
			return nil, ctx.Err()
		case <-s.conn.Disconnected():
			s.state = StateError
			buf.Seal()
			return nil, ble.ErrDisconnected
		case <-timer.C:
			s.state = StateTimedOut
			buf.Seal()
			return nil, ErrFetchTimeout
		case raw, ok := <-s.conn.Notifications():
			if !ok {
				s.state = StateError
				buf.Seal()
				return nil, ble.ErrDisconnected
			}
			n, err := ble.ParseNotification(raw)
			if err != nil {
				s.logger.Warn("dropping malformed notification", "error", err)
				continue
			}
			s.state = StateReceiving
			if n.EOF() {
				s.state = StateComplete
				buf.Seal()
				s.logger.Debug("log complete", "log_id", logID, "bytes", buf.Len())
				return buf, nil
			}
			if err := buf.WriteAt(n.Payload, int64(n.Offset)); err != nil {
				s.state = StateError
				return nil, fmt.Errorf("log %d: %w", logID, err)
			}
			// Data is flowing again; restart the receive budget.
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.timeout)
		}
	}
}
