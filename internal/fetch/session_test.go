package fetch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"movesense-agent/internal/ble"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a scripted ble.Connection. Each FETCH_LOG command triggers the
// script for that log id, which queues notifications (or nothing, to force a
// timeout).
type fakeConn struct {
	mu            sync.Mutex
	sent          [][]byte
	notifications chan []byte
	disconnected  chan struct{}
	script        func(c *fakeConn, logID uint32)
	closed        bool
}

func newFakeConn(script func(c *fakeConn, logID uint32)) *fakeConn {
	return &fakeConn{
		notifications: make(chan []byte, 64),
		disconnected:  make(chan struct{}),
		script:        script,
	}
}

func (c *fakeConn) Send(ctx context.Context, cmd []byte) error {
	select {
	case <-c.disconnected:
		return ble.ErrDisconnected
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), cmd...))
	c.mu.Unlock()
	if len(cmd) == 6 && cmd[0] == byte(ble.OpFetchLog) && c.script != nil {
		c.script(c, binary.LittleEndian.Uint32(cmd[2:]))
	}
	return nil
}

func (c *fakeConn) Notifications() <-chan []byte { return c.notifications }
func (c *fakeConn) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.disconnected)
	}
	return nil
}

func (c *fakeConn) sentCommands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// note builds a raw data notification at the given offset.
func note(offset uint32, payload []byte) []byte {
	raw := make([]byte, 6+len(payload))
	raw[0] = ble.NotifyData
	raw[1] = ble.ClientReference
	binary.LittleEndian.PutUint32(raw[2:], offset)
	copy(raw[6:], payload)
	return raw
}

func eofNote() []byte {
	return note(0, nil)
}

func TestSessionFetchLogComplete(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, logID uint32) {
		// Out of order on purpose.
		c.notifications <- note(4, []byte("tail"))
		c.notifications <- note(0, []byte("head"))
		c.notifications <- eofNote()
	})
	s := NewSession(conn, 100*time.Millisecond, testLogger())

	buf, err := s.FetchLog(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLog() error = %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("State() = %q, want %q", s.State(), StateComplete)
	}
	if !buf.Sealed() {
		t.Error("buffer not sealed after completion")
	}
	if !bytes.Equal(buf.Bytes(), []byte("headtail")) {
		t.Errorf("Bytes() = %q, want %q", buf.Bytes(), "headtail")
	}
}

func TestSessionFetchLogTimeout(t *testing.T) {
	conn := newFakeConn(nil) // never answers
	s := NewSession(conn, 20*time.Millisecond, testLogger())

	_, err := s.FetchLog(context.Background(), 1)
	if !errors.Is(err, ErrFetchTimeout) {
		t.Fatalf("FetchLog() error = %v, want %v", err, ErrFetchTimeout)
	}
	if s.State() != StateTimedOut {
		t.Errorf("State() = %q, want %q", s.State(), StateTimedOut)
	}
}

func TestSessionTimeoutRearmsPerNotification(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, logID uint32) {
		go func() {
			// Each gap is under the budget; the total exceeds it.
			for i := 0; i < 4; i++ {
				time.Sleep(15 * time.Millisecond)
				c.notifications <- note(uint32(i), []byte{byte(i)})
			}
			time.Sleep(15 * time.Millisecond)
			c.notifications <- eofNote()
		}()
	})
	s := NewSession(conn, 40*time.Millisecond, testLogger())

	buf, err := s.FetchLog(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLog() error = %v", err)
	}
	if buf.Len() != 4 {
		t.Errorf("Len() = %d, want 4", buf.Len())
	}
}

func TestSessionDisconnectDistinctFromTimeout(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, logID uint32) {
		_ = c.Close()
	})
	s := NewSession(conn, time.Second, testLogger())

	_, err := s.FetchLog(context.Background(), 1)
	if !errors.Is(err, ble.ErrDisconnected) {
		t.Fatalf("FetchLog() error = %v, want %v", err, ble.ErrDisconnected)
	}
	if errors.Is(err, ErrFetchTimeout) {
		t.Error("disconnect must not be classified as timeout")
	}
	if s.State() != StateError {
		t.Errorf("State() = %q, want %q", s.State(), StateError)
	}
}

func TestSessionObservesCancellation(t *testing.T) {
	conn := newFakeConn(nil)
	s := NewSession(conn, time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.FetchLog(ctx, 1)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("FetchLog() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("FetchLog() did not unwind promptly on cancellation")
	}
}

func TestSessionMalformedNotificationSkipped(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, logID uint32) {
		c.notifications <- []byte{1, 2} // shorter than the header
		c.notifications <- note(0, []byte("ok"))
		c.notifications <- eofNote()
	})
	s := NewSession(conn, 100*time.Millisecond, testLogger())

	buf, err := s.FetchLog(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchLog() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte("ok")) {
		t.Errorf("Bytes() = %q, want %q", buf.Bytes(), "ok")
	}
}
