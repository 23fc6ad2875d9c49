package ble

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
)

func newTestConn() *deviceConn {
	return &deviceConn{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		notifications: make(chan []byte, notificationQueueSize),
		disconnected:  make(chan struct{}),
	}
}

func TestDeliverAfterDisconnectIsDropped(t *testing.T) {
	conn := newTestConn()
	conn.markDisconnected()

	// The stack's event goroutine can race the disconnect handler; a packet
	// arriving after the link dropped must be discarded, not crash delivery.
	conn.deliver([]byte{0x02, 0x65, 0xAA})

	if got := len(conn.notifications); got != 0 {
		t.Fatalf("queued %d packets after disconnect, want 0", got)
	}
}

func TestDeliverCopiesPacket(t *testing.T) {
	conn := newTestConn()

	buf := []byte{0x02, 0x65, 0x01, 0x02}
	conn.deliver(buf)
	buf[0] = 0xFF

	got := <-conn.notifications
	if want := []byte{0x02, 0x65, 0x01, 0x02}; !bytes.Equal(got, want) {
		t.Fatalf("packet = %v, want %v", got, want)
	}
}

func TestDeliverDropsWhenQueueFull(t *testing.T) {
	conn := newTestConn()
	for i := 0; i <= notificationQueueSize; i++ {
		conn.deliver([]byte{byte(i)})
	}
	if got := len(conn.notifications); got != notificationQueueSize {
		t.Fatalf("queue holds %d packets, want %d", got, notificationQueueSize)
	}
}

func TestMarkDisconnectedIsIdempotent(t *testing.T) {
	conn := newTestConn()
	conn.markDisconnected()
	conn.markDisconnected()

	select {
	case <-conn.Disconnected():
	default:
		t.Fatal("Disconnected not signalled")
	}
}

func TestRegisterSignalsDisplacedConnection(t *testing.T) {
	a := &Adapter{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:  make(map[string]*deviceConn),
	}
	const addr = "0C:8C:DC:2E:11:71"

	stale := newTestConn()
	a.register(addr, stale)

	fresh := newTestConn()
	a.register(addr, fresh)

	select {
	case <-stale.Disconnected():
	default:
		t.Fatal("displaced connection was not signalled")
	}
	select {
	case <-fresh.Disconnected():
		t.Fatal("new connection signalled as disconnected")
	default:
	}
	if a.conns[addr] != fresh {
		t.Fatal("address does not map to the new connection")
	}

	// Re-registering the same connection must not tear it down.
	a.register(addr, fresh)
	select {
	case <-fresh.Disconnected():
		t.Fatal("re-registration signalled the live connection")
	default:
	}
}
