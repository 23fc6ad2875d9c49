package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const notificationQueueSize = 64

// Adapter implements Scanner and Dialer over the host's bluetooth stack.
type Adapter struct {
	mu       sync.Mutex
	adapter  *bluetooth.Adapter
	enabled  bool
	logger   *slog.Logger
	scanWait time.Duration

	cmdUUID    bluetooth.UUID
	notifyUUID bluetooth.UUID

	// Connections by device address, so the adapter-global connect handler
	// can route disconnect events to the right session.
	conns map[string]*deviceConn
}

func NewAdapter(scanWindow time.Duration, logger *slog.Logger) (*Adapter, error) {
	if scanWindow <= 0 {
		scanWindow = 5 * time.Second
	}
	cmdUUID, err := bluetooth.ParseUUID(CommandCharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse command characteristic uuid: %w", err)
	}
	notifyUUID, err := bluetooth.ParseUUID(NotifyCharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse notify characteristic uuid: %w", err)
	}
	a := &Adapter{
		adapter:    bluetooth.DefaultAdapter,
		logger:     logger,
		scanWait:   scanWindow,
		cmdUUID:    cmdUUID,
		notifyUUID: notifyUUID,
		conns:      make(map[string]*deviceConn),
	}
	return a, nil
}

func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		conn := a.conns[device.Address.String()]
		delete(a.conns, device.Address.String())
		a.mu.Unlock()
		if conn != nil {
			conn.markDisconnected()
		}
	})
	a.enabled = true
	return nil
}

// Discover runs one scan window and returns every named device seen. The
// window ends early when the context is canceled.
func (a *Adapter) Discover(ctx context.Context) ([]Advertisement, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]Advertisement)
	)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}
			mu.Lock()
			seen[result.Address.String()] = Advertisement{
				Name:    name,
				Address: result.Address.String(),
			}
			mu.Unlock()
		})
	}()

	timer := time.NewTimer(a.scanWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		_ = a.adapter.StopScan()
		<-scanErr
		return nil, ctx.Err()
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("bluetooth scan: %w", err)
		}
	case <-timer.C:
		if err := a.adapter.StopScan(); err != nil {
			a.logger.Warn("stop scan failed", "error", err)
		}
		<-scanErr
	}

	mu.Lock()
	defer mu.Unlock()
	found := make([]Advertisement, 0, len(seen))
	for _, adv := range seen {
		found = append(found, adv)
	}
	return found, nil
}

// Connect opens a connection, resolves the command and notify
// characteristics, and subscribes to notifications.
func (a *Adapter) Connect(ctx context.Context, address string) (Connection, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)
	device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	conn := &deviceConn{
		device:        device,
		logger:        a.logger.With("device", address),
		notifications: make(chan []byte, notificationQueueSize),
		disconnected:  make(chan struct{}),
	}
	if err := conn.resolve(a.cmdUUID, a.notifyUUID); err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	a.register(address, conn)
	return conn, nil
}

// register records the live connection for an address. A stale entry left by
// a dial that raced a disconnect is signalled so its session unblocks rather
// than waiting on a link that no longer exists.
func (a *Adapter) register(address string, conn *deviceConn) {
	a.mu.Lock()
	prev := a.conns[address]
	a.conns[address] = conn
	a.mu.Unlock()
	if prev != nil && prev != conn {
		prev.markDisconnected()
	}
}

type deviceConn struct {
	device bluetooth.Device
	logger *slog.Logger
	cmd    bluetooth.DeviceCharacteristic

	notifications chan []byte
	closeOnce     sync.Once
	disconnected  chan struct{}
}

// resolve walks the device's services for the firmware's command and notify
// characteristics and enables notifications.
func (c *deviceConn) resolve(cmdUUID, notifyUUID bluetooth.UUID) error {
	services, err := c.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	var haveCmd, haveNotify bool
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{cmdUUID, notifyUUID})
		if err != nil {
			continue
		}
		for _, ch := range chars {
			switch ch.UUID() {
			case cmdUUID:
				c.cmd = ch
				haveCmd = true
			case notifyUUID:
				ch := ch
				err := ch.EnableNotifications(c.deliver)
				if err != nil {
					return fmt.Errorf("enable notifications: %w", err)
				}
				haveNotify = true
			}
		}
		if haveCmd && haveNotify {
			return nil
		}
	}
	return fmt.Errorf("device does not expose the log transfer characteristics")
}

// deliver runs on the bluetooth stack's event goroutine and may fire after
// the link has dropped. The notification channel is never closed, so a late
// packet is discarded here instead of crashing the producer.
func (c *deviceConn) deliver(buf []byte) {
	select {
	case <-c.disconnected:
		return
	default:
	}
	packet := make([]byte, len(buf))
	copy(packet, buf)
	select {
	case c.notifications <- packet:
	default:
		c.logger.Warn("notification queue full, dropping packet", "bytes", len(packet))
	}
}

func (c *deviceConn) Send(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.disconnected:
		return ErrDisconnected
	default:
	}
	if _, err := c.cmd.WriteWithoutResponse(cmd); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

func (c *deviceConn) Notifications() <-chan []byte {
	return c.notifications
}

func (c *deviceConn) Disconnected() <-chan struct{} {
	return c.disconnected
}

// markDisconnected closes only the disconnect signal. The notifications
// channel stays open because the stack's callback may still be delivering;
// the session exits through Disconnected() instead of a channel close.
func (c *deviceConn) markDisconnected() {
	c.closeOnce.Do(func() {
		close(c.disconnected)
	})
}

func (c *deviceConn) Close() error {
	err := c.device.Disconnect()
	c.markDisconnected()
	return err
}
