package ble

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the first byte of every command written to the sensor.
type Opcode byte

const (
	OpHello       Opcode = 0
	OpSubscribe   Opcode = 1
	OpUnsubscribe Opcode = 2
	OpFetchLog    Opcode = 3
	OpInitOffline Opcode = 4
	OpGetLogCount Opcode = 5
	OpStopLogging Opcode = 6
)

// ClientReference tags commands and their notifications. The firmware echoes
// it back in every notification's second byte.
const ClientReference = 101

// GATT characteristics from the sensor firmware.
const (
	CommandCharacteristicUUID = "34800001-7185-4d5d-b431-630e7050e8f0"
	NotifyCharacteristicUUID  = "34800002-7185-4d5d-b431-630e7050e8f0"
)

// Notification payload types.
const (
	NotifyData      = 2
	NotifyDataPart2 = 3
)

const notificationHeaderLen = 6

// FetchLogCommand builds the fixed 6-byte fetch command: opcode, client
// reference, then the log id as little-endian uint32.
func FetchLogCommand(logID uint32) []byte {
	cmd := make([]byte, 6)
	cmd[0] = byte(OpFetchLog)
	cmd[1] = ClientReference
	binary.LittleEndian.PutUint32(cmd[2:], logID)
	return cmd
}

// Command builds a bare 2-byte command with no payload.
func Command(op Opcode) []byte {
	return []byte{byte(op), ClientReference}
}

// Notification is one parsed inbound packet. An empty Payload is the
// end-of-log marker.
type Notification struct {
	Type    byte
	Ref     byte
	Offset  uint32
	Payload []byte
}

// EOF reports whether the notification marks the end of the current log.
func (n Notification) EOF() bool {
	return len(n.Payload) == 0
}

// ParseNotification splits a raw notification into its fixed header and
// payload. Layout: type, client reference, little-endian uint32 offset, then
// payload bytes.
func ParseNotification(raw []byte) (Notification, error) {
	if len(raw) < notificationHeaderLen {
		return Notification{}, fmt.Errorf("ble: notification of %d bytes is shorter than the %d-byte header", len(raw), notificationHeaderLen)
	}
	return Notification{
		Type:    raw[0],
		Ref:     raw[1],
		Offset:  binary.LittleEndian.Uint32(raw[2:6]),
		Payload: raw[notificationHeaderLen:],
	}, nil
}
