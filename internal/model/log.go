package model

import "time"

// FetchedLog is one complete log pulled off a device, ready for decoding.
type FetchedLog struct {
	DeviceSuffix string
	DeviceName   string
	LogID        uint32
	Data         []byte
	FetchedAt    time.Time
}
