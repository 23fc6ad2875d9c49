package sbem

import (
	"encoding/binary"
	"math"
)

// Data chunk payload lengths the sensor firmware emits. The container format
// carries no per-chunk type tag, so dispatch is by exact payload length.
const (
	motionPayloadLen    = 52
	ecgPayloadLen       = 68
	heartRatePayloadLen = 6

	// Chunks shorter than this carry nothing decodable and are dropped.
	minFallbackLen = 4
)

type RecordKind string

const (
	KindMotion6   RecordKind = "imu6"
	KindECG       RecordKind = "ecg"
	KindHeartRate RecordKind = "hr"
	KindFallback  RecordKind = "fallback"
)

// Record is one decoded telemetry sample from a data chunk.
type Record interface {
	Kind() RecordKind
}

type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Motion6 is a 52-byte IMU packet: a timestamp followed by two accelerometer
// samples and two gyroscope samples of three float32 components each.
type Motion6 struct {
	Timestamp uint32  `json:"timestamp"`
	Accel     [2]Vec3 `json:"accel"`
	Gyro      [2]Vec3 `json:"gyro"`
}

func (Motion6) Kind() RecordKind { return KindMotion6 }

// ECG is a 68-byte packet: a timestamp followed by 16 float32 millivolt
// samples.
type ECG struct {
	Timestamp uint32      `json:"timestamp"`
	Samples   [16]float32 `json:"samples"`
}

func (ECG) Kind() RecordKind { return KindECG }

// HeartRate is a 6-byte packet: float32 average rate and a uint16 RR
// interval.
type HeartRate struct {
	Average    float32 `json:"average"`
	RRInterval uint16  `json:"rr"`
}

func (HeartRate) Kind() RecordKind { return KindHeartRate }

// Fallback captures a data chunk of unrecognized length: the chunk id and the
// first four payload bytes as a little-endian uint32.
type Fallback struct {
	ChunkID uint32 `json:"chunk_id"`
	Value   uint32 `json:"value"`
}

func (Fallback) Kind() RecordKind { return KindFallback }

// DecodeRecord maps a data chunk payload to a telemetry record by its exact
// byte length. The second return value is false for payloads under four
// bytes, which yield no record.
func DecodeRecord(chunkID uint16, payload []byte) (Record, bool) {
	switch len(payload) {
	case motionPayloadLen:
		return decodeMotion6(payload), true
	case ecgPayloadLen:
		return decodeECG(payload), true
	case heartRatePayloadLen:
		return decodeHeartRate(payload), true
	default:
		if len(payload) < minFallbackLen {
			return nil, false
		}
		return Fallback{
			ChunkID: uint32(chunkID),
			Value:   binary.LittleEndian.Uint32(payload[:4]),
		}, true
	}
}

func decodeMotion6(payload []byte) Motion6 {
	m := Motion6{Timestamp: binary.LittleEndian.Uint32(payload[:4])}
	off := 4
	for i := range m.Accel {
		m.Accel[i] = decodeVec3(payload[off:])
		off += 12
	}
	for i := range m.Gyro {
		m.Gyro[i] = decodeVec3(payload[off:])
		off += 12
	}
	return m
}

func decodeECG(payload []byte) ECG {
	e := ECG{Timestamp: binary.LittleEndian.Uint32(payload[:4])}
	off := 4
	for i := range e.Samples {
		e.Samples[i] = float32At(payload, off)
		off += 4
	}
	return e
}

func decodeHeartRate(payload []byte) HeartRate {
	return HeartRate{
		Average:    float32At(payload, 0),
		RRInterval: binary.LittleEndian.Uint16(payload[4:6]),
	}
}

func decodeVec3(b []byte) Vec3 {
	return Vec3{
		X: float32At(b, 0),
		Y: float32At(b, 4),
		Z: float32At(b, 8),
	}
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
}
