package sbem

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func putFloat32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func motionPayload(timestamp uint32, floats [12]float32) []byte {
	b := make([]byte, 52)
	binary.LittleEndian.PutUint32(b, timestamp)
	for i, f := range floats {
		putFloat32(b, 4+i*4, f)
	}
	return b
}

func ecgPayload(timestamp uint32, samples [16]float32) []byte {
	b := make([]byte, 68)
	binary.LittleEndian.PutUint32(b, timestamp)
	for i, s := range samples {
		putFloat32(b, 4+i*4, s)
	}
	return b
}

func TestDecodeRecordMotion6(t *testing.T) {
	payload := motionPayload(1000, [12]float32{
		0.5, -1.25, 9.81, 0.5, -1.25, 9.81,
		0.01, 0.02, 0.03, 0.04, 0.05, 0.06,
	})
	rec, ok := DecodeRecord(1, payload)
	if !ok {
		t.Fatal("DecodeRecord() dropped a 52-byte payload")
	}
	want := Motion6{
		Timestamp: 1000,
		Accel: [2]Vec3{
			{X: 0.5, Y: -1.25, Z: 9.81},
			{X: 0.5, Y: -1.25, Z: 9.81},
		},
		Gyro: [2]Vec3{
			{X: 0.01, Y: 0.02, Z: 0.03},
			{X: 0.04, Y: 0.05, Z: 0.06},
		},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("Motion6 mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecordECG(t *testing.T) {
	var samples [16]float32
	for i := range samples {
		samples[i] = float32(i) * 0.125
	}
	rec, ok := DecodeRecord(2, ecgPayload(7, samples))
	if !ok {
		t.Fatal("DecodeRecord() dropped a 68-byte payload")
	}
	want := ECG{Timestamp: 7, Samples: samples}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("ECG mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecordHeartRate(t *testing.T) {
	b := make([]byte, 6)
	putFloat32(b, 0, 61.5)
	binary.LittleEndian.PutUint16(b[4:], 976)
	rec, ok := DecodeRecord(3, b)
	if !ok {
		t.Fatal("DecodeRecord() dropped a 6-byte payload")
	}
	want := HeartRate{Average: 61.5, RRInterval: 976}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("HeartRate mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecordFallbackAndDrop(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    Record
		wantOK  bool
	}{
		{
			name:    "unrecognized length keeps first four bytes",
			payload: []byte{0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE},
			want:    Fallback{ChunkID: 9, Value: 1},
			wantOK:  true,
		},
		{
			name:    "exactly four bytes",
			payload: []byte{0xFF, 0xFF, 0xFF, 0xFF},
			want:    Fallback{ChunkID: 9, Value: math.MaxUint32},
			wantOK:  true,
		},
		{
			name:    "three bytes dropped",
			payload: []byte{1, 2, 3},
			wantOK:  false,
		},
		{
			name:    "empty payload dropped",
			payload: nil,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := DecodeRecord(9, tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("DecodeRecord() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, rec); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecordKinds(t *testing.T) {
	tests := []struct {
		rec  Record
		want RecordKind
	}{
		{Motion6{}, KindMotion6},
		{ECG{}, KindECG},
		{HeartRate{}, KindHeartRate},
		{Fallback{}, KindFallback},
	}
	for _, tt := range tests {
		if got := tt.rec.Kind(); got != tt.want {
			t.Errorf("Kind() = %q, want %q", got, tt.want)
		}
	}
}
