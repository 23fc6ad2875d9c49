package ble

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFetchLogCommand(t *testing.T) {
	tests := []struct {
		name  string
		logID uint32
		want  []byte
	}{
		{
			name:  "log id one",
			logID: 1,
			want:  []byte{3, 101, 1, 0, 0, 0},
		},
		{
			name:  "multi-byte log id little-endian",
			logID: 0x01020304,
			want:  []byte{3, 101, 0x04, 0x03, 0x02, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FetchLogCommand(tt.logID); !bytes.Equal(got, tt.want) {
				t.Errorf("FetchLogCommand(%d) = %v, want %v", tt.logID, got, tt.want)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	if got := Command(OpHello); !bytes.Equal(got, []byte{0, 101}) {
		t.Errorf("Command(OpHello) = %v, want [0 101]", got)
	}
	if got := Command(OpStopLogging); !bytes.Equal(got, []byte{6, 101}) {
		t.Errorf("Command(OpStopLogging) = %v, want [6 101]", got)
	}
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    Notification
		wantEOF bool
		wantErr bool
	}{
		{
			name: "data packet with payload",
			raw:  []byte{2, 101, 0x10, 0x00, 0x00, 0x00, 0xAA, 0xBB},
			want: Notification{Type: 2, Ref: 101, Offset: 16, Payload: []byte{0xAA, 0xBB}},
		},
		{
			name:    "empty payload marks end of log",
			raw:     []byte{2, 101, 0x00, 0x02, 0x00, 0x00},
			want:    Notification{Type: 2, Ref: 101, Offset: 512, Payload: []byte{}},
			wantEOF: true,
		},
		{
			name:    "shorter than header rejected",
			raw:     []byte{2, 101, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotification(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNotification() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("notification mismatch (-want +got):\n%s", diff)
			}
			if got.EOF() != tt.wantEOF {
				t.Errorf("EOF() = %v, want %v", got.EOF(), tt.wantEOF)
			}
		})
	}
}
