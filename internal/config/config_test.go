package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MOVESENSE_DEVICE_SUFFIXES", "174630, 058832")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff([]string{"174630", "058832"}, cfg.DeviceSuffixes); diff != "" {
		t.Errorf("DeviceSuffixes mismatch (-want +got):\n%s", diff)
	}
	if cfg.Workers != 4 || cfg.Transactions != 1 {
		t.Errorf("Workers = %d, Transactions = %d, want 4 and 1", cfg.Workers, cfg.Transactions)
	}
	if cfg.ReceiveTimeout != 10*time.Second {
		t.Errorf("ReceiveTimeout = %v, want 10s", cfg.ReceiveTimeout)
	}
	if cfg.SinkMode != SinkModeCSV {
		t.Errorf("SinkMode = %q, want csv", cfg.SinkMode)
	}
	if cfg.StreamMode != StreamModeNone {
		t.Errorf("StreamMode = %q, want none", cfg.StreamMode)
	}
}

func TestLoadRequiresSuffixes(t *testing.T) {
	t.Setenv("MOVESENSE_DEVICE_SUFFIXES", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with no device suffixes succeeded, want error")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DeviceSuffixes:       []string{"174630"},
			ProbeListenAddr:      "0.0.0.0:7443",
			AgentVersion:         HardcodedVersion,
			OutputDir:            "converted",
			SinkMode:             SinkModeCSV,
			StreamMode:           StreamModeNone,
			Workers:              4,
			Transactions:         1,
			ConvertWorkers:       2,
			MaxDeviceAttempts:    3,
			ReceiveTimeout:       10 * time.Second,
			MaxConsecutiveMisses: 1,
			ScanWindow:           5 * time.Second,
			ScanInterval:         10 * time.Second,
			DayNumber:            1,
			ShutdownTimeout:      20 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "transactions above workers", mutate: func(c *Config) { c.Transactions = 5 }, wantErr: true},
		{name: "zero receive timeout", mutate: func(c *Config) { c.ReceiveTimeout = 0 }, wantErr: true},
		{name: "unknown sink mode", mutate: func(c *Config) { c.SinkMode = "parquet" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.SinkMode = SinkModeSQLite; c.SQLitePath = "" }, wantErr: true},
		{name: "grpc without addr", mutate: func(c *Config) { c.StreamMode = StreamModeGRPC }, wantErr: true},
		{name: "grpc with addr", mutate: func(c *Config) { c.StreamMode = StreamModeGRPC; c.BackendGRPCAddr = "127.0.0.1:3001" }},
		{name: "unknown stream mode", mutate: func(c *Config) { c.StreamMode = "mqtt" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadParticipants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "participants.yaml")
	content := `participants:
  "174630": P012
  "058832": " P013 "
  "": ignored
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	got, err := LoadParticipants(path)
	if err != nil {
		t.Fatalf("LoadParticipants() error = %v", err)
	}
	want := map[string]string{"174630": "P012", "058832": "P013"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadParticipantsEmptyPath(t *testing.T) {
	got, err := LoadParticipants("")
	if err != nil {
		t.Fatalf("LoadParticipants(\"\") error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty map", got)
	}
}
