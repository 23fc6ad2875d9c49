package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StreamMode string

type SinkMode string

const (
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeNone      StreamMode = "none"

	SinkModeCSV    SinkMode = "csv"
	SinkModeSQLite SinkMode = "sqlite"

	HardcodedVersion string = "V0.1"
)

type Config struct {
	Hostname        string
	DeviceSuffixes  []string
	ProbeListenAddr string

	RawDir             string
	OutputDir          string
	SinkMode           SinkMode
	SQLitePath         string
	ParticipantMapPath string
	DayNumber          int

	Workers           int
	Transactions      int
	ConvertWorkers    int
	MaxDeviceAttempts int
	MaxIdleRounds     int
	SelectionBackoff  time.Duration
	ScanWindow        time.Duration
	ScanInterval      time.Duration

	ReceiveTimeout       time.Duration
	MaxConsecutiveMisses int
	InterLogDelay        time.Duration
	ResetGrace           time.Duration
	StopLoggingFirst     bool

	StreamMode         StreamMode
	BackendGRPCAddr    string
	BackendWSURL       string
	BackendToken       string
	StreamWriteTimeout time.Duration
	StreamPingInterval time.Duration

	AgentVersion  string
	TLSEnabled    bool
	TLSSkipVerify bool
	TLSCAPath     string
	TLSCertPath   string
	TLSKeyPath    string

	LogJSON         bool
	LogLevel        string
	ShutdownTimeout time.Duration
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		Hostname:        hostname,
		DeviceSuffixes:  envList("MOVESENSE_DEVICE_SUFFIXES", nil),
		ProbeListenAddr: env("MOVESENSE_AGENT_PROBE_ADDR", "0.0.0.0:7443"),

		RawDir:             env("MOVESENSE_RAW_DIR", "raw"),
		OutputDir:          env("MOVESENSE_OUTPUT_DIR", "converted"),
		SinkMode:           SinkMode(strings.ToLower(env("MOVESENSE_SINK_MODE", string(SinkModeCSV)))),
		SQLitePath:         env("MOVESENSE_SQLITE_PATH", "converted/extraction.db"),
		ParticipantMapPath: env("MOVESENSE_PARTICIPANT_MAP", ""),
		DayNumber:          envInt("MOVESENSE_DAY_NUMBER", 1),

		Workers:           envInt("MOVESENSE_WORKERS", 4),
		Transactions:      envInt("MOVESENSE_TRANSACTIONS", 1),
		ConvertWorkers:    envInt("MOVESENSE_CONVERT_WORKERS", 4),
		MaxDeviceAttempts: envInt("MOVESENSE_MAX_DEVICE_ATTEMPTS", 3),
		MaxIdleRounds:     envInt("MOVESENSE_MAX_IDLE_ROUNDS", 10),
		SelectionBackoff:  envDuration("MOVESENSE_SELECTION_BACKOFF", 1*time.Second),
		ScanWindow:        envDuration("MOVESENSE_SCAN_WINDOW", 5*time.Second),
		ScanInterval:      envDuration("MOVESENSE_SCAN_INTERVAL", 10*time.Second),

		ReceiveTimeout:       envDuration("MOVESENSE_RECEIVE_TIMEOUT", 10*time.Second),
		MaxConsecutiveMisses: envInt("MOVESENSE_MAX_CONSECUTIVE_MISSES", 1),
		InterLogDelay:        envDuration("MOVESENSE_INTER_LOG_DELAY", 200*time.Millisecond),
		ResetGrace:           envDuration("MOVESENSE_RESET_GRACE", 2*time.Second),
		StopLoggingFirst:     envBool("MOVESENSE_STOP_LOGGING_FIRST", false),

		StreamMode:         StreamMode(strings.ToLower(env("MOVESENSE_STREAM_MODE", string(StreamModeNone)))),
		BackendGRPCAddr:    env("MOVESENSE_BACKEND_GRPC_ADDR", "127.0.0.1:3001"),
		BackendWSURL:       env("MOVESENSE_BACKEND_WS_URL", "ws://127.0.0.1:3001/ws/reports"),
		BackendToken:       env("MOVESENSE_BACKEND_TOKEN", ""),
		StreamWriteTimeout: envDuration("MOVESENSE_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamPingInterval: envDuration("MOVESENSE_STREAM_PING_INTERVAL", 10*time.Second),

		AgentVersion:  HardcodedVersion,
		TLSEnabled:    envBool("MOVESENSE_TLS_ENABLED", false),
		TLSSkipVerify: envBool("MOVESENSE_TLS_SKIP_VERIFY", false),
		TLSCAPath:     env("MOVESENSE_TLS_CA_PATH", ""),
		TLSCertPath:   env("MOVESENSE_TLS_CERT_PATH", ""),
		TLSKeyPath:    env("MOVESENSE_TLS_KEY_PATH", ""),

		LogJSON:         envBool("MOVESENSE_LOG_JSON", true),
		LogLevel:        strings.ToLower(env("MOVESENSE_LOG_LEVEL", "info")),
		ShutdownTimeout: envDuration("MOVESENSE_SHUTDOWN_TIMEOUT", 20*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.DeviceSuffixes) == 0 {
		return errors.New("MOVESENSE_DEVICE_SUFFIXES is required")
	}
	for _, s := range c.DeviceSuffixes {
		if strings.TrimSpace(s) == "" {
			return errors.New("MOVESENSE_DEVICE_SUFFIXES must not contain empty entries")
		}
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if strings.TrimSpace(c.ProbeListenAddr) == "" {
		return errors.New("MOVESENSE_AGENT_PROBE_ADDR is required")
	}
	if c.Workers <= 0 {
		return errors.New("MOVESENSE_WORKERS must be > 0")
	}
	if c.Transactions <= 0 || c.Transactions > c.Workers {
		return errors.New("MOVESENSE_TRANSACTIONS must be in [1, MOVESENSE_WORKERS]")
	}
	if c.ConvertWorkers <= 0 {
		return errors.New("MOVESENSE_CONVERT_WORKERS must be > 0")
	}
	if c.MaxDeviceAttempts <= 0 {
		return errors.New("MOVESENSE_MAX_DEVICE_ATTEMPTS must be > 0")
	}
	if c.ReceiveTimeout <= 0 {
		return errors.New("MOVESENSE_RECEIVE_TIMEOUT must be > 0")
	}
	if c.MaxConsecutiveMisses <= 0 {
		return errors.New("MOVESENSE_MAX_CONSECUTIVE_MISSES must be > 0")
	}
	if c.ScanWindow <= 0 || c.ScanInterval <= 0 {
		return errors.New("scan window and interval must be > 0")
	}
	if c.DayNumber <= 0 {
		return errors.New("MOVESENSE_DAY_NUMBER must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("MOVESENSE_SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.SinkMode {
	case SinkModeCSV:
		if c.OutputDir == "" {
			return errors.New("MOVESENSE_OUTPUT_DIR is required for csv mode")
		}
	case SinkModeSQLite:
		if c.SQLitePath == "" {
			return errors.New("MOVESENSE_SQLITE_PATH is required for sqlite mode")
		}
	default:
		return fmt.Errorf("unsupported sink mode %q", c.SinkMode)
	}
	switch c.StreamMode {
	case StreamModeGRPC:
		if c.BackendGRPCAddr == "" {
			return errors.New("MOVESENSE_BACKEND_GRPC_ADDR is required for grpc mode")
		}
	case StreamModeWebSocket:
		if c.BackendWSURL == "" {
			return errors.New("MOVESENSE_BACKEND_WS_URL is required for websocket mode")
		}
	case StreamModeNone:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
