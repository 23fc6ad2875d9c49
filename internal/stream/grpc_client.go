package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"movesense-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient streams report frames over client-side streaming RPCs using a
// JSON codec, so the backend needs no generated protobuf types.
type GRPCClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	addr         string
	tlsConfig    *tls.Config
	token        string
	runMethod    string
	deviceMethod string
	conn         *grpc.ClientConn
	runStream    grpc.ClientStream
	deviceStream grpc.ClientStream
	dialTimeout  time.Duration
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, runMethod, deviceMethod string, logger *slog.Logger) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	return &GRPCClient{
		logger:       logger,
		addr:         addr,
		tlsConfig:    tlsCfg,
		token:        token,
		runMethod:    runMethod,
		deviceMethod: deviceMethod,
		dialTimeout:  8 * time.Second,
	}
}

func (c *GRPCClient) SendRunReport(ctx context.Context, report model.RunReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.runStream == nil {
		s, err := c.openStreamLocked(ctx, c.runMethod)
		if err != nil {
			return err
		}
		c.runStream = s
	}
	frame := NewRunFrame(report)
	if err := c.runStream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc run report send failed, reopening stream", "error", err)
		c.runStream = nil
		s, err2 := c.openStreamLocked(ctx, c.runMethod)
		if err2 != nil {
			return fmt.Errorf("reopen run stream: %w", err2)
		}
		c.runStream = s
		if err2 := c.runStream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send run frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) SendDeviceReport(ctx context.Context, runID string, report model.DeviceReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.deviceStream == nil {
		s, err := c.openStreamLocked(ctx, c.deviceMethod)
		if err != nil {
			return err
		}
		c.deviceStream = s
	}
	frame := NewDeviceFrame(runID, report)
	if err := c.deviceStream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc device report send failed, reopening stream", "error", err)
		c.deviceStream = nil
		s, err2 := c.openStreamLocked(ctx, c.deviceMethod)
		if err2 != nil {
			return fmt.Errorf("reopen device stream: %w", err2)
		}
		c.deviceStream = s
		if err2 := c.deviceStream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send device frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runStream != nil {
		_ = c.runStream.CloseSend()
		c.runStream = nil
	}
	if c.deviceStream != nil {
		_ = c.deviceStream.CloseSend()
		c.deviceStream = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	_ = ctx
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		dialCtx, cancel = context.WithDeadline(context.Background(), dl)
		defer cancel()
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc report stream connected", "addr", c.addr)
	return nil
}

func (c *GRPCClient) openStreamLocked(ctx context.Context, method string) (grpc.ClientStream, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("grpc conn is nil")
	}
	streamCtx := c.decorateContext(ctx)
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", method, err)
	}
	return s, nil
}

func (c *GRPCClient) decorateContext(ctx context.Context) context.Context {
	out := context.Background()
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		out, cancel = context.WithDeadline(out, dl)
		_ = cancel
	}
	if c.token != "" {
		out = metadata.AppendToOutgoingContext(out, "authorization", "Bearer "+c.token)
	}
	return out
}
