package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// GrpcServiceName is the fully qualified classification service.
	GrpcServiceName = "resolveja.classifier.v1.Classifier"
	// GrpcClassifyMethod takes and returns a google.protobuf.StringValue.
	GrpcClassifyMethod = "/" + GrpcServiceName + "/Classify"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcConfig holds configuration for the gRPC classifier client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration.
func DefaultGrpcConfig() GrpcConfig {
	return GrpcConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Grpc classifies descriptions through a remote classification service.
type Grpc struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	catalog *Catalog
	logger  *slog.Logger
}

// NewGrpc dials the classification service and waits until the connection
// is ready so that a bad endpoint fails at startup.
func NewGrpc(cfg GrpcConfig, catalog *Catalog, logger *slog.Logger) (*Grpc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	def := DefaultGrpcConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifier client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("classifier at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to classification service", "address", cfg.Address)

	return &Grpc{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    cfg.Address,
		catalog: catalog,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Classify implements Classifier.
func (g *Grpc) Classify(ctx context.Context, description string) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := g.conn.Invoke(ctx, GrpcClassifyMethod, wrapperspb.String(description), out); err != nil {
		return "", fmt.Errorf("classify request failed: %w", err)
	}

	department, err := Normalize(g.catalog, out.GetValue())
	if err != nil {
		return "", err
	}
	g.logger.Debug("Complaint classified", "backend", "grpc", "address", g.addr, "department", department)
	return department, nil
}

// Health asks the remote health service whether the classifier is serving.
func (g *Grpc) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GrpcServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("classifier not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (g *Grpc) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
