package daemon

import (
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/flashd/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service name reported on the control
// socket, alongside the server-wide "" entry.
const ServiceName = "flashd"

// Control serves gRPC health checks on the instance's Unix socket.
type Control struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewControl binds the control socket. Both health entries start NOT_SERVING.
func NewControl(socketPath string, logger *zap.Logger) (*Control, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Control{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Apply maps the daemon state onto both health entries. Only Serving
// reports SERVING.
func (c *Control) Apply(st status.State) {
	hs := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Serving {
		hs = healthpb.HealthCheckResponse_SERVING
	}
	c.health.SetServingStatus("", hs)
	c.health.SetServingStatus(ServiceName, hs)
}

// Start serves gRPC requests. Blocks until stopped.
func (c *Control) Start() error {
	c.logger.Info("control socket listening", zap.String("socket", c.socketPath))
	return c.grpcServer.Serve(c.listener)
}

// Stop marks the daemon as going away, then shuts down and removes the socket.
func (c *Control) Stop() {
	c.logger.Info("control socket stopping")
	c.health.Shutdown()
	c.grpcServer.GracefulStop()
	_ = c.listener.Close()
	_ = os.Remove(c.socketPath)
}
