package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/matheus3301/flashd/internal/config"
	"github.com/matheus3301/flashd/internal/dispatch"
	"github.com/matheus3301/flashd/internal/metrics"
	"github.com/matheus3301/flashd/internal/web"
	"go.uber.org/zap"
)

// Server is the HTTP front of the daemon. Application routes run through
// the dispatcher; /metrics bypasses it so scrapes never create sessions.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the HTTP listener.
func NewServer(cfg *config.Config, d *dispatch.Dispatcher, collector *metrics.Collector, logger *zap.Logger) (*Server, error) {
	app := http.NewServeMux()
	web.Routes(app)

	root := http.NewServeMux()
	root.Handle("GET /metrics", collector)
	root.Handle("/", d.Wrap(app))

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           root,
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.Addr()))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests so their sessions are saved.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}
