// Package health exposes the relay's readiness over the standard gRPC health
// checking protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/chatrelay/internal/config"
)

// ServiceName is the health service name reported for the relay. The empty
// name carries the overall server status.
const ServiceName = "chatrelay.Relay"

// Check probes one dependency. A non-nil error marks the relay NOT_SERVING.
type Check func(ctx context.Context) error

// Server serves grpc.health.v1.Health.
type Server struct {
	cfg    config.HealthConfig
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a health Server that starts out NOT_SERVING.
//
// Precondition: logger must be non-nil.
func NewServer(cfg config.HealthConfig, logger *zap.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		grpc:   gs,
		health: hs,
		quit:   make(chan struct{}),
	}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and relay service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// ListenAndServe binds the configured address and serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}

// Watch runs check every interval, mirroring the result into the serving status,
// until ctx is cancelled or Stop is called.
func (s *Server) Watch(ctx context.Context, interval time.Duration, check Check) {
	probe := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := check(cctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.SetServing(false)
			return
		}
		s.SetServing(true)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Stop marks the server NOT_SERVING and shuts the gRPC server down gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

// Addr returns the bound listener address, or nil before ListenAndServe binds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
