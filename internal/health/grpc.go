package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves grpc.health.v1 for orchestrators, refreshed from a Monitor.
type GRPCServer struct {
	monitor  *Monitor
	addr     string
	interval time.Duration
	clock    clockwork.Clock
	srv      *grpc.Server
	hs       *grpchealth.Server
	log      *slog.Logger
}

// NewGRPCServer creates a health server on addr.
func NewGRPCServer(monitor *Monitor, addr string, interval time.Duration, clock clockwork.Clock) *GRPCServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		monitor:  monitor,
		addr:     addr,
		interval: interval,
		clock:    clock,
		srv:      srv,
		hs:       hs,
		log:      slog.Default().With("component", "grpc-health"),
	}
}

// Start listens on the configured address and blocks until Stop.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve refreshes the serving status every interval while serving on lis.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)
	go s.refreshLoop(ctx)

	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Refresh recomputes the serving status once.
func (s *GRPCServer) Refresh(ctx context.Context) {
	report := s.monitor.CheckHealth(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if report.SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus("", status)
}

// Stop drains the server, forcing it closed if ctx ends first.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.srv.Stop()
		return ctx.Err()
	}
}

func (s *GRPCServer) refreshLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Refresh(ctx)
		}
	}
}
