// Package grpcserver runs the gRPC health endpoint of the OpenGovFood service.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "opengovfood.v1.API"

// DefaultProbeInterval is how often the database is pinged.
const DefaultProbeInterval = 10 * time.Second

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health. Its status follows a periodic database ping.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	log      *zap.Logger
	interval time.Duration
}

// Option configures Server.
type Option func(*Server)

// WithProbeInterval overrides DefaultProbeInterval.
func WithProbeInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithReflection registers the reflection service (dev only).
func WithReflection() Option {
	return func(s *Server) { reflection.Register(s.grpc) }
}

// New builds the gRPC server with logging and recovery interceptors. The status starts as
// NOT_SERVING until the first successful probe.
func New(db Pinger, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
			grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
		),
		health:   health.NewServer(),
		db:       db,
		log:      log,
		interval: DefaultProbeInterval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Probe pings the database once and updates the serving status.
func (s *Server) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.Ping(pctx); err != nil {
		s.log.Warn("health probe failed", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Serve probes immediately, keeps probing every interval and serves on lis until ctx is done,
// then stops gracefully (forcefully after 5s).
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)
	go func() {
		tk := time.NewTicker(s.interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				s.Probe(ctx)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.grpc.Stop()
	}
	return nil
}
