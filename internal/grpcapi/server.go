// Package grpcapi exposes the session core over gRPC: the standard health
// service, reflection and a token introspection service for internal callers.
package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Requirement is the permission check applied to one full method name.
type Requirement struct {
	Mode  auth.Mode
	Codes []string
}

// Options configures the server. Methods maps full method names
// ("/pkg.Service/Method") to permission requirements; methods absent from the
// map only require an unrestricted principal.
type Options struct {
	Logger     *zap.Logger
	Reflection bool
	Methods    map[string]Requirement
}

// Server wraps a grpc.Server with health reporting and auth interceptors.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	svc     *auth.Service
	db      Pinger
	methods map[string]Requirement
	log     *zap.Logger
}

func New(svc *auth.Service, db Pinger, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		health:  health.NewServer(),
		svc:     svc,
		db:      db,
		methods: make(map[string]Requirement, len(opts.Methods)),
		log:     obs.Component(log, "grpc"),
	}
	for m, r := range opts.Methods {
		s.methods[m] = Requirement{Mode: r.Mode, Codes: append([]string(nil), r.Codes...)}
	}

	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingUnary, s.recoveryUnary, s.authUnary),
		grpc.ChainStreamInterceptor(s.loggingStream, s.recoveryStream, s.authStream),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&introspectionDesc, &introspection{svc: svc})
	if opts.Reflection {
		reflection.Register(s.grpc)
	}
	s.health.SetServingStatus(IntrospectionService, healthpb.HealthCheckResponse_SERVING)
	return s
}

// RegisterService adds another service to the server. It must be called
// before Serve.
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl any) {
	s.grpc.RegisterService(desc, impl)
}

// Serve blocks until the listener fails or the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// CheckReadiness pings storage and publishes the result through the health
// service.
func (s *Server) CheckReadiness(ctx context.Context) error {
	var err error
	if s.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = s.db.Ping(ctx)
		cancel()
	}
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("readiness check failed", zap.Error(err))
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(IntrospectionService, st)
	obs.SetReady(err == nil)
	return err
}

// WatchReadiness runs CheckReadiness every interval until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	_ = s.CheckReadiness(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.CheckReadiness(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and drains in-flight calls until
// ctx expires, then forces the stop.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
