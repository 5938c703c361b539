package transport

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"physsync/backend/internal/logging"
)

// WorldServiceName is the health-checked service name of a running world.
const WorldServiceName = "physsync.World"

// GRPCServer exposes the standard gRPC health service for the world.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewGRPCServer builds a server with the given unary interceptors. The world
// service reports NOT_SERVING until SetServing(true).
func NewGRPCServer(log logging.Logger, interceptors ...grpc.UnaryServerInterceptor) *GRPCServer {
	if log == nil {
		log = logging.Noop()
	}
	s := &GRPCServer{
		server: grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		health: health.NewServer(),
		log:    log.With(logging.Component("grpc")),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(WorldServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing updates the world service status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(WorldServiceName, status)
	s.log.Debug(context.Background(), "health status changed", logging.String("status", status.String()))
}

// Serve accepts connections on lis until Stop. It returns nil after a
// graceful stop.
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving gRPC", logging.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
