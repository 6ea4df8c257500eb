// Package health exposes the standard gRPC health checking service so
// orchestrators can probe blinkd.
package health

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/blinkwatch/blinkwatch/internal/auth"
	"github.com/blinkwatch/blinkwatch/internal/logger"
)

// ServiceName is the health service name reported for the monitor.
const ServiceName = "blinkwatch.Monitor"

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    *zap.Logger
}

// Options configures the API key check on incoming calls.
type Options struct {
	AuthMode   string
	AuthHeader string
	AuthKey    string
}

// New builds a Server reporting NOT_SERVING until SetServing(true).
func New(opts Options, log *zap.Logger) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(opts.AuthMode, opts.AuthHeader, opts.AuthKey)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(opts.AuthMode, opts.AuthHeader, opts.AuthKey)),
	)
	h := grpchealth.NewServer()
	healthpb.RegisterHealthServer(g, h)

	s := &Server{grpc: g, health: h, log: logger.OrNop(log)}
	s.SetServing(false)
	return s
}

// SetServing updates the status of both the overall server and ServiceName.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.log.Debug("health: status changed", zap.String("status", st.String()))
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("health: gRPC listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
