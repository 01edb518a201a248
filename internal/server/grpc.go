package server

import (
	"context"
	"net"
	"strconv"
	"strings"

	"teamflow/internal/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the gRPC health service name reported for the engine
const ServiceName = "teamflow.Engine"

// GRPCServer serves the standard gRPC health protocol so orchestrators can
// probe the service without HTTP
type GRPCServer struct {
	apiKey string
	port   int
	server *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a gRPC health server
func NewGRPCServer(port int, apiKey string) *GRPCServer {
	return &GRPCServer{
		apiKey: apiKey,
		port:   port,
		health: health.NewServer(),
	}
}

// Start starts the gRPC server
func (s *GRPCServer) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return err
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	opts := []grpc.ServerOption{}
	if s.apiKey != "" {
		opts = append(opts, grpc.UnaryInterceptor(s.authUnaryInterceptor))
		opts = append(opts, grpc.StreamInterceptor(s.authStreamInterceptor))
	}

	s.server = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.SetServing(true)

	log.Info("Starting gRPC health server",
		zap.Int("port", s.port),
		zap.String("address", listener.Addr().String()))

	go func() {
		if err := s.server.Serve(listener); err != nil {
			log.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// SetServing flips the reported status of the engine service and the server
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop gracefully stops the gRPC server
func (s *GRPCServer) Stop(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Stopping gRPC health server")

	s.health.Shutdown()
	if s.server != nil {
		s.server.GracefulStop()
	}
	return nil
}

// Port returns the port the server is listening on
func (s *GRPCServer) Port() int {
	return s.port
}

func (s *GRPCServer) authUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.authorize(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *GRPCServer) authStreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authorize(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	return handler(srv, ss)
}

// authorize checks the x-api-key metadata. Health probes are always allowed.
func (s *GRPCServer) authorize(ctx context.Context, method string) error {
	if s.apiKey == "" || strings.HasPrefix(method, "/grpc.health.v1.Health/") {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing metadata")
	}

	keys := md.Get("x-api-key")
	if len(keys) == 0 || keys[0] != s.apiKey {
		return status.Errorf(codes.Unauthenticated, "invalid API key")
	}
	return nil
}
