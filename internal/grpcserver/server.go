package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"nexthire/backend/pkg/health"
	"nexthire/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ChatService is the name the chat backend reports its health under
const ChatService = "nexthire.chat.v1.Chat"

// Server exposes the standard gRPC health service so orchestrators and peers can check
// the chat backend without going through HTTP
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// New creates a gRPC server with the health and reflection services registered.
// Both the overall status and ChatService start as NOT_SERVING.
func New(log *logger.Logger) *Server {
	s := &Server{
		health: grpchealth.NewServer(),
		log:    log,
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))

	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.SetServing(false)
	return s
}

// SetServing flips the reported status of the chat service
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ChatService, st)
}

// Follow mirrors the HTTP health checker into the gRPC health service until ctx is done
func (s *Server) Follow(ctx context.Context, checker *health.Checker, period time.Duration) {
	if period <= 0 {
		period = 10 * time.Second
	}
	s.SetServing(checker.IsSystemHealthy())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SetServing(checker.IsSystemHealthy())
			}
		}
	}()
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the given TCP port and serves
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("gRPC call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}
