package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewServer builds the admin gRPC server with logging and recovery
// interceptors and the health service registered. Reflection is enabled in dev.
func NewServer(log *zap.Logger, h *Health, dev bool, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
	))
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.Server())
	if dev {
		reflection.Register(s)
	}
	return s
}
