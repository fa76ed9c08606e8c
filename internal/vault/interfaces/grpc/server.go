// Package grpc 金库 gRPC 服务：健康检查与反射，状态随金库可用性变化
package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 健康检查中使用的服务名
const ServiceName = "optionvault.v1.VaultService"

// Probe 返回 nil 表示金库可以处理请求
type Probe func(ctx context.Context) error

// Server gRPC 服务
type Server struct {
	srv     *grpc.Server
	health  *health.Server
	probe   Probe
	mu      sync.Mutex
	serving bool
	logger  *slog.Logger
}

// NewServer 创建 gRPC 服务并注册健康检查与反射
func NewServer(probe Probe, logger *slog.Logger, interceptors ...grpc.UnaryServerInterceptor) *Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{
		srv:     srv,
		health:  hs,
		probe:   probe,
		serving: true,
		logger:  logger.With("module", "vault_grpc"),
	}
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Refresh 执行探测并更新健康状态，仅在状态变化时记录日志
func (s *Server) Refresh(ctx context.Context) {
	err := s.probe(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	serving := err == nil
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)

	if serving != s.serving {
		if serving {
			s.logger.InfoContext(ctx, "vault is serving again")
		} else {
			s.logger.WarnContext(ctx, "vault probe failed, marked not serving", "error", err)
		}
	}
	s.serving = serving
}

func (s *Server) Serve(lis net.Listener) error { return s.srv.Serve(lis) }

// GracefulStop 先将状态置为 NOT_SERVING 再停止
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
