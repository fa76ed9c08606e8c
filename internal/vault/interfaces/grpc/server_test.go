package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_Refresh(t *testing.T) {
	var probeErr error
	s := NewServer(func(context.Context) error { return probeErr }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ServiceName))

	probeErr = errors.New("price unavailable")
	s.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))

	probeErr = nil
	s.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ServiceName))
}
