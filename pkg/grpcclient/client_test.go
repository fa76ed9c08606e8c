package grpcclient

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryClientInterceptor_Retry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	intercept := unaryClientInterceptor(ClientConfig{MaxRetries: 2, RetryDelay: 1}, logger)

	calls := 0
	flaky := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "connecting")
		}
		return nil
	}
	require.NoError(t, intercept(context.Background(), "/svc/M", nil, nil, nil, flaky))
	assert.Equal(t, 3, calls)

	calls = 0
	denied := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		calls++
		return status.Error(codes.PermissionDenied, "no")
	}
	err := intercept(context.Background(), "/svc/M", nil, nil, nil, denied)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, 1, calls, "non-retryable codes are returned immediately")
}

func TestNewClient(t *testing.T) {
	conn, err := NewClient(ClientConfig{Target: "127.0.0.1:50051", ConnTimeout: 1, KeepaliveInterval: 30}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
