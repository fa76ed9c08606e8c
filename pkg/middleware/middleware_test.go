package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/optionvault/pkg/logger"
	"github.com/wyfcoding/optionvault/pkg/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() { gin.SetMode(gin.TestMode) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	route  string
	status int
	code   string
}

func (r *recorder) RecordHTTPRequest(_, route string, status int, _ time.Duration) {
	r.route, r.status = route, status
}

func (r *recorder) RecordGRPCRequest(_, code string) { r.code = code }

func TestGinLogging_PropagatesTrace(t *testing.T) {
	r := gin.New()
	r.Use(GinLogging(discard()))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = logger.TraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderTraceID, "trace-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "trace-42", seen)
	assert.Equal(t, "trace-42", rec.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestGinRecovery(t *testing.T) {
	r := gin.New()
	r.Use(GinLogging(discard()), GinRecovery(discard()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestGinCORS(t *testing.T) {
	r := gin.New()
	r.Use(GinCORS([]string{"https://app.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGinMetrics(t *testing.T) {
	rec := &recorder{}
	r := gin.New()
	r.Use(GinMetrics(rec))
	r.GET("/epochs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/epochs/9", nil))
	assert.Equal(t, "/epochs/:id", rec.route)
	assert.Equal(t, http.StatusNotFound, rec.status)
}

func TestGinRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewTokenBucketLimiter(func() time.Time { return now })
	r := gin.New()
	r.Use(GinRateLimit(limiter, ratelimit.PerSecond(1, 1), ClientIPKey, discard()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestGRPCInterceptors(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := GRPCRecovery(discard())(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	rec := &recorder{}
	_, err = GRPCMetrics(rec)(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, "Unavailable", rec.code)

	var traced string
	_, err = GRPCLogging(discard())(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		traced = logger.TraceID(ctx)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, traced)
}
