// Package middleware Gin 与 gRPC 通用中间件：日志与 trace 注入、panic 恢复、CORS、指标、限流
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/optionvault/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// HeaderTraceID 上游传入的 trace id
	HeaderTraceID   = "X-Trace-ID"
	HeaderRequestID = "X-Request-ID"
)

// HTTPRecorder HTTP 指标记录
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// GRPCRecorder gRPC 指标记录
type GRPCRecorder interface {
	RecordGRPCRequest(method, code string)
}

// GinLogging 为请求生成 request/trace/span id，写入 context 并记录访问日志
func GinLogging(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := logger.ContextWithTrace(c.Request.Context(), traceID, uuid.NewString())
		ctx = logger.ContextWithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		start := time.Now()
		c.Next()

		attrs := []any{
			"request_id", requestID,
			"trace_id", traceID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status(),
			"response_size", c.Writer.Size(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.ErrorContext(ctx, "http request completed", attrs...)
			return
		}
		l.InfoContext(ctx, "http request completed", attrs...)
	}
}

// GinRecovery 捕获 panic 并返回 500
func GinRecovery(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				l.ErrorContext(ctx, "http request panicked",
					"request_id", logger.RequestID(ctx),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": logger.RequestID(ctx),
				})
			}
		}()
		c.Next()
	}
}

// GinCORS allowOrigins 为空时允许任意来源
func GinCORS(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, o := range allowOrigins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID, X-Caller-Address")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// GinMetrics 按路由模板记录请求数与耗时
func GinMetrics(rec HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// GRPCLogging gRPC 一元调用日志拦截器，从 metadata 继承 trace id
func GRPCLogging(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		traceID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-trace-id"); len(v) > 0 {
				traceID = v[0]
			}
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = logger.ContextWithTrace(ctx, traceID, uuid.NewString())
		ctx = logger.ContextWithRequestID(ctx, uuid.NewString())

		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			st, _ := status.FromError(err)
			l.ErrorContext(ctx, "grpc request failed",
				"method", info.FullMethod,
				"code", st.Code().String(),
				"message", st.Message(),
				"duration", time.Since(start),
			)
			return resp, err
		}
		l.DebugContext(ctx, "grpc request completed", "method", info.FullMethod, "duration", time.Since(start))
		return resp, nil
	}
}

// GRPCRecovery 将 panic 转为 codes.Internal
func GRPCRecovery(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				l.ErrorContext(ctx, "grpc request panicked", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// GRPCMetrics 记录 gRPC 调用结果
func GRPCMetrics(rec GRPCRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		rec.RecordGRPCRequest(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}
