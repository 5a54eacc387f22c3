package middleware

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/linkup"
)

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// TracerName Tracer 名称（默认 "linkup.http"）
	TracerName string

	// ExcludePaths 排除的路径（默认 /healthz 和 /metrics）
	ExcludePaths []string
}

// DefaultTracingConfig 返回默认配置
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		TracerName:   "linkup.http",
		ExcludePaths: []string{"/healthz", "/metrics"},
	}
}

// Tracing 创建链路追踪中间件
// 提取上游 TraceContext，为每个请求创建 Server Span，并把 trace_id 写回响应
func Tracing(cfgs ...*TracingConfig) linkup.HandlerFunc {
	cfg := DefaultTracingConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	skip := pathSet(cfg.ExcludePaths)

	return func(c *linkup.Context) {
		req := c.Request()
		if skip[req.URL.Path] {
			c.Next()
			return
		}

		// 每次请求时获取 tracer，避免 Provider 后初始化导致使用 noop
		tracer := otel.Tracer(cfg.TracerName)
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		route := c.FullPath()
		if route == "" {
			route = req.URL.Path
		}
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.HTTPRouteKey.String(route),
			semconv.ServerAddress(req.Host),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		ctx, span := tracer.Start(ctx, req.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		linkup.SetContextTraceID(c, span.SpanContext().TraceID().String())
		c.SetRequestContext(ctx)
		// 升级后的 WebSocket 响应头已发送，先注入
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))

		c.Next()

		status := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
