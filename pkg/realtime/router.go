package realtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/tracing"
)

// Handler 报文处理器
type Handler func(ctx context.Context, s *Session, env *protocol.Envelope) error

// NextFunc 中间件下一步函数
type NextFunc func(ctx context.Context) error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, s *Session, env *protocol.Envelope, next NextFunc) error

// Router 报文路由器
type Router struct {
	handlers   map[protocol.Kind]Handler
	middleware []MiddlewareFunc
	compiled   map[protocol.Kind]Handler // 预编译的处理器链
	mu         sync.RWMutex
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{
		handlers: make(map[protocol.Kind]Handler),
	}
}

// Register 注册处理器
func (r *Router) Register(kind protocol.Kind, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Use 添加中间件
func (r *Router) Use(middleware ...MiddlewareFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	r.middleware = append(r.middleware, middleware...)
	return nil
}

// Freeze 冻结路由器，预编译处理器链
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	r.frozen = true
	r.compiled = make(map[protocol.Kind]Handler, len(r.handlers))
	for kind, h := range r.handlers {
		r.compiled[kind] = chain(r.middleware, h)
	}
}

// Route 路由报文，未注册的类型返回 UNKNOWN_KIND
func (r *Router) Route(ctx context.Context, s *Session, env *protocol.Envelope) error {
	r.mu.RLock()
	if r.frozen {
		h, ok := r.compiled[env.Type]
		r.mu.RUnlock()
		if !ok {
			return errors.ErrUnknownKind.WithMessage("unknown envelope type: " + env.Type)
		}
		return h(ctx, s, env)
	}

	h, ok := r.handlers[env.Type]
	mw := r.middleware
	r.mu.RUnlock()

	if !ok {
		return errors.ErrUnknownKind.WithMessage("unknown envelope type: " + env.Type)
	}
	return chain(mw, h)(ctx, s, env)
}

// chain 从后向前构建中间件链
func chain(middleware []MiddlewareFunc, h Handler) Handler {
	final := h
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, next := middleware[i], final
		final = func(ctx context.Context, s *Session, env *protocol.Envelope) error {
			return mw(ctx, s, env, func(ctx context.Context) error {
				return next(ctx, s, env)
			})
		}
	}
	return final
}

// HandlerFunc 泛型处理器，data 解析到 Req
type HandlerFunc[Req any] func(ctx context.Context, s *Session, env *protocol.Envelope, req *Req) error

// Handle 注册泛型处理器
func Handle[Req any](r *Router, kind protocol.Kind, handler HandlerFunc[Req]) error {
	return r.Register(kind, func(ctx context.Context, s *Session, env *protocol.Envelope) error {
		var req Req
		if err := env.Bind(&req); err != nil {
			return err
		}
		return handler(ctx, s, env, &req)
	})
}

// Recovery 捕获处理器 panic，返回 INTERNAL
func Recovery(log logger.Logger) MiddlewareFunc {
	return func(ctx context.Context, s *Session, env *protocol.Envelope, next NextFunc) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "handler panic",
					zap.String("kind", env.Type),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = errors.ErrInternal
			}
		}()
		return next(ctx)
	}
}

// Tracing 每个入站报文一个 span
func Tracing() MiddlewareFunc {
	return func(ctx context.Context, s *Session, env *protocol.Envelope, next NextFunc) error {
		ctx, span := tracing.StartSpan(ctx, "realtime."+env.Type,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("realtime.conn_id", s.ID()),
				attribute.String("realtime.user_id", s.UserID()),
				attribute.String("realtime.envelope_id", env.ID),
			),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			tracing.RecordError(span, err)
		}
		return err
	}
}

// Instrument 记录报文计数、耗时与错误
func Instrument(metrics Metrics) MiddlewareFunc {
	return func(ctx context.Context, s *Session, env *protocol.Envelope, next NextFunc) error {
		start := time.Now()
		metrics.IncrementMessageCount(env.Type)

		err := next(ctx)
		metrics.RecordMessageLatency(env.Type, time.Since(start))
		if err != nil {
			metrics.IncrementMessageErrors(env.Type)
		}
		return err
	}
}

// Throttle 会话内限流，只作用于指定类型，超限返回可恢复的 RATE_LIMITED
func Throttle(metrics Metrics, kinds ...protocol.Kind) MiddlewareFunc {
	limited := make(map[protocol.Kind]bool, len(kinds))
	for _, k := range kinds {
		limited[k] = true
	}
	return func(ctx context.Context, s *Session, env *protocol.Envelope, next NextFunc) error {
		if limited[env.Type] && !s.limiter.Allow() {
			metrics.IncrementRateLimited("session")
			return errors.ErrRateLimited
		}
		return next(ctx)
	}
}

func newActionLimiter(cfg *Config) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.ActionRate), cfg.ActionBurst)
}
