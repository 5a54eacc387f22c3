package orm

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const tracerName = "linkup.store"

// TracingPlugin 为每条 SQL 创建 client span
type TracingPlugin struct {
	withStatement bool
}

// TracingOption 追踪插件选项
type TracingOption func(*TracingPlugin)

// WithStatement 在 span 上记录完整 SQL（可能包含消息内容）
func WithStatement(enable bool) TracingOption {
	return func(p *TracingPlugin) {
		p.withStatement = enable
	}
}

// NewTracingPlugin 创建插件
func NewTracingPlugin(opts ...TracingOption) *TracingPlugin {
	p := &TracingPlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TracingPlugin) Name() string {
	return "linkup:tracing"
}

// Initialize 注册 create/query/update/delete/row/raw 回调
func (p *TracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op       string
		before   func(string, func(*gorm.DB)) error
		after    func(string, func(*gorm.DB)) error
		anchorOp string
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register, "gorm:create"},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register, "gorm:query"},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register, "gorm:update"},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register, "gorm:delete"},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register, "gorm:row"},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register, "gorm:raw"},
	}
	for _, h := range hooks {
		if err := h.before("linkup:before_"+h.op, p.start("store."+h.op)); err != nil {
			return fmt.Errorf("register %s: %w", h.anchorOp, err)
		}
		if err := h.after("linkup:after_"+h.op, p.end); err != nil {
			return fmt.Errorf("register %s: %w", h.anchorOp, err)
		}
	}
	return nil
}

func (p *TracingPlugin) start(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		// 每次取 tracer，Provider 可能晚于 DB 初始化
		ctx, _ = otel.Tracer(tracerName).Start(ctx, op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", db.Dialector.Name()),
				attribute.String("db.operation", op),
			),
		)
		db.Statement.Context = ctx
	}
}

func (p *TracingPlugin) end(db *gorm.DB) {
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	if p.withStatement {
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", sql))
		}
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
