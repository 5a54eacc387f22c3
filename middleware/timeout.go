package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/tokmz/linkup"
)

// Timeout 创建超时中间件
// 注入带超时的 context，handler 通过 ctx.Done() 感知超时；超时且尚未响应时返回 408
func Timeout(timeout time.Duration) linkup.HandlerFunc {
	return func(c *linkup.Context) {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		c.SetRequestContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer().Written() {
			c.Fail(http.StatusRequestTimeout, "TIMEOUT", "request timeout")
			c.Abort()
		}
	}
}
