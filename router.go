package linkup

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterGroup 路由组
type RouterGroup struct {
	group *gin.RouterGroup
}

// Group 创建子路由组
func (rg *RouterGroup) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{group: rg.group.Group(path, WrapHandlers(middlewares...)...)}
}

// Use 注册中间件
func (rg *RouterGroup) Use(middlewares ...HandlerFunc) {
	rg.group.Use(WrapHandlers(middlewares...)...)
}

// GET 注册 GET 路由
func (rg *RouterGroup) GET(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.GET(path, WrapHandlers(append(middlewares, handler)...)...)
}

// POST 注册 POST 路由
func (rg *RouterGroup) POST(path string, handler HandlerFunc, middlewares ...HandlerFunc) {
	rg.group.POST(path, WrapHandlers(append(middlewares, handler)...)...)
}

// Mount 挂载标准 http.Handler（WebSocket 升级、promhttp 等）
func (rg *RouterGroup) Mount(method, path string, h http.Handler, middlewares ...HandlerFunc) {
	handlers := append(WrapHandlers(middlewares...), gin.WrapH(h))
	rg.group.Handle(method, path, handlers...)
}

// RouteRegister 路由注册函数类型
type RouteRegister func(path string, handler HandlerFunc, middlewares ...HandlerFunc)

// Handle 有请求参数，有响应数据
//
// 路径参数与查询参数自动绑定到 Req，错误按分类映射 HTTP 状态码。
func Handle[Req any, Resp any](register RouteRegister, path string, handler func(*Context, *Req) (*Resp, error), middlewares ...HandlerFunc) {
	register(path, func(c *Context) {
		var req Req
		if err := bind(c, &req); err != nil {
			c.RespondError(err)
			return
		}
		resp, err := handler(c, &req)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}, middlewares...)
}

// HandleOnly 无请求参数，有响应数据
func HandleOnly[Resp any](register RouteRegister, path string, handler func(*Context) (*Resp, error), middlewares ...HandlerFunc) {
	register(path, func(c *Context) {
		resp, err := handler(c)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}, middlewares...)
}

func bind(c *Context, obj any) error {
	if err := c.ShouldBindUri(obj); err != nil {
		return errInvalidRequest.WithError(err)
	}
	if err := c.ShouldBindQuery(obj); err != nil {
		return errInvalidRequest.WithError(err)
	}
	return nil
}
