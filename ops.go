package linkup

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokmz/linkup/pkg/realtime"
)

// HealthResponse 健康检查
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// OnlineResponse 在线用户
type OnlineResponse struct {
	UserIDs []string `json:"userIds"`
}

// ConnectionsResponse 连接数
type ConnectionsResponse struct {
	Count int `json:"count"`
}

// PresenceRequest 查询单个用户在线状态
type PresenceRequest struct {
	UserID string `uri:"id" binding:"required"`
}

func (e *Engine) registerRoutes() {
	root := &RouterGroup{group: &e.engine.RouterGroup}

	root.Mount(http.MethodGet, "/ws", http.HandlerFunc(e.hub.ServeWS))
	HandleOnly(root.GET, "/healthz", e.health)

	if e.config.Gatherer != nil {
		root.Mount(http.MethodGet, "/metrics", promhttp.HandlerFor(e.config.Gatherer, promhttp.HandlerOpts{}))
	}

	ops := root.Group("/ops", e.config.OpsMiddlewares...)
	HandleOnly(ops.GET, "/online", e.online)
	HandleOnly(ops.GET, "/connections", e.connections)
	Handle(ops.GET, "/users/:id/presence", e.presence)
}

func (e *Engine) health(*Context) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Connections: e.hub.ConnectionCount()}, nil
}

func (e *Engine) online(*Context) (*OnlineResponse, error) {
	ids := e.hub.OnlineUserIDs()
	if ids == nil {
		ids = []string{}
	}
	return &OnlineResponse{UserIDs: ids}, nil
}

func (e *Engine) connections(*Context) (*ConnectionsResponse, error) {
	return &ConnectionsResponse{Count: e.hub.ConnectionCount()}, nil
}

func (e *Engine) presence(c *Context, req *PresenceRequest) (*realtime.PresenceInfo, error) {
	info, err := e.hub.Presence(c.RequestContext(), req.UserID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
