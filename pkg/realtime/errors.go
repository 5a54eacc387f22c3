package realtime

import "errors"

// 连接层错误，不会发送给客户端
var (
	ErrDuplicateConnection = errors.New("realtime: connection id already registered")
	ErrTooManyConnections  = errors.New("realtime: too many connections")
	ErrConnectionClosed    = errors.New("realtime: connection closed")
	ErrChannelFull         = errors.New("realtime: send channel full")
	ErrHandlerExists       = errors.New("realtime: handler already exists")
	ErrRouterFrozen        = errors.New("realtime: router is frozen")
)
