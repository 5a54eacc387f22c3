package linkup

import (
	"net/http"

	"github.com/tokmz/linkup/pkg/errors"
)

// Response 运维接口统一响应结构
type Response struct {
	Code    string `json:"code"`               // 业务状态码，成功为 OK
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// CodeOK 成功响应码
const CodeOK = "OK"

// Success 创建成功响应
func Success(data any) *Response {
	return &Response{Code: CodeOK, Data: data, Message: "success"}
}

// Fail 创建失败响应
func Fail(code, message string) *Response {
	return &Response{Code: code, Message: message}
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

// httpStatus 错误分类对应的 HTTP 状态码
func httpStatus(kind errors.Kind) int {
	switch kind {
	case errors.KindProtocol, errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindAuthentication:
		return http.StatusUnauthorized
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindRateLimit:
		return http.StatusTooManyRequests
	case errors.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
