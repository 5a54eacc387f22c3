package errors

import "errors"

// Kind 错误分类
type Kind string

const (
	KindProtocol       Kind = "protocol"       // 报文格式错误，可恢复
	KindAuthentication Kind = "authentication" // 认证失败，致命
	KindValidation     Kind = "validation"     // 业务校验失败，可恢复
	KindNotFound       Kind = "not_found"      // 资源不存在或无权访问，可恢复
	KindRateLimit      Kind = "rate_limit"     // 限流，握手阶段致命
	KindTransport      Kind = "transport"      // 网络层错误，触发断线处理
	KindInternal       Kind = "internal"       // 服务内部错误
)

type Error struct {
	Kind      Kind   `json:"kind"`    // 错误分类
	Code      string `json:"code"`    // 错误码
	Message   string `json:"message"` // 错误信息
	CloseCode int    `json:"-"`       // 致命错误对应的关闭码，0 表示不关闭连接
	Err       error  `json:"-"`       // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// closeCode 可选，致命错误关闭连接时使用的关闭码
func New(kind Kind, code, message string, closeCode ...int) *Error {
	cc := 0
	if len(closeCode) > 0 {
		cc = closeCode[0]
	}
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		CloseCode: cc,
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	c := *e
	return &c
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 替换错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// WithCloseCode 替换关闭码（返回新实例）
func (e *Error) WithCloseCode(code int) *Error {
	c := e.Clone()
	c.CloseCode = code
	return c
}

// Fatal 是否需要关闭连接
func (e *Error) Fatal() bool {
	return e.CloseCode != 0
}

// Is 当 target 也是 *Error 时比较 Code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// As 转换为指定类型的错误
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// From 提取 *Error，非 *Error 的错误包装为 ErrInternal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithError(err)
}

// KindOf 返回错误分类，非 *Error 视为内部错误
func KindOf(err error) Kind {
	if e := From(err); e != nil {
		return e.Kind
	}
	return ""
}
