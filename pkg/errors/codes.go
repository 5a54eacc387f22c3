package errors

/*
	内置错误码
*/

// 关闭码
const (
	CloseMissingIdentity = 4001
	CloseAuthFailed      = 4003
	CloseDeadConnection  = 4008
	CloseRateLimited     = 4029
)

var (
	// 报文错误
	ErrUnknownKind      = New(KindProtocol, "UNKNOWN_KIND", "unknown envelope type")
	ErrInvalidEnvelope  = New(KindProtocol, "INVALID_ENVELOPE", "envelope is not a valid json object")
	ErrInvalidType      = New(KindProtocol, "INVALID_TYPE", "envelope type must be a non-empty string")
	ErrInvalidData      = New(KindProtocol, "INVALID_DATA", "envelope data must be an object or null")
	ErrEnvelopeTooLarge = New(KindProtocol, "ENVELOPE_TOO_LARGE", "envelope exceeds size limit")

	// 业务校验
	ErrInvalidPayload = New(KindValidation, "INVALID_PAYLOAD", "invalid payload")
	ErrEmptyContent   = New(KindValidation, "EMPTY_CONTENT", "message content is empty")
	ErrContentTooLong = New(KindValidation, "CONTENT_TOO_LONG", "message content is too long")
	ErrRoomFull       = New(KindValidation, "ROOM_FULL", "room is full")

	// 资源
	ErrNotFound = New(KindNotFound, "NOT_FOUND", "conversation not found")

	// 认证与限流
	ErrMissingIdentity = New(KindAuthentication, "MISSING_IDENTITY", "userId is required", CloseMissingIdentity)
	ErrAuthFailed      = New(KindAuthentication, "AUTH_FAILED", "authentication failed", CloseAuthFailed)
	ErrRateLimited     = New(KindRateLimit, "RATE_LIMITED", "too many requests")

	// 其他
	ErrTransport = New(KindTransport, "TRANSPORT", "transport failure")
	ErrInternal  = New(KindInternal, "INTERNAL", "internal error")
)
