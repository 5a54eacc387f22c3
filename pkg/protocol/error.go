package protocol

import "github.com/tokmz/linkup/pkg/errors"

// NewError 由错误构造 error 报文，回显 correlationID
func NewError(correlationID string, err error) *Envelope {
	e := errors.From(err)
	return MustNew(KindError, correlationID, ErrorBody{
		Code:    e.Code,
		Kind:    string(e.Kind),
		Message: e.Message,
	})
}
