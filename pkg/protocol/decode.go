package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/tokmz/linkup/pkg/errors"
)

// rawEnvelope 入站报文，逐字段校验类型
type rawEnvelope struct {
	Type      json.RawMessage `json:"type"`
	Data      json.RawMessage `json:"data"`
	ID        *string         `json:"id"`
	Timestamp *float64        `json:"timestamp"`
}

// Decode 解析并校验入站报文
//
// 返回的错误均为 KindProtocol，连接保持不变。maxSize <= 0 表示不限制。
// 报文是合法 JSON 对象但 type 或 data 不合法时，同时返回只带 ID 与 Timestamp 的报文，
// 调用方可以用它关联错误回复。
func Decode(frame []byte, maxSize int) (*Envelope, error) {
	if maxSize > 0 && len(frame) > maxSize {
		return nil, errors.ErrEnvelopeTooLarge
	}

	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.ErrInvalidEnvelope
	}

	var raw rawEnvelope
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		// id/timestamp 类型错误也在这里
		return nil, errors.ErrInvalidEnvelope.WithError(err)
	}

	env := &Envelope{}
	if raw.ID != nil {
		env.ID = *raw.ID
	}
	if raw.Timestamp != nil {
		env.Timestamp = int64(*raw.Timestamp)
	}

	var kind string
	if len(raw.Type) == 0 || json.Unmarshal(raw.Type, &kind) != nil || kind == "" {
		return env, errors.ErrInvalidType
	}

	data := bytes.TrimSpace(raw.Data)
	if len(data) > 0 && data[0] != '{' && !bytes.Equal(data, nullLiteral) {
		return env, errors.ErrInvalidData
	}

	env.Type = kind
	env.Data = json.RawMessage(data)
	return env, nil
}
