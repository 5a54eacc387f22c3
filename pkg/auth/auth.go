// Package auth 校验握手时提交的身份凭证
package auth

import (
	"context"
)

// User 通过认证的用户
type User struct {
	ID   string
	Name string
}

// Verifier 校验 token 是否属于 claimedUserID
//
// 失败时返回 errors.ErrAuthFailed（关闭码 4003）。
type Verifier interface {
	Verify(ctx context.Context, token, claimedUserID string) (*User, error)
}

// Func 函数适配器
type Func func(ctx context.Context, token, claimedUserID string) (*User, error)

func (f Func) Verify(ctx context.Context, token, claimedUserID string) (*User, error) {
	return f(ctx, token, claimedUserID)
}
