package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tokmz/linkup/pkg/errors"
	"github.com/tokmz/linkup/pkg/logger"
)

// Claims token 声明，sub 为用户 ID
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier HMAC 签名的 JWT 校验器
type JWTVerifier struct {
	secret      []byte
	issuer      string
	allowIDOnly bool
	log         logger.Logger
}

// Option JWTVerifier 选项
type Option func(*JWTVerifier)

// WithIssuer 要求 iss 与之相等
func WithIssuer(issuer string) Option {
	return func(v *JWTVerifier) {
		v.issuer = issuer
	}
}

// WithAllowIDOnly 允许无 token 建连，只信任客户端声明的 userId
//
// 仅用于开发环境，每次使用都会记录警告日志。
func WithAllowIDOnly(allow bool) Option {
	return func(v *JWTVerifier) {
		v.allowIDOnly = allow
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(v *JWTVerifier) {
		v.log = l
	}
}

// NewJWTVerifier 创建校验器
func NewJWTVerifier(secret string, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{
		secret: []byte(secret),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify 实现 Verifier
func (v *JWTVerifier) Verify(_ context.Context, token, claimedUserID string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if v.allowIDOnly && claimedUserID != "" {
			v.log.Warn("id-only authentication accepted", zap.String("user_id", claimedUserID))
			return &User{ID: claimedUserID}, nil
		}
		return nil, errors.ErrAuthFailed.WithMessage("token is required")
	}
	if len(v.secret) == 0 {
		return nil, errors.ErrAuthFailed.WithMessage("token verification is not configured")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, errors.ErrAuthFailed.WithError(err)
	}
	if claims.Subject != claimedUserID {
		return nil, errors.ErrAuthFailed.WithMessage("token subject does not match userId")
	}

	return &User{ID: claims.Subject, Name: claims.Name}, nil
}

// Issue 签发 HS256 token，供开发工具和测试使用
func (v *JWTVerifier) Issue(userID, name string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("auth: secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
