package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/linkup/pkg/errors"
)

func TestJWTVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewJWTVerifier("s3cret", WithIssuer("linkup"))

	token, err := v.Issue("u1", "Alice", time.Hour)
	require.NoError(t, err)

	user, err := v.Verify(ctx, token, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Alice", user.Name)

	t.Run("subject mismatch", func(t *testing.T) {
		_, err := v.Verify(ctx, token, "u2")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAuthFailed))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTVerifier("other", WithIssuer("linkup"))
		_, err := other.Verify(ctx, token, "u1")
		assert.True(t, errors.Is(err, errors.ErrAuthFailed))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTVerifier("s3cret", WithIssuer("someone-else"))
		_, err := other.Verify(ctx, token, "u1")
		assert.True(t, errors.Is(err, errors.ErrAuthFailed))
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := v.Issue("u1", "", -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(ctx, expired, "u1")
		assert.True(t, errors.Is(err, errors.ErrAuthFailed))
	})

	t.Run("missing exp", func(t *testing.T) {
		noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: "u1",
			Issuer:  "linkup",
		}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = v.Verify(ctx, noExp, "u1")
		assert.True(t, errors.Is(err, errors.ErrAuthFailed))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify(ctx, "not-a-token", "u1")
		require.Error(t, err)
		assert.Equal(t, errors.CloseAuthFailed, errors.From(err).CloseCode)
	})
}

func TestIDOnly(t *testing.T) {
	ctx := context.Background()

	strict := NewJWTVerifier("s3cret")
	_, err := strict.Verify(ctx, "", "u1")
	assert.True(t, errors.Is(err, errors.ErrAuthFailed))

	lenient := NewJWTVerifier("s3cret", WithAllowIDOnly(true))
	user, err := lenient.Verify(ctx, "", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	// 提交了 token 时仍然严格校验
	_, err = lenient.Verify(ctx, "bad", "u1")
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var v Verifier = Func(func(_ context.Context, token, id string) (*User, error) {
		if token != id {
			return nil, errors.ErrAuthFailed
		}
		return &User{ID: id}, nil
	})

	_, err := v.Verify(context.Background(), "a", "a")
	assert.NoError(t, err)
	_, err = v.Verify(context.Background(), "a", "b")
	assert.Error(t, err)
}
