package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsComparesCode(t *testing.T) {
	err := ErrEmptyContent.WithMessage("content is blank")
	assert.True(t, errors.Is(err, ErrEmptyContent))
	assert.False(t, errors.Is(err, ErrContentTooLong))

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.True(t, Is(wrapped, ErrEmptyContent))
}

func TestWithDoesNotMutateShared(t *testing.T) {
	cause := errors.New("boom")
	err := ErrInternal.WithError(cause)

	assert.Nil(t, ErrInternal.Err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		fatal bool
	}{
		{"protocol", ErrUnknownKind, false},
		{"validation", ErrEmptyContent, false},
		{"missing identity", ErrMissingIdentity, true},
		{"auth", ErrAuthFailed, true},
		{"rate limit in session", ErrRateLimited, false},
		{"rate limit at handshake", ErrRateLimited.WithCloseCode(CloseRateLimited), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.err.Fatal())
		})
	}
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	e := From(fmt.Errorf("wrap: %w", ErrNotFound))
	assert.Equal(t, KindNotFound, e.Kind)

	e = From(errors.New("plain"))
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, "INTERNAL", e.Code)
}
