package gwerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsSetKindAndMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"InvalidRequest", InvalidRequest("bad field %s", "foo"), KindInvalidRequest},
		{"Unauthorized", Unauthorized("no key"), KindUnauthorized},
		{"Timeout", Timeout("deadline exceeded"), KindTimeout},
		{"RateLimit", RateLimit("slow down"), KindRateLimit},
		{"ServerOverload", ServerOverload("try later"), KindServerOverload},
		{"MappingError", MappingError("unknown field %s", "bar"), KindMappingError},
		{"AccountError", AccountError("account disabled"), KindAccountError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.NotEmpty(t, tc.err.Message)
		})
	}
}

func TestNetworkErrorWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NetworkError(cause)
	assert.Equal(t, KindNetworkError, err.Kind)
	assert.Same(t, cause, err.Cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStreamErrorMarksStreamedBytes(t *testing.T) {
	err := StreamError("upstream closed mid-stream")
	assert.Equal(t, KindStreamError, err.Kind)
	assert.True(t, err.StreamedBytes)
	assert.False(t, err.Retryable())
}

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInvalidRequest, 400},
		{KindUnauthorized, 401},
		{KindForbidden, 403},
		{KindNotFound, 404},
		{KindTimeout, 408},
		{KindRateLimit, 429},
		{KindServerOverload, 503},
		{KindMappingError, 500},
		{KindAccountError, 503},
		{KindNetworkError, 502},
		{KindStreamError, 500},
	}
	for _, tc := range cases {
		e := New(tc.kind, "x")
		assert.Equal(t, tc.want, e.HTTPStatus(), tc.kind)
	}
}

func TestRetryableByKind(t *testing.T) {
	assert.True(t, New(KindTimeout, "x").Retryable())
	assert.True(t, New(KindRateLimit, "x").Retryable())
	assert.True(t, New(KindServerOverload, "x").Retryable())
	assert.True(t, New(KindNetworkError, "x").Retryable())

	assert.False(t, New(KindInvalidRequest, "x").Retryable())
	assert.False(t, New(KindUnauthorized, "x").Retryable())
	assert.False(t, New(KindForbidden, "x").Retryable())
	assert.False(t, New(KindNotFound, "x").Retryable())
	assert.False(t, New(KindMappingError, "x").Retryable())
	assert.False(t, New(KindAccountError, "x").Retryable())
	assert.False(t, New(KindStreamError, "x").Retryable())
}

func TestStreamedBytesOverridesRetryability(t *testing.T) {
	e := New(KindTimeout, "would normally retry")
	e.StreamedBytes = true
	assert.False(t, e.Retryable())
}

func TestAsExtractsTaxonomyError(t *testing.T) {
	e, ok := As(RateLimit("too fast"))
	assert.True(t, ok)
	assert.Equal(t, KindRateLimit, e.Kind)

	_, ok = As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Timeout("x")))
	assert.False(t, IsRetryable(InvalidRequest("x")))
	assert.False(t, IsRetryable(errors.New("not in the taxonomy")))
}

func TestHTTPStatusFromError(t *testing.T) {
	assert.Equal(t, 429, HTTPStatusFromError(RateLimit("x")))
	assert.Equal(t, 500, HTTPStatusFromError(errors.New("not in the taxonomy")))
}
