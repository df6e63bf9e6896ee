package obserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := RetriableHTTP(503, errors.New("service unavailable"))
	assert.True(t, Is(err, KindRetriableHTTP))
	assert.False(t, Is(err, KindTimeout))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindUnauthorized))
}

func TestAgentError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := TransientNetwork(cause)
	assert.ErrorIs(t, err, cause)
}

// §8 "Unauthorized propagation": only Unrecoverable is ever allowed to
// terminate the process; AsUnrecoverable must see through wrapping.
func TestAsUnrecoverable_SeesThroughWrapping(t *testing.T) {
	inner := &Unrecoverable{Cause: Unauthorized("token rejected")}
	wrapped := fmtWrap(inner)

	u, ok := AsUnrecoverable(wrapped)
	assert.True(t, ok)
	assert.Equal(t, inner, u)
}

func TestAsUnrecoverable_FalseForOrdinaryError(t *testing.T) {
	_, ok := AsUnrecoverable(RetriableHTTP(500, errors.New("boom")))
	assert.False(t, ok)
}

func fmtWrap(err error) error {
	return Wrap(KindAPILogical, "outer context", err)
}
