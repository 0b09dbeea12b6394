package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackSigner_RoundTrip(t *testing.T) {
	s, err := NewCallbackSigner([]byte("top-secret"), "recovery")
	require.NoError(t, err)

	tok := s.Sign("req-1", "attempt-1")
	assert.NoError(t, s.Verify("req-1", "attempt-1", tok))
}

func TestCallbackSigner_BoundToAttempt(t *testing.T) {
	s, err := NewCallbackSigner([]byte("top-secret"), "recovery")
	require.NoError(t, err)

	tok := s.Sign("req-1", "attempt-1")
	assert.ErrorIs(t, s.Verify("req-1", "attempt-2", tok), ErrInvalidCallbackToken)
	assert.ErrorIs(t, s.Verify("req-2", "attempt-1", tok), ErrInvalidCallbackToken)
	assert.ErrorIs(t, s.Verify("req-1", "attempt-1", "zz-not-hex"), ErrInvalidCallbackToken)
}

func TestCallbackSigner_FieldBoundaries(t *testing.T) {
	s, err := NewCallbackSigner([]byte("top-secret"), "recovery")
	require.NoError(t, err)
	assert.NotEqual(t, s.Sign("ab", "c"), s.Sign("a", "bc"))
}

func TestCallbackSigner_DifferentSecrets(t *testing.T) {
	a, err := NewCallbackSigner([]byte("secret-a"), "recovery")
	require.NoError(t, err)
	b, err := NewCallbackSigner([]byte("secret-b"), "recovery")
	require.NoError(t, err)

	assert.Error(t, b.Verify("req", "att", a.Sign("req", "att")))
}

func TestNewCallbackSigner_EmptySecret(t *testing.T) {
	_, err := NewCallbackSigner(nil, "recovery")
	assert.Error(t, err)
}
