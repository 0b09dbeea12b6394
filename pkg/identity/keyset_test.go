package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signAndParse(t *testing.T, signer, verifier KeySet) error {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := signer.Sign(context.Background(), claims)
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(tok, &jwt.RegisteredClaims{}, verifier.KeyFunc())
	return err
}

func TestInMemoryKeySet_SignVerify(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	assert.NoError(t, signAndParse(t, ks, ks))
}

func TestInMemoryKeySet_RotatedKeysStillVerify(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)

	tok, err := ks.Sign(context.Background(), jwt.RegisteredClaims{Subject: "bob"})
	require.NoError(t, err)
	require.NoError(t, ks.Rotate())

	_, err = jwt.ParseWithClaims(tok, &jwt.RegisteredClaims{}, ks.KeyFunc())
	assert.NoError(t, err)
}

func TestInMemoryKeySet_EvictsOldest(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	for i := 0; i < maxRetainedKeys+3; i++ {
		require.NoError(t, ks.Rotate())
	}
	assert.Len(t, ks.keys, maxRetainedKeys)
	assert.Len(t, ks.order, maxRetainedKeys)
}

func TestNewKeySetFromSeed_SharedAcrossInstances(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := NewKeySetFromSeed("dev", seed)
	require.NoError(t, err)
	b, err := NewKeySetFromSeed("dev", seed)
	require.NoError(t, err)

	assert.NoError(t, signAndParse(t, a, b))
}

func TestNewKeySetFromSeed_RejectsShortSeed(t *testing.T) {
	_, err := NewKeySetFromSeed("dev", []byte("short"))
	assert.Error(t, err)
}

func TestKeyFunc_RejectsOtherAlgorithms(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "mallory"})
	tok.Header["kid"] = ks.currentKID
	signed, err := tok.SignedString([]byte("not-the-key"))
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(signed, &jwt.RegisteredClaims{}, ks.KeyFunc())
	assert.Error(t, err)
}
