package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages active signing keys and verification of past keys.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// maxRetainedKeys bounds how many rotated keys still verify.
const maxRetainedKeys = 10

// InMemoryKeySet holds Ed25519 keys in memory.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
	order      []string
}

// NewInMemoryKeySet creates a key set with one freshly generated key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{
		keys: make(map[string]ed25519.PrivateKey),
	}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewKeySetFromSeed creates a key set whose only key is derived from seed, so
// that separate processes (server and token minting CLI) agree on it.
func NewKeySetFromSeed(kid string, seed []byte) (*InMemoryKeySet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	ks := &InMemoryKeySet{
		keys: make(map[string]ed25519.PrivateKey),
	}
	ks.add(kid, ed25519.NewKeyFromSeed(seed))
	return ks, nil
}

// Rotate generates a new active key. Previously issued tokens keep verifying
// until their key is evicted.
func (ks *InMemoryKeySet) Rotate() error {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.add(fmt.Sprintf("key-%d", time.Now().UnixNano()), privateKey)
	return nil
}

// add must be called with mu held (or before the set is shared).
func (ks *InMemoryKeySet) add(kid string, key ed25519.PrivateKey) {
	ks.keys[kid] = key
	ks.order = append(ks.order, kid)
	ks.currentKID = kid

	for len(ks.order) > maxRetainedKeys {
		oldest := ks.order[0]
		ks.order = ks.order[1:]
		delete(ks.keys, oldest)
	}
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}

		return key.Public(), nil
	}
}
