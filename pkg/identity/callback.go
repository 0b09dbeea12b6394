package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidCallbackToken is returned when a callback token does not match the
// request and attempt it claims to resume.
var ErrInvalidCallbackToken = errors.New("invalid callback token")

const callbackKDFInfo = "helm-recovery-callback-v1"

// CallbackSigner issues and verifies per-dispatch callback tokens. A token binds
// one request id to one dispatch attempt; only the holder of the token can
// deliver that attempt's result.
type CallbackSigner struct {
	key []byte
}

// NewCallbackSigner derives the HMAC key from secret with HKDF-SHA256.
func NewCallbackSigner(secret []byte, salt string) (*CallbackSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("callback secret must not be empty")
	}
	r := hkdf.New(sha256.New, secret, []byte(salt), []byte(callbackKDFInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &CallbackSigner{key: key}, nil
}

// Sign returns the hex token for (requestID, attemptID).
func (s *CallbackSigner) Sign(requestID, attemptID string) string {
	return hex.EncodeToString(s.mac(requestID, attemptID))
}

// Verify checks token in constant time.
func (s *CallbackSigner) Verify(requestID, attemptID, token string) error {
	got, err := hex.DecodeString(token)
	if err != nil {
		return ErrInvalidCallbackToken
	}
	if !hmac.Equal(got, s.mac(requestID, attemptID)) {
		return ErrInvalidCallbackToken
	}
	return nil
}

func (s *CallbackSigner) mac(requestID, attemptID string) []byte {
	m := hmac.New(sha256.New, s.key)
	// Length-prefix the first field so ("ab","c") and ("a","bc") differ.
	_, _ = fmt.Fprintf(m, "%d:%s|%s", len(requestID), requestID, attemptID)
	return m.Sum(nil)
}
