package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/helm-recovery/pkg/api"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// JWTValidator validates JWT tokens and extracts claims.
type JWTValidator struct {
	// KeySet provides the keys for validation.
	KeySet identity.KeySet
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// Claims are the JWT claims expected by the recovery API. The subject is the
// caller's account reference.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// NewJWTValidator creates a validator with the given KeySet.
func NewJWTValidator(ks identity.KeySet, issuer string) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks, Issuer: issuer}
}

// Validate parses and validates a JWT token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v.KeySet == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithExpirationRequired()}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc(), opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths are endpoints that do not require a bearer token.
var publicPaths = []string{
	"/health",
	"/readiness",
}

// isPublicPath checks if the path should be accessible without a bearer
// token. Callback routes authenticate with their per-dispatch token instead.
func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/internal/v1/") {
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}

			principal := &BasePrincipal{
				ID:    claims.Subject,
				Roles: claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
