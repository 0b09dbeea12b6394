package auth

import (
	"context"
	"errors"
)

type contextKey string

const (
	principalKey contextKey = "principal"
)

// ErrNoPrincipal is returned when the request carries no authenticated caller.
var ErrNoPrincipal = errors.New("no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}
	return p, nil
}
