// Package auth turns bearer JWTs into the caller identity the recovery
// operations act on, and carries the per-request HTTP middleware.
package auth

import (
	"slices"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// Principal is the interface for any entity making a request.
type Principal interface {
	GetID() string
	GetRoles() []string
	// Account is the caller as a normalized account reference.
	Account() identity.AccountRef
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) Account() identity.AccountRef {
	return identity.NewAccountRef(b.ID)
}

func (b *BasePrincipal) HasRole(role string) bool {
	return slices.Contains(b.Roles, role)
}
