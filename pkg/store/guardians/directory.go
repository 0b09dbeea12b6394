// Package guardians is the GuardianDirectory: the persistent mapping from an
// account to the set of accounts it trusts to approve its recovery.
package guardians

import (
	"context"
	"sort"

	"github.com/Mindburn-Labs/helm-recovery/pkg/fault"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// MinGuardians is the smallest guardian set an account may register.
const MinGuardians = 2

// Directory is the durable interface for guardian sets.
type Directory interface {
	// SetGuardians atomically replaces owner's guardian set.
	SetGuardians(ctx context.Context, owner identity.AccountRef, guardians []identity.AccountRef) error

	// GetGuardians returns owner's guardian set sorted, or nil when none is registered.
	GetGuardians(ctx context.Context, owner identity.AccountRef) ([]identity.AccountRef, error)

	// HasGuardians reports whether owner has registered a set.
	HasGuardians(ctx context.Context, owner identity.AccountRef) (bool, error)
}

// Normalize validates a proposed guardian set for owner and returns it
// deduplicated and sorted. It rejects empty references, sets with fewer than
// MinGuardians distinct members and sets that contain the owner.
func Normalize(owner identity.AccountRef, guardians []identity.AccountRef) ([]identity.AccountRef, error) {
	if owner.IsZero() {
		return nil, fault.Validation("owner account is required")
	}

	seen := make(map[identity.AccountRef]struct{}, len(guardians))
	out := make([]identity.AccountRef, 0, len(guardians))
	for _, g := range guardians {
		if g.IsZero() {
			return nil, fault.Validation("guardian account must not be empty")
		}
		if g == owner {
			return nil, fault.Validation("cannot set self as a guardian")
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}

	if len(out) < MinGuardians {
		return nil, fault.Validation("must provide at least %d guardians", MinGuardians)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Contains reports whether account is a member of set.
func Contains(set []identity.AccountRef, account identity.AccountRef) bool {
	for _, g := range set {
		if g == account {
			return true
		}
	}
	return false
}
