package guardians

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// MemoryDirectory implements Directory in process memory.
type MemoryDirectory struct {
	mu   sync.RWMutex
	sets map[identity.AccountRef][]identity.AccountRef
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		sets: make(map[identity.AccountRef][]identity.AccountRef),
	}
}

func (d *MemoryDirectory) SetGuardians(ctx context.Context, owner identity.AccountRef, guardians []identity.AccountRef) error {
	set, err := Normalize(owner, guardians)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets[owner] = set
	return nil
}

func (d *MemoryDirectory) GetGuardians(ctx context.Context, owner identity.AccountRef) ([]identity.AccountRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set, ok := d.sets[owner]
	if !ok {
		return nil, nil
	}
	out := make([]identity.AccountRef, len(set))
	copy(out, set)
	return out, nil
}

func (d *MemoryDirectory) HasGuardians(ctx context.Context, owner identity.AccountRef) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.sets[owner]
	return ok, nil
}
