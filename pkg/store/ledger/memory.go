package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// MemoryLedger implements Ledger in process memory.
type MemoryLedger struct {
	mu       sync.RWMutex
	requests map[string]Request
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{requests: make(map[string]Request)}
}

func (l *MemoryLedger) Create(ctx context.Context, req Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.requests[req.ID]; ok {
		return ErrExists
	}
	l.requests[req.ID] = req.Clone()
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, id string) (Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req.Clone(), nil
}

func (l *MemoryLedger) AddApproval(ctx context.Context, id string, approver identity.AccountRef, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.State != StateActive {
		return ErrStale
	}
	if req.HasApproved(approver) {
		return ErrAlreadyApproved
	}
	req = req.Clone()
	req.Approvers = append(req.Approvers, approver)
	req.UpdatedAt = at
	l.requests[id] = req
	return nil
}

func (l *MemoryLedger) Update(ctx context.Context, req Request, rev Revision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Revision() != rev {
		return ErrStale
	}
	cur.State = req.State
	cur.AttemptID = req.AttemptID
	cur.Attempts = req.Attempts
	cur.DispatchedAt = req.DispatchedAt
	cur.LastError = req.LastError
	cur.UpdatedAt = req.UpdatedAt
	l.requests[req.ID] = cur
	return nil
}

func (l *MemoryLedger) Delete(ctx context.Context, id string, rev Revision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.requests[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Revision() != rev {
		return ErrStale
	}
	delete(l.requests, id)
	return nil
}

func (l *MemoryLedger) ListByState(ctx context.Context, state State) ([]Request, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Request, 0)
	for _, req := range l.requests {
		if req.State == state {
			result = append(result, req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
