// Package ledger stores recovery requests and their approver sets.
package ledger

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// Ledger is the durable store for recovery requests.
type Ledger interface {
	// Create persists a new request. It returns ErrExists if the id is tracked.
	Create(ctx context.Context, req Request) error

	// Get retrieves a request with its approvers in approval order.
	Get(ctx context.Context, id string) (Request, error)

	// AddApproval records approver on an ACTIVE request. It returns ErrStale
	// if the request has left ACTIVE.
	AddApproval(ctx context.Context, id string, approver identity.AccountRef, at time.Time) error

	// Update writes the lifecycle and dispatch fields of req if the stored
	// request is still at rev. It returns ErrStale otherwise.
	Update(ctx context.Context, req Request, rev Revision) error

	// Delete removes the request and its approvals if it is still at rev.
	Delete(ctx context.Context, id string, rev Revision) error

	// ListByState returns every request persisted in state.
	ListByState(ctx context.Context, state State) ([]Request, error)
}
