package ledger

import (
	"slices"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/fault"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

var (
	// ErrNotFound is returned when no request is tracked under an id.
	ErrNotFound = fault.NotFound("recovery request")
	// ErrExists is returned by Create when the id is already tracked.
	ErrExists = fault.Conflict("recovery request id already tracked")
	// ErrAlreadyApproved is returned when the approver is already recorded.
	ErrAlreadyApproved = fault.Conflict("approval already recorded")
	// ErrStale is returned when a write's expected revision no longer matches
	// the stored request.
	ErrStale = fault.Conflict("recovery request changed concurrently")
)

// State represents the lifecycle of a recovery request.
type State string

const (
	StateActive            State = "ACTIVE"
	StateReadyForExecution State = "READY_FOR_EXECUTION"
	StateExecuting         State = "EXECUTING"
	StateCompleted         State = "COMPLETED"
	StateFailedRetryable   State = "FAILED_RETRYABLE"
)

// Stored reports whether s is persisted as-is. READY_FOR_EXECUTION is derived
// from an ACTIVE record on read, and COMPLETED records are removed.
func (s State) Stored() bool {
	switch s {
	case StateActive, StateExecuting, StateFailedRetryable:
		return true
	}
	return false
}

// Request is a recovery proposal for one account.
type Request struct {
	ID            string              `json:"id"`
	Account       identity.AccountRef `json:"account"`
	NewCredential string              `json:"-"`
	Initiator     identity.AccountRef `json:"initiator"`
	CreatedAt     time.Time           `json:"created_at"`

	// Threshold is fixed when the request is created.
	Threshold int                   `json:"threshold"`
	Approvers []identity.AccountRef `json:"approvers"`
	State     State                 `json:"state"`

	// Dispatch bookkeeping
	AttemptID    string    `json:"attempt_id,omitempty"`
	Attempts     int       `json:"attempts"`
	DispatchedAt time.Time `json:"dispatched_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalCount returns the number of distinct approvers.
func (r Request) ApprovalCount() int {
	return len(r.Approvers)
}

// HasApproved reports whether a is already an approver.
func (r Request) HasApproved(a identity.AccountRef) bool {
	return slices.Contains(r.Approvers, a)
}

// Revision identifies the lifecycle position a write was computed from.
type Revision struct {
	State     State
	AttemptID string
}

// Revision returns the stored lifecycle position of r.
func (r Request) Revision() Revision {
	return Revision{State: r.State, AttemptID: r.AttemptID}
}

// Clone returns a copy that shares no slices with r.
func (r Request) Clone() Request {
	r.Approvers = slices.Clone(r.Approvers)
	return r
}
