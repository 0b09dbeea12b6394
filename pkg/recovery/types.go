package recovery

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/ledger"
)

// DefaultRecoveryPeriod is the time lock between initiation and execution.
const DefaultRecoveryPeriod = 7 * 24 * time.Hour

// DefaultMaxPendingDuration bounds how long a dispatch may stay unanswered
// before ReconcileStale marks it retryable.
const DefaultMaxPendingDuration = 24 * time.Hour

// DefaultSystemIdentity is the invoker the callback entry point accepts.
const DefaultSystemIdentity identity.AccountRef = "system:recovery-coordinator"

// Threshold returns the approvals required for a guardian set of size n.
func Threshold(n int) int {
	return n/2 + 1
}

// RequestID derives the request identifier from the target account, the new
// credential and the creation time. The timestamp is hashed as a decimal
// string so nanosecond precision survives canonical JSON.
func RequestID(account identity.AccountRef, credential string, at time.Time) (string, error) {
	return canonicalize.CanonicalHash(struct {
		Account    string `json:"account"`
		Credential string `json:"credential"`
		Timestamp  string `json:"timestamp"`
	}{
		Account:    string(account),
		Credential: credential,
		Timestamp:  strconv.FormatInt(at.UnixNano(), 10),
	})
}

// Outcome is the terminal result reported by the identity updater.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// UpdateRequest is one dispatch to the external identity updater.
type UpdateRequest struct {
	RequestID     string              `json:"request_id"`
	AttemptID     string              `json:"attempt_id"`
	Account       identity.AccountRef `json:"account"`
	NewCredential string              `json:"new_credential"`
	// CallbackToken must accompany the result for this attempt.
	CallbackToken string `json:"callback_token"`
}

// UpdateResult is the updater's answer for one attempt.
type UpdateResult struct {
	AttemptID string  `json:"attempt_id"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
}

// IdentityUpdater performs the credential rotation in the external system of
// record. A nil error means the request was accepted and exactly one result
// will later reach the coordinator; an error means nothing was dispatched.
type IdentityUpdater interface {
	RequestUpdate(ctx context.Context, req UpdateRequest) error
}

// Deliverer accepts results from updater transports. Implementations verify
// the callback token before resuming as the system identity.
type Deliverer interface {
	DeliverResult(ctx context.Context, requestID, token string, result UpdateResult) error
}

// View is the read snapshot of a request. The new credential is never exposed.
type View struct {
	ID            string                `json:"id"`
	Account       identity.AccountRef   `json:"account"`
	Initiator     identity.AccountRef   `json:"initiator"`
	CreatedAt     time.Time             `json:"created_at"`
	ExecutableAt  time.Time             `json:"executable_at"`
	Threshold     int                   `json:"threshold"`
	Approvers     []identity.AccountRef `json:"approvers"`
	ApprovalCount int                   `json:"approval_count"`
	State         ledger.State          `json:"state"`
	AttemptID     string                `json:"attempt_id,omitempty"`
	Attempts      int                   `json:"attempts"`
	DispatchedAt  *time.Time            `json:"dispatched_at,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Resolution is how a dispatch attempt ended.
type Resolution struct {
	State  ledger.State `json:"state"`
	Reason string       `json:"reason,omitempty"`
}

// Handle tracks one dispatch attempt until its callback lands.
type Handle struct {
	RequestID string
	AttemptID string

	once   sync.Once
	done   chan struct{}
	result Resolution
}

func newHandle(requestID, attemptID string) *Handle {
	return &Handle{
		RequestID: requestID,
		AttemptID: attemptID,
		done:      make(chan struct{}),
	}
}

func (h *Handle) resolve(r Resolution) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

// Done is closed once the attempt reaches COMPLETED or FAILED_RETRYABLE.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the attempt resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}
