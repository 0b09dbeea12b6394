// Package updater contains the transports that carry credential rotations to
// the external identity system and bring its results back to the coordinator.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/recovery"
)

// Local is an in-process identity system of record. Each accepted update is
// applied after Delay on its own goroutine, then reported through the
// Deliverer with the attempt's callback token.
type Local struct {
	deliverer recovery.Deliverer
	logger    *slog.Logger

	mu          sync.Mutex
	delay       time.Duration
	failReason  string
	reject      error
	credentials map[identity.AccountRef]string
	closed      bool
	wg          sync.WaitGroup
}

// NewLocal creates a Local updater reporting to d.
func NewLocal(d recovery.Deliverer) *Local {
	return &Local{
		deliverer:   d,
		logger:      slog.Default().With("component", "updater.local"),
		credentials: make(map[identity.AccountRef]string),
	}
}

// SetDelay sets how long each update takes before its result is delivered.
func (l *Local) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// FailWith makes subsequent updates report FAILURE with reason. An empty
// reason restores success.
func (l *Local) FailWith(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failReason = reason
}

// RejectWith makes RequestUpdate refuse dispatches with err. nil accepts again.
func (l *Local) RejectWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reject = err
}

// Credential returns the credential currently on record for account.
func (l *Local) Credential(account identity.AccountRef) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.credentials[account]
	return c, ok
}

func (l *Local) RequestUpdate(ctx context.Context, req recovery.UpdateRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("local updater closed")
	}
	if l.reject != nil {
		return l.reject
	}

	delay, failReason := l.delay, l.failReason
	l.wg.Add(1)
	go l.apply(req, delay, failReason)
	return nil
}

func (l *Local) apply(req recovery.UpdateRequest, delay time.Duration, failReason string) {
	defer l.wg.Done()
	if delay > 0 {
		time.Sleep(delay)
	}

	result := recovery.UpdateResult{AttemptID: req.AttemptID, Outcome: recovery.OutcomeSuccess}
	if failReason != "" {
		result.Outcome = recovery.OutcomeFailure
		result.Reason = failReason
	} else {
		l.mu.Lock()
		l.credentials[req.Account] = req.NewCredential
		l.mu.Unlock()
	}

	if err := l.deliverer.DeliverResult(context.Background(), req.RequestID, req.CallbackToken, result); err != nil {
		l.logger.Warn("result delivery rejected",
			"request_id", req.RequestID, "attempt_id", req.AttemptID, "error", err)
	}
}

// Wait blocks until every accepted update has been delivered.
func (l *Local) Wait() {
	l.wg.Wait()
}

// Close stops accepting updates and waits for in-flight ones.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
