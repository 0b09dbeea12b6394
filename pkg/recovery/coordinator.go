// Package recovery implements the guardian recovery workflow: guardian
// registration, threshold-gated approval, the time lock, and the
// asynchronous credential rotation with its callback.
//
// Every operation validates against the latest committed state before it
// writes anything. The only suspension point is the dispatch inside
// ExecuteRecovery, which runs after the EXECUTING state is committed and the
// coordinator lock is released.
package recovery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-recovery/pkg/audit"
	"github.com/Mindburn-Labs/helm-recovery/pkg/fault"
	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
	"github.com/Mindburn-Labs/helm-recovery/pkg/observability"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/guardians"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/ledger"
)

// ErrNoUpdater is returned by ExecuteRecovery before SetUpdater is called.
var ErrNoUpdater = errors.New("no identity updater configured")

const timeoutReason = "external update timed out"

// Config holds the coordinator's policy knobs.
type Config struct {
	SystemIdentity     identity.AccountRef
	RecoveryPeriod     time.Duration
	MaxPendingDuration time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SystemIdentity:     DefaultSystemIdentity,
		RecoveryPeriod:     DefaultRecoveryPeriod,
		MaxPendingDuration: DefaultMaxPendingDuration,
	}
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithCallbackSigner sets the signer for dispatch callback tokens.
func WithCallbackSigner(s *identity.CallbackSigner) Option {
	return func(c *Coordinator) { c.signer = s }
}

// WithAudit records committed transitions to r.
func WithAudit(r audit.Recorder) Option {
	return func(c *Coordinator) { c.audit = r }
}

// WithObservability sets the tracing and metrics provider.
func WithObservability(p *observability.Provider) Option {
	return func(c *Coordinator) { c.obs = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator orchestrates recovery requests over an injected guardian
// directory and ledger.
type Coordinator struct {
	mu        sync.Mutex
	directory guardians.Directory
	ledger    ledger.Ledger
	updater   IdentityUpdater
	signer    *identity.CallbackSigner
	audit     audit.Recorder
	obs       *observability.Provider
	logger    *slog.Logger
	cfg       Config
	clock     func() time.Time
	newID     func() string

	// handles maps request id to the handle of its in-flight attempt.
	handles map[string]*Handle
}

// NewCoordinator creates a coordinator. Zero values in cfg take defaults.
// Without WithCallbackSigner a signer keyed with random bytes is used, which
// is enough for in-process updaters.
func NewCoordinator(dir guardians.Directory, led ledger.Ledger, cfg Config, opts ...Option) (*Coordinator, error) {
	def := DefaultConfig()
	if cfg.SystemIdentity.IsZero() {
		cfg.SystemIdentity = def.SystemIdentity
	}
	if cfg.RecoveryPeriod <= 0 {
		cfg.RecoveryPeriod = def.RecoveryPeriod
	}
	if cfg.MaxPendingDuration <= 0 {
		cfg.MaxPendingDuration = def.MaxPendingDuration
	}

	c := &Coordinator{
		directory: dir,
		ledger:    led,
		audit:     audit.NopRecorder{},
		obs:       observability.Disabled(),
		logger:    slog.Default().With("component", "recovery"),
		cfg:       cfg,
		clock:     time.Now,
		newID:     func() string { return uuid.New().String() },
		handles:   make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.signer == nil {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate callback secret: %w", err)
		}
		s, err := identity.NewCallbackSigner(secret, "ephemeral")
		if err != nil {
			return nil, err
		}
		c.signer = s
	}
	return c, nil
}

// WithClock overrides the clock for deterministic testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// SetUpdater attaches the identity updater. Updater transports take the
// coordinator as their Deliverer, so this is called after construction.
func (c *Coordinator) SetUpdater(u IdentityUpdater) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updater = u
}

// SystemIdentity returns the only invoker OnExternalUpdateResult accepts.
func (c *Coordinator) SystemIdentity() identity.AccountRef {
	return c.cfg.SystemIdentity
}

// RecoveryPeriod returns the configured time lock.
func (c *Coordinator) RecoveryPeriod() time.Duration {
	return c.cfg.RecoveryPeriod
}

// SetGuardians replaces the caller's guardian set.
func (c *Coordinator) SetGuardians(ctx context.Context, caller identity.AccountRef, list []identity.AccountRef) (err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.set_guardians")
	defer func() { done(err) }()

	set, err := guardians.Normalize(caller, list)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.directory.SetGuardians(ctx, caller, set); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "guardians set", "account", caller, "guardians", len(set))
	c.record(ctx, audit.Event{
		Action:  audit.ActionGuardiansSet,
		Account: string(caller),
		Actor:   string(caller),
		Details: map[string]string{"guardians": strings.Join(identity.Strings(set), ",")},
		At:      c.clock(),
	})
	return nil
}

// GetGuardians returns the account's guardian set, or nil when none is registered.
func (c *Coordinator) GetGuardians(ctx context.Context, account identity.AccountRef) ([]identity.AccountRef, error) {
	return c.directory.GetGuardians(ctx, account)
}

// HasGuardians reports whether account has a registered guardian set.
func (c *Coordinator) HasGuardians(ctx context.Context, account identity.AccountRef) (bool, error) {
	return c.directory.HasGuardians(ctx, account)
}

// InitiateRecovery opens a recovery request for target. Anyone may initiate;
// the target only needs a registered guardian set.
func (c *Coordinator) InitiateRecovery(ctx context.Context, caller, target identity.AccountRef, newCredential string) (id string, err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.initiate")
	defer func() { done(err) }()

	if target.IsZero() {
		return "", fault.Validation("target account is required")
	}
	if strings.TrimSpace(newCredential) == "" {
		return "", fault.Validation("new credential is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.directory.GetGuardians(ctx, target)
	if err != nil {
		return "", fmt.Errorf("load guardians: %w", err)
	}
	if len(set) == 0 {
		return "", fault.NotFound("account %s has no guardian set", target)
	}

	now := c.clock()
	id, err = RequestID(target, newCredential, now)
	if err != nil {
		return "", fmt.Errorf("derive request id: %w", err)
	}

	req := ledger.Request{
		ID:            id,
		Account:       target,
		NewCredential: newCredential,
		Initiator:     caller,
		CreatedAt:     now,
		Threshold:     Threshold(len(set)),
		State:         ledger.StateActive,
		UpdatedAt:     now,
	}
	if err := c.ledger.Create(ctx, req); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "recovery initiated",
		"request_id", id, "account", target, "initiator", caller, "threshold", req.Threshold)
	c.record(ctx, audit.Event{
		Action:    audit.ActionRecoveryInitiated,
		RequestID: id,
		Account:   string(target),
		Actor:     string(caller),
		Details:   map[string]string{"threshold": strconv.Itoa(req.Threshold)},
		At:        now,
	})
	return id, nil
}

// ApproveRecovery adds caller to the request's approvers. Eligibility is
// checked against the target's current guardian set.
func (c *Coordinator) ApproveRecovery(ctx context.Context, caller identity.AccountRef, requestID string) (err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.approve", observability.RequestAttrs(requestID)...)
	defer func() { done(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != ledger.StateActive {
		return fault.Conflict("request %s is %s and no longer accepts approvals", requestID, req.State)
	}

	set, err := c.directory.GetGuardians(ctx, req.Account)
	if err != nil {
		return fmt.Errorf("load guardians: %w", err)
	}
	if !guardians.Contains(set, caller) {
		return fault.Policy("%s is not a guardian of %s", caller, req.Account)
	}
	if req.HasApproved(caller) {
		return fault.Conflict("%s already approved request %s", caller, requestID)
	}

	now := c.clock()
	if err := c.ledger.AddApproval(ctx, requestID, caller, now); err != nil {
		return err
	}

	count := req.ApprovalCount() + 1
	c.logger.InfoContext(ctx, "recovery approved",
		"request_id", requestID, "approver", caller, "approvals", count, "threshold", req.Threshold)
	c.record(ctx, audit.Event{
		Action:    audit.ActionRecoveryApproved,
		RequestID: requestID,
		Account:   string(req.Account),
		Actor:     string(caller),
		Details:   map[string]string{"approvals": strconv.Itoa(count)},
		At:        now,
	})
	return nil
}

// ExecuteRecovery dispatches the credential rotation once the threshold is met
// and the time lock has elapsed. The record stays in the ledger as EXECUTING
// until the callback resolves it; the returned handle resolves at the same
// time. If the updater refuses the dispatch the request becomes
// FAILED_RETRYABLE and the error wraps fault.ErrExternal.
func (c *Coordinator) ExecuteRecovery(ctx context.Context, caller identity.AccountRef, requestID string) (h *Handle, err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.execute", observability.RequestAttrs(requestID)...)
	defer func() { done(err) }()

	upd, dispatch, h, err := c.beginExecution(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}

	if err := upd.RequestUpdate(ctx, dispatch); err != nil {
		c.abortDispatch(context.WithoutCancel(ctx), requestID, dispatch.AttemptID, err)
		return nil, fault.External(err)
	}
	return h, nil
}

func (c *Coordinator) beginExecution(ctx context.Context, caller identity.AccountRef, requestID string) (IdentityUpdater, UpdateRequest, *Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return nil, UpdateRequest{}, nil, err
	}
	switch req.State {
	case ledger.StateExecuting:
		return nil, UpdateRequest{}, nil, fault.Conflict("request %s is already executing", requestID)
	case ledger.StateActive, ledger.StateFailedRetryable:
	default:
		return nil, UpdateRequest{}, nil, fault.Conflict("request %s is %s", requestID, req.State)
	}

	if req.ApprovalCount() < req.Threshold {
		return nil, UpdateRequest{}, nil, fault.Policy("request %s has %d of %d required approvals",
			requestID, req.ApprovalCount(), req.Threshold)
	}
	now := c.clock()
	if unlock := req.CreatedAt.Add(c.cfg.RecoveryPeriod); now.Before(unlock) {
		return nil, UpdateRequest{}, nil, fault.Policy("request %s is time locked until %s",
			requestID, unlock.UTC().Format(time.RFC3339))
	}
	if c.updater == nil {
		return nil, UpdateRequest{}, nil, ErrNoUpdater
	}

	rev := req.Revision()
	req.State = ledger.StateExecuting
	req.AttemptID = c.newID()
	req.Attempts++
	req.DispatchedAt = now
	req.LastError = ""
	req.UpdatedAt = now
	if err := c.ledger.Update(ctx, req, rev); err != nil {
		if errors.Is(err, ledger.ErrStale) {
			return nil, UpdateRequest{}, nil, fault.Conflict("request %s was claimed by another executor", requestID)
		}
		return nil, UpdateRequest{}, nil, err
	}

	h := newHandle(requestID, req.AttemptID)
	c.handles[requestID] = h

	c.logger.InfoContext(ctx, "recovery dispatched",
		"request_id", requestID, "attempt_id", req.AttemptID, "attempt", req.Attempts, "caller", caller)
	c.record(ctx, audit.Event{
		Action:    audit.ActionRecoveryDispatched,
		RequestID: requestID,
		Account:   string(req.Account),
		Actor:     string(caller),
		Details:   map[string]string{"attempt_id": req.AttemptID, "attempt": strconv.Itoa(req.Attempts)},
		At:        now,
	})

	return c.updater, UpdateRequest{
		RequestID:     requestID,
		AttemptID:     req.AttemptID,
		Account:       req.Account,
		NewCredential: req.NewCredential,
		CallbackToken: c.signer.Sign(requestID, req.AttemptID),
	}, h, nil
}

// abortDispatch marks an attempt the updater refused as retryable. ctx must
// outlive the caller's request: a disconnect is a common cause of the refusal.
func (c *Coordinator) abortDispatch(ctx context.Context, requestID, attemptID string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to load refused dispatch",
			"request_id", requestID, "attempt_id", attemptID, "error", err)
		return
	}
	if req.State != ledger.StateExecuting || req.AttemptID != attemptID {
		return
	}
	if err := c.fail(ctx, req, cause.Error(), audit.ActionRecoveryFailed, string(c.cfg.SystemIdentity)); err != nil {
		c.logger.ErrorContext(ctx, "failed to record dispatch rejection", "request_id", requestID, "error", err)
	}
}

// OnExternalUpdateResult resolves an EXECUTING request. Only the system
// identity may invoke it; transports reach it through DeliverResult. A
// result for any attempt other than the current one is rejected as stale.
func (c *Coordinator) OnExternalUpdateResult(ctx context.Context, invoker identity.AccountRef, requestID string, result UpdateResult) (err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.callback", observability.RequestAttrs(requestID)...)
	defer func() { done(err) }()

	if invoker != c.cfg.SystemIdentity {
		return fault.Unauthorized("%s may not deliver update results", invoker)
	}
	if !result.Outcome.Valid() {
		return fault.Validation("unknown outcome %q", result.Outcome)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != ledger.StateExecuting {
		return fault.Conflict("stale result for request %s: state is %s", requestID, req.State)
	}
	if result.AttemptID != req.AttemptID {
		return fault.Conflict("stale result for request %s: attempt %s is not current", requestID, result.AttemptID)
	}

	if result.Outcome == OutcomeFailure {
		reason := result.Reason
		if reason == "" {
			reason = fault.ErrExternal.Error()
		}
		return c.fail(ctx, req, reason, audit.ActionRecoveryFailed, string(invoker))
	}

	if err := c.ledger.Delete(ctx, requestID, req.Revision()); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "recovery completed",
		"request_id", requestID, "account", req.Account, "attempt_id", req.AttemptID)
	c.record(ctx, audit.Event{
		Action:    audit.ActionRecoveryCompleted,
		RequestID: requestID,
		Account:   string(req.Account),
		Actor:     string(invoker),
		Details:   map[string]string{"attempt_id": req.AttemptID},
		At:        c.clock(),
	})
	c.resolve(requestID, req.AttemptID, Resolution{State: ledger.StateCompleted})
	return nil
}

// DeliverResult verifies the callback token for the attempt and resumes the
// coordinator as the system identity.
func (c *Coordinator) DeliverResult(ctx context.Context, requestID, token string, result UpdateResult) error {
	if err := c.signer.Verify(requestID, result.AttemptID, token); err != nil {
		return fault.Unauthorized("callback token rejected for request %s", requestID)
	}
	return c.OnExternalUpdateResult(ctx, c.cfg.SystemIdentity, requestID, result)
}

// fail moves req to FAILED_RETRYABLE. Callers hold c.mu.
func (c *Coordinator) fail(ctx context.Context, req ledger.Request, reason string, action audit.Action, actor string) error {
	now := c.clock()
	rev := req.Revision()
	req.State = ledger.StateFailedRetryable
	req.LastError = reason
	req.UpdatedAt = now
	if err := c.ledger.Update(ctx, req, rev); err != nil {
		return err
	}

	msg := "recovery failed"
	if action == audit.ActionRecoveryReconciled {
		msg = "stale execution reconciled"
	}
	c.logger.WarnContext(ctx, msg,
		"request_id", req.ID, "account", req.Account, "attempt_id", req.AttemptID, "reason", reason)
	c.record(ctx, audit.Event{
		Action:    action,
		RequestID: req.ID,
		Account:   string(req.Account),
		Actor:     actor,
		Details:   map[string]string{"attempt_id": req.AttemptID, "reason": reason},
		At:        now,
	})
	c.resolve(req.ID, req.AttemptID, Resolution{State: ledger.StateFailedRetryable, Reason: reason})
	return nil
}

// ReconcileStale marks EXECUTING requests whose dispatch is older than the
// maximum pending duration as FAILED_RETRYABLE. Late results for those
// attempts are then rejected as stale.
func (c *Coordinator) ReconcileStale(ctx context.Context) (n int, err error) {
	ctx, done := c.obs.TrackOperation(ctx, "recovery.reconcile")
	defer func() { done(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	executing, err := c.ledger.ListByState(ctx, ledger.StateExecuting)
	if err != nil {
		return 0, fmt.Errorf("list executing requests: %w", err)
	}

	now := c.clock()
	for _, req := range executing {
		if now.Sub(req.DispatchedAt) < c.cfg.MaxPendingDuration {
			continue
		}
		if err := c.fail(ctx, req, timeoutReason, audit.ActionRecoveryReconciled, string(c.cfg.SystemIdentity)); err != nil {
			if errors.Is(err, ledger.ErrStale) {
				// resolved elsewhere since the listing
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// GetRecoveryRequest returns the request snapshot, or false if it is not tracked.
func (c *Coordinator) GetRecoveryRequest(ctx context.Context, requestID string) (View, bool, error) {
	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return View{}, false, nil
		}
		return View{}, false, err
	}
	return c.view(req), true, nil
}

// GetApprovalCount returns the number of approvals, 0 if the request is not tracked.
func (c *Coordinator) GetApprovalCount(ctx context.Context, requestID string) (int, error) {
	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return req.ApprovalCount(), nil
}

func (c *Coordinator) view(req ledger.Request) View {
	v := View{
		ID:            req.ID,
		Account:       req.Account,
		Initiator:     req.Initiator,
		CreatedAt:     req.CreatedAt,
		ExecutableAt:  req.CreatedAt.Add(c.cfg.RecoveryPeriod),
		Threshold:     req.Threshold,
		Approvers:     req.Approvers,
		ApprovalCount: req.ApprovalCount(),
		State:         req.State,
		AttemptID:     req.AttemptID,
		Attempts:      req.Attempts,
		LastError:     req.LastError,
		UpdatedAt:     req.UpdatedAt,
	}
	if v.Approvers == nil {
		v.Approvers = []identity.AccountRef{}
	}
	if !req.DispatchedAt.IsZero() {
		t := req.DispatchedAt
		v.DispatchedAt = &t
	}
	// READY_FOR_EXECUTION is evaluated lazily from an ACTIVE record.
	if req.State == ledger.StateActive &&
		req.ApprovalCount() >= req.Threshold &&
		!c.clock().Before(v.ExecutableAt) {
		v.State = ledger.StateReadyForExecution
	}
	return v
}

// resolve completes the handle for attemptID, if one is waiting. Callers hold c.mu.
func (c *Coordinator) resolve(requestID, attemptID string, r Resolution) {
	h, ok := c.handles[requestID]
	if !ok || h.AttemptID != attemptID {
		return
	}
	delete(c.handles, requestID)
	h.resolve(r)
}

// record appends to the audit trail. The transition is already committed, so
// a failed append is logged rather than returned.
func (c *Coordinator) record(ctx context.Context, ev audit.Event) {
	if _, err := c.audit.Append(ctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "audit append failed",
			"action", ev.Action, "request_id", ev.RequestID, "error", err)
	}
}
