// Package audit implements the append-only, hash-chained trail of recovery
// transitions and its export to object storage.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/canonicalize"
)

// Genesis is the previous hash of the first entry in a chain.
const Genesis = "genesis"

var (
	// ErrChainBroken is returned by VerifyChain when an entry's hash or link
	// does not match its predecessor.
	ErrChainBroken = errors.New("hash chain is broken")
	// ErrHeadContended is returned when concurrent writers keep claiming the
	// next sequence number.
	ErrHeadContended = errors.New("audit chain head contended")
)

// Action names a committed transition.
type Action string

const (
	ActionGuardiansSet       Action = "guardians_set"
	ActionRecoveryInitiated  Action = "recovery_initiated"
	ActionRecoveryApproved   Action = "recovery_approved"
	ActionRecoveryDispatched Action = "recovery_dispatched"
	ActionRecoveryCompleted  Action = "recovery_completed"
	ActionRecoveryFailed     Action = "recovery_failed"
	ActionRecoveryReconciled Action = "recovery_reconciled"
)

// Event is what callers record. Credentials never appear in Details.
type Event struct {
	Action    Action
	RequestID string
	Account   string
	Actor     string
	Details   map[string]string
	At        time.Time
}

// Entry is a single immutable, chained audit record.
type Entry struct {
	ID           string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	Action       Action            `json:"action"`
	RequestID    string            `json:"request_id,omitempty"`
	Account      string            `json:"account,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
}

// Store is an append-only audit log.
type Store interface {
	Append(ctx context.Context, ev Event) (Entry, error)
	// List returns up to limit entries with Sequence > after, in order.
	List(ctx context.Context, after uint64, limit int) ([]Entry, error)
}

// Recorder is the subset of Store the coordinator writes through.
type Recorder interface {
	Append(ctx context.Context, ev Event) (Entry, error)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Append(ctx context.Context, ev Event) (Entry, error) {
	return Entry{}, nil
}

func computeEntryHash(e Entry) (string, error) {
	hashable := struct {
		Sequence     uint64            `json:"sequence"`
		Timestamp    string            `json:"timestamp"`
		Action       Action            `json:"action"`
		RequestID    string            `json:"request_id"`
		Account      string            `json:"account"`
		Actor        string            `json:"actor"`
		Details      map[string]string `json:"details"`
		PreviousHash string            `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:       e.Action,
		RequestID:    e.RequestID,
		Account:      e.Account,
		Actor:        e.Actor,
		Details:      e.Details,
		PreviousHash: e.PreviousHash,
	}
	h, err := canonicalize.CanonicalHash(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to hash audit entry: %w", err)
	}
	return "sha256:" + h, nil
}

// seal fills in the chain fields of e given the previous head.
func seal(e *Entry, seq uint64, prev string) error {
	e.Sequence = seq
	e.PreviousHash = prev
	h, err := computeEntryHash(*e)
	if err != nil {
		return err
	}
	e.EntryHash = h
	return nil
}

// VerifyChain checks that entries link to each other and that every stored
// hash matches its content. An empty anchor trusts the first entry's
// previous hash, which is how a segment exported mid-chain is checked.
func VerifyChain(entries []Entry, anchor string) error {
	if len(entries) == 0 {
		return nil
	}
	expectedPrev := anchor
	if expectedPrev == "" {
		expectedPrev = entries[0].PreviousHash
	}
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, entry.Sequence, entry.PreviousHash, expectedPrev)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, entry.Sequence, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// Verify walks the whole store from genesis.
func Verify(ctx context.Context, s Store) error {
	const page = 500
	var (
		after uint64
		prev  = Genesis
	)
	for {
		entries, err := s.List(ctx, after, page)
		if err != nil {
			return err
		}
		if err := VerifyChain(entries, prev); err != nil {
			return err
		}
		if len(entries) < page {
			return nil
		}
		last := entries[len(entries)-1]
		after, prev = last.Sequence, last.EntryHash
	}
}
