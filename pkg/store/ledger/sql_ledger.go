package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
//
// Timestamps are stored as Unix nanoseconds so both drivers round-trip them
// without timezone or precision loss.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS recovery_requests (
	id TEXT PRIMARY KEY,
	account TEXT NOT NULL,
	new_credential TEXT NOT NULL,
	initiator TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	threshold INTEGER NOT NULL,
	state TEXT NOT NULL,
	attempt_id TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	dispatched_at BIGINT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	updated_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS recovery_approvals (
	request_id TEXT NOT NULL,
	approver TEXT NOT NULL,
	approved_at BIGINT NOT NULL,
	PRIMARY KEY (request_id, approver)
);
CREATE INDEX IF NOT EXISTS idx_recovery_requests_state ON recovery_requests (state);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const selectRequest = `SELECT id, account, new_credential, initiator, created_at, threshold, state,
	attempt_id, attempts, dispatched_at, last_error, updated_at FROM recovery_requests`

func (s *SQLLedger) Create(ctx context.Context, req Request) error {
	query := `
		INSERT INTO recovery_requests (id, account, new_credential, initiator, created_at, threshold, state, attempt_id, attempts, dispatched_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		req.ID, string(req.Account), req.NewCredential, string(req.Initiator),
		toNanos(req.CreatedAt), req.Threshold, string(req.State),
		req.AttemptID, req.Attempts, toNanos(req.DispatchedAt), req.LastError, toNanos(req.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert recovery request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLLedger) Get(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	if req.Approvers, err = s.approvers(ctx, id); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *SQLLedger) AddApproval(ctx context.Context, id string, approver identity.AccountRef, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE recovery_requests SET updated_at = $1 WHERE id = $2 AND state = $3`,
		toNanos(at), id, string(StateActive))
	if err != nil {
		return fmt.Errorf("touch recovery request: %w", err)
	}
	if err := requireRevision(ctx, tx, res, id); err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO recovery_approvals (request_id, approver, approved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, approver) DO NOTHING
	`, id, string(approver), toNanos(at))
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyApproved
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval: %w", err)
	}
	return nil
}

// Update is a compare-and-set on (state, attempt_id) so that concurrent
// writers sharing the database cannot both claim a transition.
func (s *SQLLedger) Update(ctx context.Context, req Request, rev Revision) error {
	query := `
		UPDATE recovery_requests
		SET state = $1, attempt_id = $2, attempts = $3, dispatched_at = $4, last_error = $5, updated_at = $6
		WHERE id = $7 AND state = $8 AND attempt_id = $9
	`
	res, err := s.db.ExecContext(ctx, query,
		string(req.State), req.AttemptID, req.Attempts, toNanos(req.DispatchedAt), req.LastError, toNanos(req.UpdatedAt),
		req.ID, string(rev.State), rev.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("update recovery request: %w", err)
	}
	return requireRevision(ctx, s.db, res, req.ID)
}

func (s *SQLLedger) Delete(ctx context.Context, id string, rev Revision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_approvals WHERE request_id = $1`, id); err != nil {
		return fmt.Errorf("delete approvals: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM recovery_requests WHERE id = $1 AND state = $2 AND attempt_id = $3`,
		id, string(rev.State), rev.AttemptID)
	if err != nil {
		return fmt.Errorf("delete recovery request: %w", err)
	}
	if err := requireRevision(ctx, tx, res, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *SQLLedger) ListByState(ctx context.Context, state State) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` WHERE state = $1 ORDER BY created_at`, string(state))
	if err != nil {
		return nil, err
	}

	result := make([]Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the connection before loading approvers; SQLite runs on one.
	_ = rows.Close()

	for i := range result {
		if result[i].Approvers, err = s.approvers(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLLedger) approvers(ctx context.Context, id string) ([]identity.AccountRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT approver FROM recovery_approvals WHERE request_id = $1 ORDER BY approved_at, approver`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []identity.AccountRef
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, identity.AccountRef(a))
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (Request, error) {
	var (
		req                                Request
		account, initiator, state          string
		createdAt, dispatchedAt, updatedAt int64
	)
	err := row.Scan(&req.ID, &account, &req.NewCredential, &initiator, &createdAt, &req.Threshold, &state,
		&req.AttemptID, &req.Attempts, &dispatchedAt, &req.LastError, &updatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Account = identity.AccountRef(account)
	req.Initiator = identity.AccountRef(initiator)
	req.State = State(state)
	req.CreatedAt = fromNanos(createdAt)
	req.DispatchedAt = fromNanos(dispatchedAt)
	req.UpdatedAt = fromNanos(updatedAt)
	return req, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// requireRevision maps a conditional write that matched no row to
// ErrNotFound or ErrStale.
func requireRevision(ctx context.Context, q queryer, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM recovery_requests WHERE id = $1`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("check recovery request: %w", err)
	}
	return ErrStale
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
