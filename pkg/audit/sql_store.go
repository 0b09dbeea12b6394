package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// SQLStore persists the chain in the recovery_audit table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS recovery_audit (
	seq BIGINT PRIMARY KEY,
	entry_id TEXT NOT NULL,
	ts BIGINT NOT NULL,
	action TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	account TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '{}',
	previous_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// maxAppendAttempts bounds retries when another writer takes the next
// sequence number first.
const maxAppendAttempts = 5

func (s *SQLStore) Append(ctx context.Context, ev Event) (Entry, error) {
	entry := newEntry(ev)
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to serialize details: %w", err)
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		ok, err := s.tryAppend(ctx, &entry, string(details))
		if err != nil {
			return Entry{}, err
		}
		if ok {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("append audit entry: %w", ErrHeadContended)
}

// tryAppend links entry to the current head. It reports false when the
// sequence number was claimed concurrently.
func (s *SQLStore) tryAppend(ctx context.Context, entry *Entry, details string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq  uint64
		prev = Genesis
	)
	err = tx.QueryRowContext(ctx, `SELECT seq, entry_hash FROM recovery_audit ORDER BY seq DESC LIMIT 1`).Scan(&seq, &prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read chain head: %w", err)
	}

	if err := seal(entry, seq+1, prev); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO recovery_audit (seq, entry_id, ts, action, request_id, account, actor, details, previous_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (seq) DO NOTHING
	`, int64(entry.Sequence), entry.ID, entry.Timestamp.UnixNano(), string(entry.Action),
		entry.RequestID, entry.Account, entry.Actor, details, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return false, fmt.Errorf("insert audit entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit audit entry: %w", err)
	}
	return true, nil
}

func (s *SQLStore) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, entry_id, ts, action, request_id, account, actor, details, previous_hash, entry_hash
		FROM recovery_audit WHERE seq > $1 ORDER BY seq LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			seq, ts int64
			action  string
			details string
		)
		if err := rows.Scan(&seq, &e.ID, &ts, &action, &e.RequestID, &e.Account, &e.Actor, &details, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Action = Action(action)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode details of entry %d: %w", seq, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
