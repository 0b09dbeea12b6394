package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLLedger_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db)
	now := time.Unix(0, 1_700_000_000_000_000_000).UTC()
	req := newRequest("req-1", now)

	mock.ExpectExec("INSERT INTO recovery_requests").
		WithArgs("req-1", "alice", "cred-1", "alice", now.UnixNano(), 2, "ACTIVE", "", 0, int64(0), "", now.UnixNano()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, l.Create(context.Background(), req))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_CreateConflictDoesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO recovery_requests .* ON CONFLICT \\(id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewSQLLedger(db).Create(context.Background(), newRequest("req-1", time.Now()))
	assert.ErrorIs(t, err, ErrExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AddApprovalRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recovery_requests SET updated_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO recovery_approvals").
		WithArgs("req-1", "bob", sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err = NewSQLLedger(db).AddApproval(context.Background(), "req-1", "bob", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert approval")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_DeleteMissingRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM recovery_approvals").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM recovery_requests").
		WithArgs("req-1", "EXECUTING", "attempt-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM recovery_requests").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectRollback()

	err = NewSQLLedger(db).Delete(context.Background(), "req-1", Revision{State: StateExecuting, AttemptID: "attempt-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_UpdateStaleRevision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	req := newRequest("req-1", time.Unix(0, 1_700_000_000_000_000_000).UTC())
	req.State = StateExecuting
	req.AttemptID = "attempt-2"
	req.Attempts = 1

	mock.ExpectExec("UPDATE recovery_requests .* WHERE id = \\$7 AND state = \\$8 AND attempt_id = \\$9").
		WithArgs("EXECUTING", "attempt-2", 1, int64(0), "", req.UpdatedAt.UnixNano(), "req-1", "ACTIVE", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM recovery_requests").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	err = NewSQLLedger(db).Update(context.Background(), req, Revision{State: StateActive})
	assert.ErrorIs(t, err, ErrStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}
