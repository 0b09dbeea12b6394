package guardians

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/helm-recovery/pkg/identity"
)

// SQLDirectory implements Directory using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS guardian_sets (
	account TEXT NOT NULL,
	guardian TEXT NOT NULL,
	PRIMARY KEY (account, guardian)
);
`

func (d *SQLDirectory) Init(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// SetGuardians deletes the previous set and inserts the new one in a single
// transaction; readers never observe a partial set.
func (d *SQLDirectory) SetGuardians(ctx context.Context, owner identity.AccountRef, guardians []identity.AccountRef) error {
	set, err := Normalize(owner, guardians)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin guardian update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM guardian_sets WHERE account = $1`, string(owner)); err != nil {
		return fmt.Errorf("clear guardian set: %w", err)
	}
	for _, g := range set {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guardian_sets (account, guardian) VALUES ($1, $2)`,
			string(owner), string(g),
		); err != nil {
			return fmt.Errorf("insert guardian: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit guardian update: %w", err)
	}
	return nil
}

func (d *SQLDirectory) GetGuardians(ctx context.Context, owner identity.AccountRef) ([]identity.AccountRef, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT guardian FROM guardian_sets WHERE account = $1 ORDER BY guardian`,
		string(owner),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []identity.AccountRef
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, identity.AccountRef(g))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *SQLDirectory) HasGuardians(ctx context.Context, owner identity.AccountRef) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guardian_sets WHERE account = $1`,
		string(owner),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
