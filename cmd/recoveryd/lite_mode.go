package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/helm-recovery/pkg/audit"
	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/guardians"
	"github.com/Mindburn-Labs/helm-recovery/pkg/store/ledger"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// stores groups the SQL-backed persistence of one process.
type stores struct {
	directory *guardians.SQLDirectory
	ledger    *ledger.SQLLedger
	audit     *audit.SQLStore
}

// openDatabase connects to Postgres when DATABASE_URL is set and falls back
// to SQLite under DATA_DIR otherwise.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if !cfg.LiteMode() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("DB ping failed: %w", err)
		}
		log.Println("[recovery] postgres: connected")
		return db, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "recovery.db")
	log.Printf("[recovery] lite mode: using sqlite at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

func initStores(ctx context.Context, db *sql.DB) (*stores, error) {
	s := &stores{
		directory: guardians.NewSQLDirectory(db),
		ledger:    ledger.NewSQLLedger(db),
		audit:     audit.NewSQLStore(db),
	}
	if err := s.directory.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init guardian directory: %w", err)
	}
	if err := s.ledger.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init recovery ledger: %w", err)
	}
	if err := s.audit.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init audit store: %w", err)
	}
	return s, nil
}
