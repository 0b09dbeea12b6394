package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/audit"
	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
)

// runArchiveCmd exports the audit trail after --after to the configured
// archive bucket, or to stdout with --dry-run.
func runArchiveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("archive-audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		after  uint64
		dryRun bool
	)
	cmd.Uint64Var(&after, "after", 0, "Export entries with a sequence greater than this")
	cmd.BoolVar(&dryRun, "dry-run", false, "Write JSON Lines to stdout instead of the archive")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	store := audit.NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if dryRun {
		body, res, err := audit.ExportJSONL(ctx, store, after)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = stdout.Write(body)
		_, _ = fmt.Fprintf(stderr, "exported %d entries\n", res.Count)
		return 0
	}

	sink, err := audit.NewSink(ctx, audit.SinkConfig{
		Backend:  cfg.Archive.Backend,
		Bucket:   cfg.Archive.Bucket,
		Region:   cfg.Archive.Region,
		Endpoint: cfg.Archive.Endpoint,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if c, ok := sink.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	res, err := audit.Archive(ctx, store, sink, cfg.Archive.Prefix, after)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	data, _ := json.MarshalIndent(res, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
