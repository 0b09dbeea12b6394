package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "archive-audit":
		return runArchiveCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "recoveryd: guardian-based account recovery")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  recoveryd <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	printCommand(w, "serve", "Run the recovery server (default)")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "token", "Mint a development bearer token (--sub, --ttl)")
	printCommand(w, "archive-audit", "Export the audit trail to S3/GCS (--after, --dry-run)")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + cfg.HealthPort + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
