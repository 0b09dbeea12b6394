// Package main implements an import boundary linter for the recovery core.
//
// The state machine and its stores must stay independent of transports,
// process configuration and entrypoints so they can be embedded and tested
// on their own.
//
// Usage:
//
//	go run ./tools/boundarycheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()

	violations, err := Check(*root, DefaultRules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	for _, v := range violations {
		fmt.Println("BOUNDARY VIOLATION:", v)
	}
	if len(violations) > 0 {
		fmt.Printf("\n%d boundary violation(s) found\n", len(violations))
		os.Exit(1)
	}
	fmt.Println("boundary check passed")
}
