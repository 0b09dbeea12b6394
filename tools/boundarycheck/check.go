package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Rule forbids non-test files under Dir from importing paths containing any
// of Forbidden.
type Rule struct {
	Dir       string
	Forbidden []string
}

// DefaultRules keep the recovery core free of transports and process wiring.
var DefaultRules = []Rule{
	{Dir: "pkg/store", Forbidden: []string{"pkg/recovery", "pkg/updater", "pkg/config", "/cmd/", "net/http", "go-redis"}},
	{Dir: "pkg/recovery", Forbidden: []string{"pkg/updater", "pkg/config", "/cmd/", "go-redis"}},
	{Dir: "pkg/identity", Forbidden: []string{"pkg/recovery", "pkg/store", "net/http"}},
	{Dir: "pkg/fault", Forbidden: []string{"github.com/"}},
}

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Rule)
}

// Check walks each rule's directory under root and reports forbidden imports.
// Missing directories are skipped.
func Check(root string, rules []Rule) ([]Violation, error) {
	var out []Violation
	fset := token.NewFileSet()

	for _, rule := range rules {
		dir := filepath.Join(root, rule.Dir)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range rule.Forbidden {
					if !strings.Contains(importPath, frag) {
						continue
					}
					rel, _ := filepath.Rel(root, path)
					out = append(out, Violation{
						File:   filepath.ToSlash(rel),
						Line:   fset.Position(imp.Pos()).Line,
						Import: importPath,
						Rule:   frag,
					})
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", rule.Dir, err)
		}
	}
	return out, nil
}
