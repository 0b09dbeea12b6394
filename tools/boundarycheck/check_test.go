package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Repository(t *testing.T) {
	violations, err := Check(filepath.Join("..", ".."), DefaultRules)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheck_ReportsViolation(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pkg", "store", "ledger")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte(`package ledger

import (
	"context"
	"net/http"
)

var _ = context.Background
var _ = http.StatusOK
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_test.go"), []byte(`package ledger

import "net/http"

var _ = http.StatusOK
`), 0o600))

	violations, err := Check(root, DefaultRules)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "pkg/store/ledger/bad.go", violations[0].File)
	assert.Equal(t, 5, violations[0].Line)
	assert.Equal(t, "net/http", violations[0].Import)
}
