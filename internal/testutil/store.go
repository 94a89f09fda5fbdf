package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chatterm/internal/credstore"
)

// NewStore opens a real sqlite-backed store in a per-test temp dir
func NewStore(t *testing.T) *credstore.SQLiteStore {
	t.Helper()

	store, err := credstore.NewSQLite(filepath.Join(t.TempDir(), "chatterm.db"))
	require.NoError(t, err, "state store should open in a fresh temp dir")
	t.Cleanup(func() { _ = store.Close() })

	return store
}
