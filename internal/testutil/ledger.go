package testutil

import (
	"path/filepath"
	"testing"

	"github.com/fieldhouse/reserve/internal/ledger"
)

// NewTestLedger creates a temporary SQLite ledger with migrations applied.
func NewTestLedger(t *testing.T) *ledger.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatalf("create test ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
