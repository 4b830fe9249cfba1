package db

import (
	"path/filepath"
	"testing"
)

// OpenTestPool opens a migrated pool in t.TempDir() and closes it on cleanup.
func OpenTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := OpenPool(filepath.Join(t.TempDir(), "test.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	if err := Migrate(p.Write); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return p
}
