package db

import (
	"testing"
)

// NewTestSessionDB creates a migrated in-memory session database that is
// closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    sdb := db.NewTestSessionDB(t)
//	    // use sdb...
//	}
func NewTestSessionDB(t testing.TB) *SessionDB {
	t.Helper()

	sdb, err := OpenSessionDBInMemory()
	if err != nil {
		t.Fatalf("create test session db: %v", err)
	}

	t.Cleanup(func() {
		_ = sdb.Close()
	})

	return sdb
}
