package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
)

func openTempStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return openStoreAt(t, filepath.Join(t.TempDir(), "buckets.db"), opts...)
}

func openStoreAt(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	store, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func ownerScope(t *testing.T, id int64) domain.Scope {
	t.Helper()
	scope, err := domain.OwnerScope(id)
	if err != nil {
		t.Fatalf("owner scope: %v", err)
	}
	return scope
}
