package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage/sqlite"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "buckets.db"))
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

func newSQLiteService(t *testing.T, clock *testClock) (*Service, *sqlite.Store) {
	t.Helper()
	store := openSQLiteStore(t)
	return NewService(store, nil, WithClock(clock.Now)), store
}

func mustSet(t *testing.T, b *Buckets, key, value, expiration string) {
	t.Helper()
	written, err := b.SetBucket(context.Background(), key, value, expiration)
	if err != nil {
		t.Fatalf("SetBucket(%q): %v", key, err)
	}
	if !written {
		t.Fatalf("SetBucket(%q, %q) rejected", key, value)
	}
}

func mustGet(t *testing.T, b *Buckets, key string) string {
	t.Helper()
	value, err := b.GetBucket(context.Background(), key)
	if err != nil {
		t.Fatalf("GetBucket(%q): %v", key, err)
	}
	return value
}

func assertGet(t *testing.T, b *Buckets, key, want string) {
	t.Helper()
	if got := mustGet(t, b, key); got != want {
		t.Fatalf("GetBucket(%q) = %q, want %q", key, got, want)
	}
}

type fakeBucketStore struct {
	mu      sync.Mutex
	rows    map[string]storage.BucketRow
	gets    int
	failGet error
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{rows: make(map[string]storage.BucketRow)}
}

func fakeRowKey(scope domain.Scope, key string) string {
	return scope.String() + "/" + key
}

func (s *fakeBucketStore) GetBucket(_ context.Context, scope domain.Scope, key string) (storage.BucketRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failGet != nil {
		return storage.BucketRow{}, s.failGet
	}
	row, ok := s.rows[fakeRowKey(scope, key)]
	if !ok {
		return storage.BucketRow{}, storage.ErrNotFound
	}
	return row, nil
}

func (s *fakeBucketStore) PutBucket(_ context.Context, row storage.BucketRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[fakeRowKey(row.Scope, row.Key)] = row
	return nil
}

func (s *fakeBucketStore) DeleteBucket(_ context.Context, scope domain.Scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, fakeRowKey(scope, key))
	return nil
}

func (s *fakeBucketStore) DeleteBucketIfExpired(_ context.Context, scope domain.Scope, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[fakeRowKey(scope, key)]
	if !ok || !row.Expired(now) {
		return false, nil
	}
	delete(s.rows, fakeRowKey(scope, key))
	return true, nil
}

func (s *fakeBucketStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for name, row := range s.rows {
		if row.Expired(now) {
			delete(s.rows, name)
			purged++
		}
	}
	return purged, nil
}

func (s *fakeBucketStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *fakeBucketStore) row(scope domain.Scope, key string) (storage.BucketRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[fakeRowKey(scope, key)]
	return row, ok
}
