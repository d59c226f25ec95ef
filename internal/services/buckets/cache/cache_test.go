package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
)

func ownerScope(t *testing.T, id int64) domain.Scope {
	t.Helper()
	scope, err := domain.OwnerScope(id)
	if err != nil {
		t.Fatalf("owner scope: %v", err)
	}
	return scope
}

func TestLookupMissThenFill(t *testing.T) {
	c := New()
	key := Key{Scope: domain.GlobalScope(), Root: "flags"}

	if _, ok := c.Lookup(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	if _, inserted := c.Fill(key, Negative()); !inserted {
		t.Fatal("expected fill to insert")
	}
	entry, ok := c.Lookup(key)
	if !ok || !entry.Absent {
		t.Fatalf("expected negative entry, got %+v (%v)", entry, ok)
	}

	want := Stats{NegativeHits: 1, Misses: 1, Fills: 1, Entries: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestFillKeepsExistingEntry(t *testing.T) {
	c := New()
	key := Key{Scope: domain.GlobalScope(), Root: "a"}
	c.Put(key, Positive(`{"b":"1"}`, nil))

	kept, inserted := c.Fill(key, Negative())
	if inserted {
		t.Fatal("expected fill to keep the mutation's entry")
	}
	if kept.Absent || kept.Value != `{"b":"1"}` {
		t.Fatalf("fill returned %+v, want the mutation's entry", kept)
	}
	entry, _ := c.Lookup(key)
	if entry.Absent || entry.Value != `{"b":"1"}` {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestPutOnlyTouchesOneRoot(t *testing.T) {
	c := New()
	scope := ownerScope(t, 7)
	a := Key{Scope: scope, Root: "a"}
	b := Key{Scope: scope, Root: "b"}
	globalA := Key{Scope: domain.GlobalScope(), Root: "a"}
	c.Fill(a, Positive("1", nil))
	c.Fill(b, Positive("2", nil))
	c.Fill(globalA, Negative())

	c.Put(a, Negative())

	if entry, _ := c.Lookup(b); entry.Value != "2" {
		t.Fatalf("sibling root changed: %+v", entry)
	}
	if entry, _ := c.Lookup(globalA); !entry.Absent {
		t.Fatalf("other scope changed: %+v", entry)
	}
	if entry, _ := c.Lookup(a); !entry.Absent {
		t.Fatalf("expected negative entry for a, got %+v", entry)
	}
}

func TestForgetDropsOneRoot(t *testing.T) {
	c := New()
	a := Key{Scope: domain.GlobalScope(), Root: "a"}
	b := Key{Scope: domain.GlobalScope(), Root: "b"}
	c.Fill(a, Positive("1", nil))
	c.Fill(b, Positive("2", nil))

	c.Forget(a)
	c.Forget(Key{Root: "never-cached"})

	if _, ok := c.Lookup(a); ok {
		t.Fatal("expected miss after forget")
	}
	if entry, ok := c.Lookup(b); !ok || entry.Value != "2" {
		t.Fatalf("sibling root changed: %+v (%v)", entry, ok)
	}
	if got := c.Stats().Invalidations; got != 1 {
		t.Fatalf("invalidations = %d, want 1", got)
	}
}

func TestResetClearsEverything(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Fill(Key{Root: fmt.Sprintf("k%d", i)}, Negative())
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("len after reset = %d", c.Len())
	}
	if _, ok := c.Lookup(Key{Root: "k0"}); ok {
		t.Fatal("expected miss after reset")
	}
	if c.Stats().Resets != 1 {
		t.Fatalf("resets = %d", c.Stats().Resets)
	}
}

func TestEntryExpiration(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(time.Second)
	entry := Positive("v", &expiresAt)

	if entry.Expired(now) {
		t.Fatal("expected entry live before expiration")
	}
	if !entry.Expired(expiresAt) {
		t.Fatal("expected entry expired at the instant")
	}
	if got := entry.Expiration(); got == nil || !got.Equal(expiresAt) {
		t.Fatalf("Expiration = %v", got)
	}
	if Positive("v", nil).Expired(now.Add(24*time.Hour)) {
		t.Fatal("expected entry without expiration to live")
	}
	if Negative().Expiration() != nil {
		t.Fatal("expected negative entry without expiration")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := Key{Root: fmt.Sprintf("root-%d", i%10)}
				c.Lookup(key)
				c.Fill(key, Negative())
				if i%7 == 0 {
					c.Put(key, Positive(fmt.Sprint(worker), nil))
				}
				if i%50 == 0 {
					c.Reset()
				}
			}
		}(worker)
	}
	wg.Wait()
	if c.Len() > 10 {
		t.Fatalf("len = %d, want at most 10", c.Len())
	}
}
