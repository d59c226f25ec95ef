package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
	"github.com/louisbranch/gamebuckets/internal/platform/timeouts"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeCounterStore struct {
	advanceErr  error
	reservation storage.Reservation
	lastOptions storage.ReserveOptions
}

func (s *fakeCounterStore) AdvanceCounter(_ context.Context, _ storage.Namespace, opts storage.ReserveOptions) (storage.Reservation, error) {
	s.lastOptions = opts
	return s.reservation, s.advanceErr
}

func (s *fakeCounterStore) ProvisionCounter(context.Context, storage.Namespace, int64) error {
	return nil
}

func (s *fakeCounterStore) PeekCounter(context.Context, storage.Namespace) (int64, error) {
	return 0, storage.ErrNotFound
}

func TestNewAllocatorDefaults(t *testing.T) {
	counters := &fakeCounterStore{reservation: storage.Reservation{Start: 10, Provisioned: true}}
	allocator, err := NewAllocator(counters, storage.NamespaceItemSerials, AllocatorConfig{})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	if allocator.BlockSize() != DefaultBlockSize {
		t.Fatalf("block size = %d, want %d", allocator.BlockSize(), DefaultBlockSize)
	}
	if _, err := allocator.Reserve(context.Background()); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	want := storage.ReserveOptions{
		BlockSize: DefaultBlockSize,
		LockWait:  timeouts.CounterLockWait,
		LockLease: timeouts.CounterLockLease,
	}
	if counters.lastOptions != want {
		t.Fatalf("options = %+v, want %+v", counters.lastOptions, want)
	}
}

func TestNewAllocatorRejectsUnknownNamespace(t *testing.T) {
	_, err := NewAllocator(&fakeCounterStore{}, storage.Namespace("gold_coins"), AllocatorConfig{})
	if apperrors.CodeOf(err) != apperrors.CodeIDRangeUnknownNamespace {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeIDRangeUnknownNamespace)
	}
}

func TestReserveMapsLockTimeout(t *testing.T) {
	counters := &fakeCounterStore{advanceErr: storage.ErrLockTimeout}
	allocator, err := NewAllocator(counters, storage.NamespaceCharacterInstances, AllocatorConfig{LockWait: time.Second})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	start, err := allocator.Reserve(context.Background())
	if start != 0 {
		t.Fatalf("start = %d, want 0", start)
	}
	if apperrors.CodeOf(err) != apperrors.CodeIDRangeLockTimeout {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeIDRangeLockTimeout)
	}
	if !errors.Is(err, storage.ErrLockTimeout) {
		t.Fatal("expected storage cause in chain")
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Metadata["namespace"] != string(storage.NamespaceCharacterInstances) {
		t.Fatalf("unexpected metadata: %+v", appErr)
	}
}

func TestReservePropagatesStoreFailure(t *testing.T) {
	failure := errors.New("database is closed")
	allocator, err := NewAllocator(&fakeCounterStore{advanceErr: failure}, storage.NamespaceItemSerials, AllocatorConfig{})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	if _, err := allocator.Reserve(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("Reserve err = %v, want %v", err, failure)
	}
}

func TestReserveUnprovisionedWarnsAndReturnsZero(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	allocator, err := NewAllocator(&fakeCounterStore{}, storage.NamespaceItemSerials, AllocatorConfig{}, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	start, err := allocator.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if start != 0 {
		t.Fatalf("start = %d, want 0", start)
	}
	if logs.Len() != 1 {
		t.Fatalf("warnings = %d, want 1", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["namespace"] != string(storage.NamespaceItemSerials) {
		t.Fatalf("log fields = %v", entry.ContextMap())
	}
}

func TestReserveAgainstSQLite(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	ranges, err := NewIDRanges(store, AllocatorConfig{BlockSize: 250})
	if err != nil {
		t.Fatalf("NewIDRanges: %v", err)
	}

	start, err := ranges.ReserveIDRange(ctx, storage.NamespaceItemSerials)
	if err != nil {
		t.Fatalf("ReserveIDRange: %v", err)
	}
	if start != 0 {
		t.Fatalf("unprovisioned start = %d, want 0", start)
	}

	if err := store.ProvisionCounter(ctx, storage.NamespaceItemSerials, 1000); err != nil {
		t.Fatalf("ProvisionCounter: %v", err)
	}
	if err := store.ProvisionCounter(ctx, storage.NamespaceCharacterInstances, 1); err != nil {
		t.Fatalf("ProvisionCounter: %v", err)
	}

	for _, want := range []int64{1000, 1250} {
		got, err := ranges.ReserveIDRange(ctx, storage.NamespaceItemSerials)
		if err != nil {
			t.Fatalf("ReserveIDRange: %v", err)
		}
		if got != want {
			t.Fatalf("item serial start = %d, want %d", got, want)
		}
	}
	got, err := ranges.ReserveIDRange(ctx, storage.NamespaceCharacterInstances)
	if err != nil {
		t.Fatalf("ReserveIDRange: %v", err)
	}
	if got != 1 {
		t.Fatalf("character instance start = %d, want 1", got)
	}

	if _, err := ranges.ReserveIDRange(ctx, storage.Namespace("unknown")); apperrors.CodeOf(err) != apperrors.CodeIDRangeUnknownNamespace {
		t.Fatalf("code = %q, want %q", apperrors.CodeOf(err), apperrors.CodeIDRangeUnknownNamespace)
	}
}

func TestConcurrentReservationsAreDisjoint(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	if err := store.ProvisionCounter(ctx, storage.NamespaceCharacterInstances, 1000); err != nil {
		t.Fatalf("ProvisionCounter: %v", err)
	}
	allocator, err := NewAllocator(store, storage.NamespaceCharacterInstances, AllocatorConfig{BlockSize: 50, LockWait: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	const callers = 16
	starts := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start, err := allocator.Reserve(ctx)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			starts[i] = start
		}(i)
	}
	wg.Wait()

	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for i, start := range starts {
		if want := 1000 + int64(i)*50; start != want {
			t.Fatalf("starts = %v, want progression from 1000 step 50", starts)
		}
	}
}
