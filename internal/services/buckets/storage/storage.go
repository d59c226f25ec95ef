// Package storage defines persistence contracts for bucket rows and ID range
// counters.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
)

var (
	// ErrNotFound indicates a requested row is missing.
	ErrNotFound = errors.New("record not found")
	// ErrLockTimeout indicates the counter lock was not acquired within the wait bound.
	ErrLockTimeout = errors.New("counter lock wait elapsed")
	// ErrUnknownNamespace indicates an identifier namespace without a counter table.
	ErrUnknownNamespace = errors.New("unknown id namespace")
)

// BucketRow is one stored root.
type BucketRow struct {
	Scope     domain.Scope
	Key       string
	Value     string
	ExpiresAt *time.Time
}

// Expired reports whether the row's expiration is at or before now.
func (r BucketRow) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// BucketStore persists bucket rows. A Put replaces the whole row.
type BucketStore interface {
	GetBucket(ctx context.Context, scope domain.Scope, key string) (BucketRow, error)
	PutBucket(ctx context.Context, row BucketRow) error
	DeleteBucket(ctx context.Context, scope domain.Scope, key string) error
	DeleteBucketIfExpired(ctx context.Context, scope domain.Scope, key string, now time.Time) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Namespace names one identifier counter.
type Namespace string

const (
	// NamespaceItemSerials issues unique item instance serials.
	NamespaceItemSerials Namespace = "item_serials"
	// NamespaceCharacterInstances issues unique character instance ids.
	NamespaceCharacterInstances Namespace = "character_instances"
)

// Namespaces lists every known identifier namespace.
func Namespaces() []Namespace {
	return []Namespace{NamespaceItemSerials, NamespaceCharacterInstances}
}

// ReserveOptions bounds one counter advance.
type ReserveOptions struct {
	// BlockSize is added to the counter.
	BlockSize int64
	// LockWait bounds the wait for the namespace lock.
	LockWait time.Duration
	// LockLease bounds how long a held lock blocks others if its holder dies.
	LockLease time.Duration
}

// Reservation is the outcome of one counter advance.
type Reservation struct {
	// Start is the counter value before the advance.
	Start int64
	// Provisioned is false when the counter row was missing and nothing advanced.
	Provisioned bool
}

// CounterStore advances per-namespace counters under a storage-level lock.
type CounterStore interface {
	AdvanceCounter(ctx context.Context, namespace Namespace, opts ReserveOptions) (Reservation, error)
	ProvisionCounter(ctx context.Context, namespace Namespace, start int64) error
	PeekCounter(ctx context.Context, namespace Namespace) (int64, error)
}
