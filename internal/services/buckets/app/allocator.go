package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
	applog "github.com/louisbranch/gamebuckets/internal/platform/log"
	"github.com/louisbranch/gamebuckets/internal/platform/timeouts"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultBlockSize is the number of identifiers one reservation covers.
const DefaultBlockSize int64 = 1000

// AllocatorConfig controls reservations for one namespace.
type AllocatorConfig struct {
	BlockSize int64
	LockWait  time.Duration
	LockLease time.Duration
}

func (c AllocatorConfig) normalized() AllocatorConfig {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.LockWait <= 0 {
		c.LockWait = timeouts.CounterLockWait
	}
	if c.LockLease <= 0 {
		c.LockLease = timeouts.CounterLockLease
	}
	return c
}

// Allocator hands out disjoint blocks of identifiers from one namespace.
type Allocator struct {
	counters  storage.CounterStore
	namespace storage.Namespace
	config    AllocatorConfig
	opts      options
}

// NewAllocator returns an Allocator for namespace. Zero config fields take
// their defaults.
func NewAllocator(counters storage.CounterStore, namespace storage.Namespace, config AllocatorConfig, opts ...Option) (*Allocator, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if !knownNamespace(namespace) {
		return nil, unknownNamespaceError(namespace, nil)
	}
	return &Allocator{
		counters:  counters,
		namespace: namespace,
		config:    config.normalized(),
		opts:      newOptions(opts),
	}, nil
}

// Namespace returns the identifier namespace.
func (a *Allocator) Namespace() storage.Namespace {
	return a.namespace
}

// BlockSize returns the number of identifiers per reservation.
func (a *Allocator) BlockSize() int64 {
	return a.config.BlockSize
}

// Reserve claims the next block and returns its first identifier; the caller
// owns [start, start+BlockSize). An unprovisioned counter yields 0.
func (a *Allocator) Reserve(ctx context.Context) (start int64, err error) {
	ctx, span := a.opts.tracer.Start(ctx, "buckets.Reserve", trace.WithAttributes(
		attribute.String("id_range.namespace", string(a.namespace)),
		attribute.Int64("id_range.block_size", a.config.BlockSize),
	))
	defer func() {
		span.SetAttributes(attribute.Int64("id_range.start", start))
		endSpan(span, err)
	}()
	logger := applog.WithContext(ctx, a.opts.logger).With(
		zap.String("operation", "Reserve"),
		zap.String("namespace", string(a.namespace)),
	)

	reservation, err := a.counters.AdvanceCounter(ctx, a.namespace, storage.ReserveOptions{
		BlockSize: a.config.BlockSize,
		LockWait:  a.config.LockWait,
		LockLease: a.config.LockLease,
	})
	switch {
	case errors.Is(err, storage.ErrLockTimeout):
		return 0, apperrors.WrapWithMetadata(
			apperrors.CodeIDRangeLockTimeout,
			"id range lock wait elapsed",
			map[string]string{"namespace": string(a.namespace), "wait": a.config.LockWait.String()},
			err,
		)
	case errors.Is(err, storage.ErrUnknownNamespace):
		return 0, unknownNamespaceError(a.namespace, err)
	case err != nil:
		return 0, fmt.Errorf("reserve %s id range: %w", a.namespace, err)
	}

	if !reservation.Provisioned {
		logger.Warn("id counter is not provisioned, returning 0")
		return 0, nil
	}
	logger.Debug("reserved id range",
		zap.Int64("start", reservation.Start),
		zap.Int64("block_size", a.config.BlockSize),
	)
	return reservation.Start, nil
}

// IDRanges holds one Allocator per identifier namespace.
type IDRanges struct {
	allocators map[storage.Namespace]*Allocator
}

// NewIDRanges builds allocators for every known namespace sharing config.
func NewIDRanges(counters storage.CounterStore, config AllocatorConfig, opts ...Option) (*IDRanges, error) {
	ranges := &IDRanges{allocators: make(map[storage.Namespace]*Allocator)}
	for _, namespace := range storage.Namespaces() {
		allocator, err := NewAllocator(counters, namespace, config, opts...)
		if err != nil {
			return nil, err
		}
		ranges.allocators[namespace] = allocator
	}
	return ranges, nil
}

// Allocator returns the allocator for namespace.
func (r *IDRanges) Allocator(namespace storage.Namespace) (*Allocator, bool) {
	allocator, ok := r.allocators[namespace]
	return allocator, ok
}

// ReserveIDRange reserves the next block in namespace.
func (r *IDRanges) ReserveIDRange(ctx context.Context, namespace storage.Namespace) (int64, error) {
	allocator, ok := r.Allocator(namespace)
	if !ok {
		return 0, unknownNamespaceError(namespace, nil)
	}
	return allocator.Reserve(ctx)
}

func knownNamespace(namespace storage.Namespace) bool {
	for _, known := range storage.Namespaces() {
		if namespace == known {
			return true
		}
	}
	return false
}

func unknownNamespaceError(namespace storage.Namespace, cause error) error {
	return apperrors.WrapWithMetadata(
		apperrors.CodeIDRangeUnknownNamespace,
		"unknown id namespace",
		map[string]string{"namespace": string(namespace)},
		cause,
	)
}
