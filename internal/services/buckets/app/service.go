package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	applog "github.com/louisbranch/gamebuckets/internal/platform/log"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/cache"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service is the bucket document store.
//
// Mutations of the same root from concurrent callers are not serialized
// here; the last row write to complete wins.
type Service struct {
	store  storage.BucketStore
	cache  *cache.Cache
	opts   options
	loads  singleflight.Group
	logger *zap.Logger
}

// NewService returns a Service over store. A nil cache gets a fresh one.
func NewService(store storage.BucketStore, c *cache.Cache, opts ...Option) *Service {
	if c == nil {
		c = cache.New()
	}
	o := newOptions(opts)
	return &Service{
		store:  store,
		cache:  c,
		opts:   o,
		logger: o.logger.With(zap.String("component", "buckets")),
	}
}

// Get returns the value at key: raw text for a Scalar, compact JSON for an
// Object, and "" when anything along the path is absent or expired.
func (s *Service) Get(ctx context.Context, scope domain.Scope, rawKey string) (value string, err error) {
	key, err := domain.ParseKey(rawKey)
	if err != nil {
		return "", err
	}
	ctx, span := s.startSpan(ctx, "buckets.Get", scope, key)
	defer func() { endSpan(span, err) }()

	entry, err := s.loadRoot(ctx, scope, key.Root)
	if err != nil {
		return "", err
	}
	if entry.Absent {
		return "", nil
	}

	node, ok := domain.ParseValue(entry.Value).Lookup(key.Path)
	if !ok {
		return "", nil
	}
	return node.Encode()
}

// Set writes value at key. It returns false, with no state change, when the
// write would replace a child-bearing Object with a Scalar. expiresAt only
// applies to root-only keys; nested writes keep the root's expiration.
func (s *Service) Set(ctx context.Context, scope domain.Scope, rawKey, value string, expiresAt *time.Time) (written bool, err error) {
	key, err := domain.ParseKey(rawKey)
	if err != nil {
		return false, err
	}
	ctx, span := s.startSpan(ctx, "buckets.Set", scope, key)
	defer func() {
		span.SetAttributes(attribute.Bool("bucket.written", written))
		endSpan(span, err)
	}()
	logger := s.operationLogger(ctx, "Set", scope, key)
	if err := domain.ValidateValue(key, value); err != nil {
		return false, err
	}

	entry, err := s.loadRoot(ctx, scope, key.Root)
	if err != nil {
		return false, err
	}
	incoming := domain.ParseValue(value)

	var updated *domain.Node
	var rowExpiresAt *time.Time
	if key.IsRoot() {
		if !entry.Absent && domain.ParseValue(entry.Value).Protects(incoming) {
			logger.Warn("rejected scalar over object")
			return false, nil
		}
		updated = incoming
		rowExpiresAt = expiresAt
	} else {
		updated = domain.NewObject()
		if !entry.Absent {
			if current := domain.ParseValue(entry.Value); current.IsObject() {
				updated = current
			} else {
				logger.Debug("replacing scalar root with object")
			}
		}
		if !updated.Assign(key.Path, incoming) {
			logger.Warn("rejected scalar over object")
			return false, nil
		}
		rowExpiresAt = entry.Expiration()
	}

	stored, err := updated.Encode()
	if err != nil {
		return false, err
	}
	if err := s.store.PutBucket(ctx, storage.BucketRow{
		Scope:     scope,
		Key:       key.Root,
		Value:     stored,
		ExpiresAt: rowExpiresAt,
	}); err != nil {
		return false, fmt.Errorf("set bucket %s: %w", key, err)
	}
	s.cache.Put(cache.Key{Scope: scope, Root: key.Root}, cache.Positive(stored, rowExpiresAt))
	logger.Debug("bucket written")
	return true, nil
}

// Delete removes key. Deleting a root drops its row; deleting a nested key
// rewrites the root without it, keeping siblings. Missing targets are a
// no-op. A root left with no keys is dropped.
func (s *Service) Delete(ctx context.Context, scope domain.Scope, rawKey string) (err error) {
	key, err := domain.ParseKey(rawKey)
	if err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "buckets.Delete", scope, key)
	defer func() { endSpan(span, err) }()
	logger := s.operationLogger(ctx, "Delete", scope, key)
	cacheKey := cache.Key{Scope: scope, Root: key.Root}

	if key.IsRoot() {
		if err := s.store.DeleteBucket(ctx, scope, key.Root); err != nil {
			return fmt.Errorf("delete bucket %s: %w", key, err)
		}
		s.cache.Put(cacheKey, cache.Negative())
		logger.Debug("bucket deleted")
		return nil
	}

	entry, err := s.loadRoot(ctx, scope, key.Root)
	if err != nil {
		return err
	}
	if entry.Absent {
		return nil
	}
	root := domain.ParseValue(entry.Value)
	if !root.Remove(key.Path) {
		return nil
	}

	if root.Len() == 0 {
		if err := s.store.DeleteBucket(ctx, scope, key.Root); err != nil {
			return fmt.Errorf("delete bucket %s: %w", key, err)
		}
		s.cache.Put(cacheKey, cache.Negative())
		logger.Debug("last nested key deleted, root dropped")
		return nil
	}

	stored, err := root.Encode()
	if err != nil {
		return err
	}
	expiresAt := entry.Expiration()
	if err := s.store.PutBucket(ctx, storage.BucketRow{
		Scope:     scope,
		Key:       key.Root,
		Value:     stored,
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("delete bucket %s: %w", key, err)
	}
	s.cache.Put(cacheKey, cache.Positive(stored, expiresAt))
	logger.Debug("nested key deleted")
	return nil
}

// ClearCache drops every cached root. Persisted rows are untouched.
func (s *Service) ClearCache() {
	s.cache.Reset()
	s.logger.Info("bucket cache cleared")
}

// CacheStats reports cache activity.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// PurgeExpired deletes every expired row and clears the cache, whose
// positive entries may point at purged rows.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	purged, err := s.store.PurgeExpired(ctx, s.opts.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired buckets: %w", err)
	}
	if purged > 0 {
		s.cache.Reset()
	}
	return purged, nil
}

// loadRoot returns the cached or stored entry for (scope, root), applying
// lazy expiry. Concurrent misses for the same root share one store read.
func (s *Service) loadRoot(ctx context.Context, scope domain.Scope, root string) (cache.Entry, error) {
	cacheKey := cache.Key{Scope: scope, Root: root}
	now := s.opts.now()
	if entry, ok := s.cache.Lookup(cacheKey); ok {
		if entry.Expired(now) {
			return s.expire(ctx, cacheKey, now)
		}
		return entry, nil
	}

	loaded, err, _ := s.loads.Do(scope.String()+"\x00"+root, func() (any, error) {
		row, err := s.store.GetBucket(ctx, scope, root)
		if errors.Is(err, storage.ErrNotFound) {
			entry, _ := s.cache.Fill(cacheKey, cache.Negative())
			return entry, nil
		}
		if err != nil {
			return cache.Entry{}, fmt.Errorf("load bucket %s: %w", root, err)
		}
		if row.Expired(now) {
			return s.expire(ctx, cacheKey, now)
		}
		entry, _ := s.cache.Fill(cacheKey, cache.Positive(row.Value, row.ExpiresAt))
		return entry, nil
	})
	if err != nil {
		return cache.Entry{}, err
	}
	return loaded.(cache.Entry), nil
}

// expire deletes an expired root and records its absence. When the row was
// rewritten in the meantime the fresh row is cached instead.
func (s *Service) expire(ctx context.Context, cacheKey cache.Key, now time.Time) (cache.Entry, error) {
	deleted, err := s.store.DeleteBucketIfExpired(ctx, cacheKey.Scope, cacheKey.Root, now)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("expire bucket %s: %w", cacheKey.Root, err)
	}
	if deleted {
		applog.WithContext(ctx, s.logger).Info("expired bucket deleted",
			zap.String("scope", cacheKey.Scope.String()),
			zap.String("root", cacheKey.Root),
		)
		s.cache.Put(cacheKey, cache.Negative())
		return cache.Negative(), nil
	}

	row, err := s.store.GetBucket(ctx, cacheKey.Scope, cacheKey.Root)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.cache.Put(cacheKey, cache.Negative())
		return cache.Negative(), nil
	case err != nil:
		return cache.Entry{}, fmt.Errorf("reload bucket %s: %w", cacheKey.Root, err)
	case row.Expired(now):
		// another caller is mid-rewrite; report absent and reload next time
		s.cache.Forget(cacheKey)
		return cache.Negative(), nil
	}
	entry := cache.Positive(row.Value, row.ExpiresAt)
	s.cache.Put(cacheKey, entry)
	return entry, nil
}

// operationLogger prefers a logger carried by ctx over the service logger.
func (s *Service) operationLogger(ctx context.Context, operation string, scope domain.Scope, key domain.Key) *zap.Logger {
	logger, _ := applog.LoggerFromContext(ctx, s.logger)
	return applog.WithContext(ctx, logger).With(
		zap.String("operation", operation),
		zap.String("scope", scope.String()),
		zap.String("key", key.String()),
	)
}

func (s *Service) startSpan(ctx context.Context, name string, scope domain.Scope, key domain.Key) (context.Context, trace.Span) {
	return s.opts.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("bucket.root", key.Root),
		attribute.Int("bucket.depth", key.Depth()),
		attribute.Bool("bucket.scoped", !scope.IsGlobal()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}
