package app

import (
	"context"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
)

// Buckets is the bucket API bound to one scope.
type Buckets struct {
	service *Service
	scope   domain.Scope
}

// Global returns the API for the shared namespace.
func (s *Service) Global() *Buckets {
	return &Buckets{service: s, scope: domain.GlobalScope()}
}

// ForOwner returns the API isolated to one owner, such as a character.
func (s *Service) ForOwner(ownerID int64) (*Buckets, error) {
	scope, err := domain.OwnerScope(ownerID)
	if err != nil {
		return nil, err
	}
	return &Buckets{service: s, scope: scope}, nil
}

// Scope returns the bound scope.
func (b *Buckets) Scope() domain.Scope {
	return b.scope
}

// GetBucket returns the value at key, or "" when absent.
func (b *Buckets) GetBucket(ctx context.Context, key string) (string, error) {
	return b.service.Get(ctx, b.scope, key)
}

// SetBucket writes value at key. expiration is a duration code such as
// "20 seconds"; empty means the bucket does not expire.
func (b *Buckets) SetBucket(ctx context.Context, key, value, expiration string) (bool, error) {
	expiresAt, err := domain.ParseExpiration(expiration, b.service.opts.now())
	if err != nil {
		return false, err
	}
	return b.service.Set(ctx, b.scope, key, value, expiresAt)
}

// DeleteBucket removes key. It reports true once the delete has been applied,
// including when nothing was stored.
func (b *Buckets) DeleteBucket(ctx context.Context, key string) (bool, error) {
	if err := b.service.Delete(ctx, b.scope, key); err != nil {
		return false, err
	}
	return true, nil
}

// ClearCache drops every cached root across all scopes.
func (b *Buckets) ClearCache() {
	b.service.ClearCache()
}
