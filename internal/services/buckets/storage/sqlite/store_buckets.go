package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"go.uber.org/zap"
)

// GetBucket returns the row stored for (scope, key), expired or not.
func (s *Store) GetBucket(ctx context.Context, scope domain.Scope, key string) (storage.BucketRow, error) {
	if err := s.ready(ctx); err != nil {
		return storage.BucketRow{}, err
	}
	if strings.TrimSpace(key) == "" {
		return storage.BucketRow{}, fmt.Errorf("bucket key is required")
	}

	var value string
	var expiresAt sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT value, expires_at
FROM data_buckets
WHERE IFNULL(scope, 0) = ? AND key = ?
`, scopeKey(scope), key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.BucketRow{}, storage.ErrNotFound
		}
		return storage.BucketRow{}, fmt.Errorf("get bucket: %w", err)
	}
	return storage.BucketRow{
		Scope:     scope,
		Key:       key,
		Value:     value,
		ExpiresAt: fromNullMillis(expiresAt),
	}, nil
}

// PutBucket replaces the whole row for (row.Scope, row.Key), value and
// expiration together.
func (s *Store) PutBucket(ctx context.Context, row storage.BucketRow) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(row.Key) == "" {
		return fmt.Errorf("bucket key is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start put bucket transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE data_buckets
SET value = ?, expires_at = ?
WHERE IFNULL(scope, 0) = ? AND key = ?
`, row.Value, toNullMillis(row.ExpiresAt), scopeKey(row.Scope), row.Key)
	if err != nil {
		return fmt.Errorf("update bucket: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bucket rows affected: %w", err)
	}
	if updated == 0 {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO data_buckets (scope, key, value, expires_at)
VALUES (?, ?, ?, ?)
`, scopeColumn(row.Scope), row.Key, row.Value, toNullMillis(row.ExpiresAt)); err != nil {
			return fmt.Errorf("insert bucket: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put bucket: %w", err)
	}
	return nil
}

// DeleteBucket removes the row for (scope, key). A missing row is not an error.
func (s *Store) DeleteBucket(ctx context.Context, scope domain.Scope, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM data_buckets
WHERE IFNULL(scope, 0) = ? AND key = ?
`, scopeKey(scope), key); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

// DeleteBucketIfExpired removes the row only while it is still expired at
// now, so a concurrent rewrite of the root survives.
func (s *Store) DeleteBucketIfExpired(ctx context.Context, scope domain.Scope, key string, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM data_buckets
WHERE IFNULL(scope, 0) = ? AND key = ?
AND expires_at IS NOT NULL AND expires_at <= ?
`, scopeKey(scope), key, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("delete expired bucket: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete expired bucket rows affected: %w", err)
	}
	return deleted > 0, nil
}

// PurgeExpired removes every row whose expiration is at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM data_buckets
WHERE expires_at IS NOT NULL AND expires_at <= ?
`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("purge expired buckets: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows affected: %w", err)
	}
	s.logger.Info("purged expired buckets", zap.Int64("rows", purged))
	return purged, nil
}
