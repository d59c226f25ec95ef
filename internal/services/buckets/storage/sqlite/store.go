// Package sqlite provides SQLite-backed bucket and ID range storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/gamebuckets/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/domain"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage/sqlite/migrations"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// defaultBusyTimeout is how long a statement waits for another connection's
// write lock. Counter lock attempts lower it per connection.
const defaultBusyTimeout = 5 * time.Second

// dsnOptions makes every transaction take the write lock up front and lets
// writers from other connections or processes wait instead of failing.
var dsnOptions = fmt.Sprintf(
	"?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
	defaultBusyTimeout.Milliseconds(),
)

// Store persists bucket rows and ID range counters in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for lock leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// scopeKey matches the IFNULL(scope, 0) expression of the unique index.
func scopeKey(scope domain.Scope) int64 {
	id, _ := scope.OwnerID()
	return id
}

func scopeColumn(scope domain.Scope) sql.NullInt64 {
	id, ok := scope.OwnerID()
	return sql.NullInt64{Int64: id, Valid: ok}
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite bucket store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	store := &Store{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	sqlDB, err := sql.Open("sqlite", filepath.Clean(path)+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, "", store.logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store.sqlDB = sqlDB
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

var (
	_ storage.BucketStore  = (*Store)(nil)
	_ storage.CounterStore = (*Store)(nil)
)

// isBusy reports whether err is SQLite refusing the write because another
// connection holds the database lock past busy_timeout.
func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}

// setBusyTimeout changes how long statements on conn wait for the write lock.
func setBusyTimeout(ctx context.Context, conn *sql.Conn, timeout time.Duration) error {
	millis := timeout.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", millis)); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}
