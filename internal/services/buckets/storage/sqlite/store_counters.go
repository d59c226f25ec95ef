package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/gamebuckets/internal/platform/id"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"go.uber.org/zap"
)

var counterTables = map[storage.Namespace]string{
	storage.NamespaceItemSerials:        "item_serial_counter",
	storage.NamespaceCharacterInstances: "character_instance_counter",
}

const (
	lockRetryInitial = 5 * time.Millisecond
	lockRetryMax     = 100 * time.Millisecond
	// lockAttemptBusy caps how long one lock attempt blocks on another
	// connection's write lock; the backoff loop does the rest of the waiting.
	lockAttemptBusy = 20 * time.Millisecond
)

var errLockHeld = errors.New("counter lock held by another owner")

func counterTable(namespace storage.Namespace) (string, error) {
	table, ok := counterTables[namespace]
	if !ok {
		return "", fmt.Errorf("%w: %q", storage.ErrUnknownNamespace, namespace)
	}
	return table, nil
}

// AdvanceCounter adds opts.BlockSize to the namespace counter while holding
// the namespace lock record and returns the value from before the advance.
// A missing counter row advances nothing and reports Provisioned false.
func (s *Store) AdvanceCounter(ctx context.Context, namespace storage.Namespace, opts storage.ReserveOptions) (storage.Reservation, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Reservation{}, err
	}
	table, err := counterTable(namespace)
	if err != nil {
		return storage.Reservation{}, err
	}
	if opts.BlockSize <= 0 {
		return storage.Reservation{}, fmt.Errorf("block size must be greater than zero")
	}
	if opts.LockWait <= 0 {
		return storage.Reservation{}, fmt.Errorf("lock wait must be greater than zero")
	}
	if opts.LockLease <= 0 {
		return storage.Reservation{}, fmt.Errorf("lock lease must be greater than zero")
	}

	logger := s.logger.With(zap.String("namespace", string(namespace)))
	owner, err := id.NewID()
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("lock owner: %w", err)
	}
	logger = logger.With(zap.String("lock_owner", owner))

	// Lock attempts and the counter transaction run on one connection whose
	// busy timeout follows the remaining wait.
	deadline := time.Now().Add(opts.LockWait)
	conn, err := s.sqlDB.Conn(ctx)
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("counter connection: %w", err)
	}
	defer s.closeCounterConn(context.WithoutCancel(ctx), conn)

	timeout := func() (storage.Reservation, error) {
		logger.Warn("counter lock wait elapsed", zap.Duration("wait", opts.LockWait))
		return storage.Reservation{}, fmt.Errorf("%w: %s", storage.ErrLockTimeout, namespace)
	}
	if err := s.acquireCounterLock(ctx, conn, string(namespace), owner, deadline, opts.LockLease); err != nil {
		if errors.Is(err, storage.ErrLockTimeout) {
			return timeout()
		}
		return storage.Reservation{}, err
	}
	defer func() {
		if err := s.releaseCounterLock(context.WithoutCancel(ctx), string(namespace), owner); err != nil {
			logger.Error("release counter lock", zap.Error(err))
		}
	}()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return timeout()
	}
	if err := setBusyTimeout(ctx, conn, remaining); err != nil {
		return storage.Reservation{}, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if isBusy(err) {
		return timeout()
	}
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("start advance counter transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var held int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM id_range_locks WHERE name = ? AND owner = ?`,
		string(namespace), owner,
	).Scan(&held)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Reservation{}, fmt.Errorf("counter lock lease lost for %s", namespace)
	}
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("verify counter lock: %w", err)
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT next_number FROM `+table+` LIMIT 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Warn("counter row is not provisioned")
		return storage.Reservation{}, nil
	}
	if err != nil {
		return storage.Reservation{}, fmt.Errorf("read counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET next_number = ?`, current+opts.BlockSize); err != nil {
		return storage.Reservation{}, fmt.Errorf("advance counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Reservation{}, fmt.Errorf("commit advance counter: %w", err)
	}

	logger.Debug("advanced counter", zap.Int64("start", current), zap.Int64("next", current+opts.BlockSize))
	return storage.Reservation{Start: current, Provisioned: true}, nil
}

// acquireCounterLock takes the lock record for name on conn, retrying with
// backoff until deadline. An existing record whose lease has run out is taken
// over. Each attempt waits at most lockAttemptBusy for SQLite's write lock.
func (s *Store) acquireCounterLock(ctx context.Context, conn *sql.Conn, name, owner string, deadline time.Time, lease time.Duration) error {
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = lockRetryInitial
	policy.MaxInterval = lockRetryMax

	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		busy := min(lockAttemptBusy, time.Until(deadline))
		if busy <= 0 {
			return struct{}{}, backoff.Permanent(errLockHeld)
		}
		if err := setBusyTimeout(waitCtx, conn, busy); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		acquired, err := s.tryCounterLock(waitCtx, conn, name, owner, lease)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !acquired {
			return struct{}{}, errLockHeld
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(time.Until(deadline)))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, errLockHeld) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", storage.ErrLockTimeout, name)
	}
	return fmt.Errorf("acquire counter lock: %w", err)
}

// tryCounterLock reports false when the record is held by a live lease or
// SQLite's write lock stayed busy for the attempt.
func (s *Store) tryCounterLock(ctx context.Context, conn *sql.Conn, name, owner string, lease time.Duration) (bool, error) {
	now := s.now().UTC()
	result, err := conn.ExecContext(ctx, `
INSERT INTO id_range_locks (name, owner, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
	owner = excluded.owner,
	expires_at = excluded.expires_at
WHERE id_range_locks.expires_at <= ?
`, name, owner, toMillis(now.Add(lease)), toMillis(now))
	if isBusy(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("take counter lock: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("take counter lock rows affected: %w", err)
	}
	return changed > 0, nil
}

// closeCounterConn restores the default busy timeout before conn returns to
// the pool, discarding the connection when that fails.
func (s *Store) closeCounterConn(ctx context.Context, conn *sql.Conn) {
	if err := setBusyTimeout(ctx, conn, defaultBusyTimeout); err != nil {
		s.logger.Warn("discarding counter connection", zap.Error(err))
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		s.logger.Warn("close counter connection", zap.Error(err))
	}
}

func (s *Store) releaseCounterLock(ctx context.Context, name, owner string) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM id_range_locks WHERE name = ? AND owner = ?`,
		name, owner,
	); err != nil {
		return fmt.Errorf("release counter lock: %w", err)
	}
	return nil
}

// ProvisionCounter inserts the namespace counter row at start unless one
// already exists.
func (s *Store) ProvisionCounter(ctx context.Context, namespace storage.Namespace, start int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	table, err := counterTable(namespace)
	if err != nil {
		return err
	}
	if start < 0 {
		return fmt.Errorf("counter start must not be negative")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO `+table+` (next_number) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM `+table+`)`,
		start,
	); err != nil {
		return fmt.Errorf("provision counter: %w", err)
	}
	return nil
}

// PeekCounter reads the namespace counter without taking the lock.
func (s *Store) PeekCounter(ctx context.Context, namespace storage.Namespace) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	table, err := counterTable(namespace)
	if err != nil {
		return 0, err
	}
	var current int64
	err = s.sqlDB.QueryRowContext(ctx, `SELECT next_number FROM `+table+` LIMIT 1`).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("peek counter: %w", err)
	}
	return current, nil
}
