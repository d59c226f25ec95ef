// Package buckets parses bucket command flags and runs operator commands
// against the bucket store.
package buckets

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	entrypoint "github.com/louisbranch/gamebuckets/internal/platform/cmd"
	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
	applog "github.com/louisbranch/gamebuckets/internal/platform/log"
	"github.com/louisbranch/gamebuckets/internal/platform/timeouts"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/app"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage"
	"github.com/louisbranch/gamebuckets/internal/services/buckets/storage/sqlite"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

const usage = `usage: buckets [flags] <command> [args]

commands:
  get KEY                      print the value at KEY
  set KEY VALUE [EXPIRATION]   write VALUE at KEY ("20 seconds", "1h", ...)
  delete KEY                   remove KEY
  reserve NAMESPACE            reserve the next identifier block
  provision NAMESPACE START    create the namespace counter at START
  peek NAMESPACE               print the next unreserved identifier
  purge                        delete expired buckets`

// Config holds bucket command configuration.
type Config struct {
	DBPath    string        `env:"BUCKETS_DB_PATH" envDefault:"data/buckets.db"`
	LockWait  time.Duration `env:"BUCKETS_LOCK_WAIT" envDefault:"5s"`
	LockLease time.Duration `env:"BUCKETS_LOCK_LEASE" envDefault:"30s"`
	BlockSize int64         `env:"BUCKETS_ID_BLOCK_SIZE" envDefault:"1000"`
	Scope     int64         `env:"BUCKETS_SCOPE" envDefault:"0"`
	LogDebug  bool          `env:"BUCKETS_LOG_DEBUG" envDefault:"false"`

	Command string
	Args    []string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the sqlite database")
	fs.DurationVar(&cfg.LockWait, "lock-wait", cfg.LockWait, "how long a reservation waits for the counter lock")
	fs.DurationVar(&cfg.LockLease, "lock-lease", cfg.LockLease, "how long a held counter lock survives its holder")
	fs.Int64Var(&cfg.BlockSize, "block-size", cfg.BlockSize, "identifiers per reservation")
	fs.Int64Var(&cfg.Scope, "scope", cfg.Scope, "owner id for scoped buckets (0 = global)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("command is required\n" + usage)
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	return cfg, nil
}

// Run executes one bucket command and writes its result to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	logger, err := newLogger(cfg.LogDebug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceBuckets, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeouts.Command)
		defer cancel()
		return execute(ctx, cfg, logger, out)
	})
}

// ExitCode maps a command error to a process exit status: 2 for invalid
// input, 3 when the store is unavailable, 1 otherwise.
func ExitCode(err error) int {
	switch apperrors.CodeOf(err).GRPCCode() {
	case codes.InvalidArgument:
		return 2
	case codes.Unavailable:
		return 3
	default:
		return 1
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func execute(ctx context.Context, cfg Config, logger *zap.Logger, out io.Writer) error {
	ctx = applog.WithFields(ctx, zap.String("command", cfg.Command))
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath, sqlite.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	svc := app.NewService(store, nil, app.WithLogger(logger))
	switch cfg.Command {
	case "get", "set", "delete":
		b, err := bucketsFor(svc, cfg.Scope)
		if err != nil {
			return err
		}
		return runBucketCommand(ctx, b, cfg.Command, cfg.Args, out)
	case "purge":
		if err := requireArgs(cfg, 0, 0); err != nil {
			return err
		}
		purged, err := svc.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, purged)
		return nil
	case "reserve":
		if err := requireArgs(cfg, 1, 1); err != nil {
			return err
		}
		ranges, err := app.NewIDRanges(store, app.AllocatorConfig{
			BlockSize: cfg.BlockSize,
			LockWait:  cfg.LockWait,
			LockLease: cfg.LockLease,
		}, app.WithLogger(logger))
		if err != nil {
			return err
		}
		start, err := ranges.ReserveIDRange(ctx, storage.Namespace(cfg.Args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, start)
		return nil
	case "provision":
		if err := requireArgs(cfg, 2, 2); err != nil {
			return err
		}
		start, err := strconv.ParseInt(cfg.Args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse start %q: %w", cfg.Args[1], err)
		}
		namespace := storage.Namespace(cfg.Args[0])
		if err := store.ProvisionCounter(ctx, namespace, start); err != nil {
			return counterError(namespace, err)
		}
		return printCounter(ctx, store, namespace, out)
	case "peek":
		if err := requireArgs(cfg, 1, 1); err != nil {
			return err
		}
		return printCounter(ctx, store, storage.Namespace(cfg.Args[0]), out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cfg.Command, usage)
	}
}

func bucketsFor(svc *app.Service, scope int64) (*app.Buckets, error) {
	if scope == 0 {
		return svc.Global(), nil
	}
	return svc.ForOwner(scope)
}

func runBucketCommand(ctx context.Context, b *app.Buckets, command string, args []string, out io.Writer) error {
	switch command {
	case "get":
		if len(args) != 1 {
			return usageError(command)
		}
		value, err := b.GetBucket(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, value)
	case "set":
		if len(args) < 2 || len(args) > 3 {
			return usageError(command)
		}
		expiration := ""
		if len(args) == 3 {
			expiration = args[2]
		}
		written, err := b.SetBucket(ctx, args[0], args[1], expiration)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, written)
	case "delete":
		if len(args) != 1 {
			return usageError(command)
		}
		deleted, err := b.DeleteBucket(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, deleted)
	}
	return nil
}

func printCounter(ctx context.Context, store storage.CounterStore, namespace storage.Namespace, out io.Writer) error {
	next, err := store.PeekCounter(ctx, namespace)
	if err != nil {
		return counterError(namespace, err)
	}
	fmt.Fprintln(out, next)
	return nil
}

func counterError(namespace storage.Namespace, err error) error {
	switch {
	case errors.Is(err, storage.ErrUnknownNamespace):
		return apperrors.WrapWithMetadata(apperrors.CodeIDRangeUnknownNamespace, "unknown id namespace",
			map[string]string{"namespace": string(namespace)}, err)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WrapWithMetadata(apperrors.CodeNotFound, "counter is not provisioned",
			map[string]string{"namespace": string(namespace)}, err)
	default:
		return err
	}
}

func requireArgs(cfg Config, min, max int) error {
	if len(cfg.Args) < min || len(cfg.Args) > max {
		return usageError(cfg.Command)
	}
	return nil
}

var synopses = map[string]string{
	"get":       "get KEY",
	"set":       "set KEY VALUE [EXPIRATION]",
	"delete":    "delete KEY",
	"reserve":   "reserve NAMESPACE",
	"provision": "provision NAMESPACE START",
	"peek":      "peek NAMESPACE",
	"purge":     "purge",
}

func usageError(command string) error {
	return fmt.Errorf("usage: buckets %s", synopses[command])
}
