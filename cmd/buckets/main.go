package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	bucketscmd "github.com/louisbranch/gamebuckets/internal/cmd/buckets"
	"github.com/louisbranch/gamebuckets/internal/platform/config"
)

func main() {
	cfg, err := bucketscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bucketscmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		config.ExitCodef(bucketscmd.ExitCode(err), "buckets %s: %v", cfg.Command, err)
	}
}
