package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coadd/internal/cli"
	"coadd/internal/config"
	"coadd/internal/logging"
	"coadd/internal/pipeline"
	"coadd/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Error("failed to open job database", "path", cfg.Paths.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, log, store, &cfg.Combine)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, log, store, pipe)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "error", err)
		pipe.Stop()
		os.Exit(1)
	}
}
