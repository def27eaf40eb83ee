// Command proctord runs the proctoring server: the strike ledger, the
// violation API and the push hub.
// Usage: go run . [-config proctor.yaml] [-listen :8080] [-store memory|sqlite|redis]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/proctor/internal/app"
	"github.com/raysh454/proctor/internal/cli"
	"github.com/raysh454/proctor/internal/config"
	"github.com/raysh454/proctor/internal/logging"
)

func main() {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	cfg.ApplyArgs(args)

	logger, err := logging.New(cfg.Log.Format, "proctord", cfg.Log.Level)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	if s, ok := logger.(interface{ Sync() error }); ok {
		defer func() { _ = s.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, args, logger)
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		os.Exit(1)
	}
	if err := application.Start(); err != nil {
		logger.Error("startup failed", logging.Err(err))
		os.Exit(1)
	}
	fmt.Printf("proctord listening on http://%s (swagger at /swagger/index.html)\n", application.Addr())

	runErr := application.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", logging.Err(err))
	}
	if runErr != nil {
		logger.Error("server stopped", logging.Err(runErr))
		os.Exit(1)
	}
}
