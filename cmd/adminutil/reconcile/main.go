package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/db"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/records"
)

// reconcile runs one ledger sweep against the configured store and prints
// the report. Exits 2 when any account drifted.
// Usage:
//
//	go run ./cmd/adminutil/reconcile -timeout 2m
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Maximum time for the sweep")
	flag.Parse()

	_ = godotenv.Load()
	drifted, err := run(*timeout)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	if drifted > 0 {
		fmt.Fprintf(os.Stderr, "%d account(s) drifted\n", drifted)
		os.Exit(2)
	}
}

func run(timeout time.Duration) (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("channelhub-reconcile", cfg.Env, cfg.LogLevel, "")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return 0, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	repo := records.New(store, logger, nil)
	engine := bonus.NewEngine(repo, bonus.WithAmount(cfg.BonusAmount), bonus.WithLogger(logger))
	rep, err := jobs.NewReconciler(repo, engine, logger, nil).Run(ctx)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return 0, fmt.Errorf("print report: %w", err)
	}
	return len(rep.Drifts), nil
}
