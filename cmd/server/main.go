package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/alerts"
	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/db"
	"github.com/sudo-init-do/channelhub/internal/engagement"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/referral"
	"github.com/sudo-init-do/channelhub/internal/server"
	"github.com/sudo-init-do/channelhub/internal/withdrawal"
)

// notifier is satisfied by both alerts.Queue and alerts.LogNotifier.
type notifier interface {
	ReferralDetected(ctx context.Context, code string, source referral.Source) error
	BonusPaid(ctx context.Context, referrerID, referredID string, amount int64) error
	WithdrawalDecided(ctx context.Context, w model.Withdrawal) error
}

func main() {
	loadLocalEnv()
	if err := run(); err != nil {
		slog.Error("channelhub stopped", "error", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so each return releases them through
// the deferred closers.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("channelhub", cfg.Env, cfg.LogLevel, cfg.LogFile)

	ctx := context.Background()
	store, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ranges, err := engagement.LoadRanges(cfg.EngagementRangesFile)
	if err != nil {
		return fmt.Errorf("load engagement ranges: %w", err)
	}

	metrics := observability.Default()
	repo := records.New(store, logger, metrics)

	var notify notifier = alerts.NewLogNotifier(logger)
	if cfg.RedisAddr != "" {
		client := alerts.NewClient(cfg.RedisAddr)
		defer client.Close()
		notify = alerts.NewQueue(client, repo, cfg.AppURL, logger)

		mailer, err := alerts.MailerFromEnv(cfg.MailProvider)
		if err != nil {
			return fmt.Errorf("configure mailer: %w", err)
		}
		worker := alerts.NewWorker(cfg.RedisAddr, alerts.NewProcessor(mailer, logger), logger)
		if err := worker.Start(); err != nil {
			return fmt.Errorf("start alerts worker: %w", err)
		}
		defer worker.Shutdown()
		logger.Info("alerts worker started", "redis", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set; notifications are logged only")
	}

	engine := bonus.NewEngine(repo,
		bonus.WithAmount(cfg.BonusAmount),
		bonus.WithNotifier(notify),
		bonus.WithMetrics(metrics),
		bonus.WithLogger(logger),
	)
	reconciler := jobs.NewReconciler(repo, engine, logger, metrics)
	scheduler, err := jobs.NewScheduler(reconciler, cfg.ReconcileSchedule, logger)
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	scheduler.Start()

	srv := server.New(cfg, server.Components{
		Store:  store,
		Repo:   repo,
		Tokens: auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Accounts: account.NewService(repo, engine,
			account.WithRetry(cfg.AttributionAttempts, cfg.AttributionBackoff),
			account.WithMetrics(metrics),
			account.WithLogger(logger),
		),
		Ledger: withdrawal.NewLedger(repo,
			withdrawal.WithNotifier(notify),
			withdrawal.WithMetrics(metrics),
			withdrawal.WithLogger(logger),
		),
		Gate: moderation.NewGate(repo, logger, metrics),
		Synth: engagement.New(repo,
			engagement.WithRanges(ranges),
			engagement.WithMetrics(metrics),
			engagement.WithLogger(logger),
		),
		Resolver:   referral.NewResolver(notify, logger, metrics),
		Reconciler: reconciler,
		Metrics:    metrics,
		Logger:     logger,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("channelhub listening", "addr", cfg.HTTPAddress(), "backend", cfg.StoreBackend)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("graceful shutdown error", "error", err)
	}
	scheduler.Stop(ctxShutdown)
	return runErr
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}
}
