package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/admin"
	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/engagement"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/marketplace"
	"github.com/sudo-init-do/channelhub/internal/middleware"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/referral"
	"github.com/sudo-init-do/channelhub/internal/storage"
	"github.com/sudo-init-do/channelhub/internal/user"
	"github.com/sudo-init-do/channelhub/internal/wallet"
	"github.com/sudo-init-do/channelhub/internal/withdrawal"
)

// readinessPath is read on every /ready probe; a missing record still proves
// the store answers.
var readinessPath = records.AccountPath("readiness-probe")

// Components are the domain services the routes dispatch to.
type Components struct {
	Store      storage.Store
	Repo       *records.Repository
	Tokens     *auth.TokenManager
	Accounts   *account.Service
	Ledger     *withdrawal.Ledger
	Gate       *moderation.Gate
	Synth      *engagement.Synthesizer
	Resolver   *referral.Resolver
	Reconciler *jobs.Reconciler
	Metrics    *observability.Metrics
	// Gatherer backs /metrics; nil means the default prometheus registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server wraps the echo instance with its listen address.
type Server struct {
	e    *echo.Echo
	addr string
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, cs Components) *Server {
	logger := cs.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cs.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	e.Use(echomw.Recover())
	e.Use(requestLogger(logger))
	e.Use(middleware.Metrics(cs.Metrics))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if _, err := cs.Store.Get(ctx, readinessPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("readiness probe failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	referrals := referral.NewHandler(cs.Resolver, cfg.AppURL)
	e.GET("/r/:code", referrals.ShareLink)
	e.POST("/referrals/resolve", referrals.Resolve)

	listings := marketplace.NewHandler(cs.Gate, cs.Synth, logger)
	e.GET("/listings", listings.List)
	e.GET("/listings/live", listings.Live)
	e.GET("/listings/:id", listings.Get)

	// Protected routes
	api := e.Group("", cs.Tokens.Middleware())

	users := user.NewHandler(cs.Accounts, logger)
	signupLimit := echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.SignupRatePerSecond)))
	api.POST("/accounts", users.Create, signupLimit)
	api.GET("/accounts/me", users.Me)

	api.GET("/listings/mine", listings.Mine, middleware.RequireRoles(auth.RoleSeller))
	api.POST("/listings", listings.Create, middleware.RequireRoles(auth.RoleSeller))
	api.PATCH("/listings/:id", listings.Update, middleware.RequireRoles(auth.RoleSeller))
	api.POST("/listings/:id/like", listings.Like)
	api.POST("/listings/:id/comment", listings.Comment)
	api.POST("/listings/:id/view", listings.View)
	api.POST("/listings/:id/sales", listings.RecordSale)

	wallets := wallet.NewHandler(cs.Ledger, cs.Accounts, logger)
	api.GET("/wallet/balance", wallets.Balance)
	api.POST("/wallet/withdrawals", wallets.RequestWithdrawal)
	api.GET("/wallet/withdrawals", wallets.ListWithdrawals)

	// Admin routes
	back := admin.NewHandler(cs.Gate, cs.Accounts, cs.Repo, cs.Reconciler, logger)
	adm := e.Group("/admin", cs.Tokens.Middleware(), middleware.AdminGuard)
	adm.GET("/listings", back.ListListings)
	adm.POST("/listings/:id/approve", back.ApproveListing)
	adm.POST("/listings/:id/reject", back.RejectListing)
	adm.POST("/listings/:id/block", back.BlockListing)
	adm.POST("/listings/:id/unblock", back.UnblockListing)
	adm.GET("/withdrawals", wallets.ListByStatus)
	adm.POST("/withdrawals/:id/approve", wallets.ApproveWithdrawal)
	adm.POST("/withdrawals/:id/reject", wallets.RejectWithdrawal)
	adm.GET("/referral-bonuses", back.ListReferralBonuses)
	adm.GET("/accounts", back.ListAccounts)
	adm.POST("/accounts/:id/suspend", back.SuspendAccount)
	adm.POST("/accounts/:id/activate", back.ActivateAccount)
	adm.GET("/stats", back.Stats)
	adm.POST("/reconcile", back.Reconcile)

	return &Server{e: e, addr: cfg.HTTPAddress()}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.e.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,

		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String(),
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			logger.Log(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}
