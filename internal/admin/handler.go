// Package admin serves the back-office routes behind AdminGuard.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/jobs"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

type Handler struct {
	gate       *moderation.Gate
	accounts   *account.Service
	repo       *records.Repository
	reconciler *jobs.Reconciler
	logger     *slog.Logger
}

func NewHandler(gate *moderation.Gate, accounts *account.Service, repo *records.Repository, reconciler *jobs.Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gate: gate, accounts: accounts, repo: repo, reconciler: reconciler, logger: logger}
}

func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, moderation.ErrReasonRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable, try again"})
	}
	h.logger.Error("admin request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
