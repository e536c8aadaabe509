package wallet

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/storage"
	"github.com/sudo-init-do/channelhub/internal/withdrawal"
)

type Handler struct {
	ledger   *withdrawal.Ledger
	accounts *account.Service
	logger   *slog.Logger
}

func NewHandler(ledger *withdrawal.Ledger, accounts *account.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: ledger, accounts: accounts, logger: logger}
}

// fail maps ledger refusals to 4xx responses carrying the reason.
func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, withdrawal.ErrInvalidAmount),
		errors.Is(err, withdrawal.ErrInvalidDestination),
		errors.Is(err, withdrawal.ErrInvalidOutcome):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, withdrawal.ErrAccountInactive):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, withdrawal.ErrInsufficientBalance),
		errors.Is(err, withdrawal.ErrAlreadyDecided),
		errors.Is(err, withdrawal.ErrLedgerInconsistent):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable, try again"})
	}
	h.logger.Error("wallet request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
