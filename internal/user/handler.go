package user

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/referral"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

type Handler struct {
	accounts *account.Service
	logger   *slog.Logger
}

func NewHandler(accounts *account.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{accounts: accounts, logger: logger}
}

// POST /accounts
func (h *Handler) Create(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	email := auth.Email(c)
	if email == "" {
		email = req.Email
	}
	code := req.Code
	if code == "" {
		code, _ = referral.NewCookieCache(c).Load(c.Request().Context())
	}

	acct, res, created, err := h.accounts.Create(c.Request().Context(), account.Signup{
		ID:          userID,
		Email:       email,
		DisplayName: req.DisplayName,
	}, code)
	switch {
	case errors.Is(err, account.ErrInvalidAccount):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable, try again"})
	case err != nil:
		h.logger.Error("create account failed", "account", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create account"})
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{
		"account":  NewAccountResponse(acct),
		"referral": res,
		"created":  created,
	})
}

// GET /accounts/me
func (h *Handler) Me(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	acct, err := h.accounts.Get(c.Request().Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load account"})
	}
	h.accounts.Touch(c.Request().Context(), userID)
	return c.JSON(http.StatusOK, NewAccountResponse(acct))
}
