package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/model"
)

// WithdrawRequest is the body of POST /wallet/withdrawals.
type WithdrawRequest struct {
	Amount  int64  `json:"amount" validate:"gt=0"`
	Method  string `json:"method" validate:"required,oneof=bank paypal upi crypto"`
	Address string `json:"address" validate:"required,max=256"`
}

// RequestWithdrawal files a pending payout for admin review.
func (h *Handler) RequestWithdrawal(c echo.Context) error {
	uid := auth.UserID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}

	var req WithdrawRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	w, err := h.ledger.Request(c.Request().Context(), uid, req.Amount, req.Method, req.Address)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// ListWithdrawals returns the caller's withdrawals, newest first.
func (h *Handler) ListWithdrawals(c echo.Context) error {
	uid := auth.UserID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ws, err := h.ledger.ForAccount(c.Request().Context(), uid)
	if err != nil {
		return h.fail(c, err)
	}
	if ws == nil {
		ws = []model.Withdrawal{}
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": ws})
}
