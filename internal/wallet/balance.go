package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/auth"
)

// Balance returns the authenticated user's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	acct, err := h.accounts.Get(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":         userID,
		"balance":         acct.WalletBalance,
		"total_earnings":  acct.TotalEarnings,
		"total_referrals": acct.TotalReferrals,
		"referral_code":   acct.ReferralCode,
	})
}
