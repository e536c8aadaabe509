package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/model"
)

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	accounts, err := h.repo.Accounts(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	listings, err := h.repo.Listings(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	withdrawals, err := h.repo.Withdrawals(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	bonuses, err := h.repo.ReferralBonuses(ctx)
	if err != nil {
		return h.fail(c, err)
	}

	var suspended, referred int
	var walletTotal int64
	for _, a := range accounts {
		if !a.IsActive {
			suspended++
		}
		if a.ReferralStatus == model.ReferralSettled {
			referred++
		}
		walletTotal += a.WalletBalance
	}
	var pendingListings, visible int
	for _, l := range listings {
		if l.ApprovalStatus == model.ApprovalPending {
			pendingListings++
		}
		if l.Visible() {
			visible++
		}
	}
	var pendingWithdrawals int
	var withdrawn int64
	for _, w := range withdrawals {
		switch w.Status {
		case model.WithdrawalPending:
			pendingWithdrawals++
		case model.WithdrawalApproved:
			withdrawn += w.Amount
		}
	}
	var bonusPaid int64
	for _, b := range bonuses {
		if b.Status == model.BonusPaid {
			bonusPaid += b.BonusAmount
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"accounts":            len(accounts),
		"suspended_accounts":  suspended,
		"referred_accounts":   referred,
		"wallet_total":        walletTotal,
		"listings":            len(listings),
		"pending_listings":    pendingListings,
		"visible_listings":    visible,
		"withdrawals":         len(withdrawals),
		"pending_withdrawals": pendingWithdrawals,
		"withdrawn_total":     withdrawn,
		"referral_bonuses":    len(bonuses),
		"bonus_paid_total":    bonusPaid,
	})
}
