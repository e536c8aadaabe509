package admin

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

type bonusView struct {
	ID          string    `json:"id"`
	ReferrerID  string    `json:"referrerId"`
	ReferredID  string    `json:"referredId"`
	BonusAmount int64     `json:"bonusAmount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GET /admin/referral-bonuses, newest first.
func (h *Handler) ListReferralBonuses(c echo.Context) error {
	bonuses, err := h.repo.ReferralBonuses(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	sort.SliceStable(bonuses, func(i, j int) bool { return bonuses[i].CreatedAt.After(bonuses[j].CreatedAt) })

	out := make([]bonusView, 0, len(bonuses))
	for _, b := range bonuses {
		out = append(out, bonusView{
			ID:          b.ID,
			ReferrerID:  b.ReferrerID,
			ReferredID:  b.ReferredID,
			BonusAmount: b.BonusAmount,
			Status:      b.Status,
			CreatedAt:   b.CreatedAt.UTC(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"referral_bonuses": out})
}
