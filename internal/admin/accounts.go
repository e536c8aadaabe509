package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/user"
)

// GET /admin/accounts
func (h *Handler) ListAccounts(c echo.Context) error {
	all, err := h.accounts.List(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]user.AccountResponse, 0, len(all))
	for _, a := range all {
		out = append(out, user.NewAccountResponse(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"accounts": out})
}

// POST /admin/accounts/:id/suspend
func (h *Handler) SuspendAccount(c echo.Context) error {
	return h.setActive(c, false)
}

// POST /admin/accounts/:id/activate
func (h *Handler) ActivateAccount(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	a, err := h.accounts.SetActive(c.Request().Context(), c.Param("id"), active)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, user.NewAccountResponse(a))
}
