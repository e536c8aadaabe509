package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/jobs"
)

// POST /admin/reconcile runs one ledger sweep synchronously.
func (h *Handler) Reconcile(c echo.Context) error {
	rep, err := h.reconciler.Run(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if rep.Drifts == nil {
		rep.Drifts = []jobs.Drift{}
	}
	return c.JSON(http.StatusOK, rep)
}
