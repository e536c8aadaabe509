package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/model"
)

// ReasonRequest carries a moderation reason.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// GET /admin/listings?status=pending|approved|rejected
func (h *Handler) ListListings(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	ls, err := h.gate.ByApproval(c.Request().Context(), status)
	if err != nil {
		return h.fail(c, err)
	}
	if ls == nil {
		ls = []model.Listing{}
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": ls})
}

// POST /admin/listings/:id/approve
func (h *Handler) ApproveListing(c echo.Context) error {
	l, err := h.gate.Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// POST /admin/listings/:id/reject
func (h *Handler) RejectListing(c echo.Context) error {
	req, err := h.reason(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	l, err := h.gate.Reject(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// POST /admin/listings/:id/block
func (h *Handler) BlockListing(c echo.Context) error {
	req, err := h.reason(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	l, err := h.gate.SetBlocked(c.Request().Context(), c.Param("id"), true, req.Reason)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// POST /admin/listings/:id/unblock
func (h *Handler) UnblockListing(c echo.Context) error {
	l, err := h.gate.SetBlocked(c.Request().Context(), c.Param("id"), false, "")
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) reason(c echo.Context) (ReasonRequest, error) {
	var req ReasonRequest
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	return req, c.Validate(&req)
}
