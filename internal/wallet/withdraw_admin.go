package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/model"
)

// DecisionRequest carries the optional admin note.
type DecisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// ListByStatus returns withdrawals filtered by ?status= (all when empty).
func (h *Handler) ListByStatus(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", model.WithdrawalPending, model.WithdrawalApproved, model.WithdrawalRejected:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	ws, err := h.ledger.ByStatus(c.Request().Context(), status)
	if err != nil {
		return h.fail(c, err)
	}
	if ws == nil {
		ws = []model.Withdrawal{}
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": ws})
}

// ApproveWithdrawal debits the wallet and marks the withdrawal approved
func (h *Handler) ApproveWithdrawal(c echo.Context) error {
	return h.decide(c, model.WithdrawalApproved)
}

// RejectWithdrawal marks the withdrawal rejected without touching the balance
func (h *Handler) RejectWithdrawal(c echo.Context) error {
	return h.decide(c, model.WithdrawalRejected)
}

func (h *Handler) decide(c echo.Context, decision string) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	w, err := h.ledger.Decide(c.Request().Context(), c.Param("id"), decision, req.Note)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, w)
}
