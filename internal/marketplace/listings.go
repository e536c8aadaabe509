package marketplace

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/channelhub/internal/auth"
	"github.com/sudo-init-do/channelhub/internal/engagement"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/moderation"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

type Handler struct {
	gate   *moderation.Gate
	synth  *engagement.Synthesizer
	logger *slog.Logger
}

func NewHandler(gate *moderation.Gate, synth *engagement.Synthesizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gate: gate, synth: synth, logger: logger}
}

// GET /listings?q=&category=&min_price=&max_price=&limit=&offset=
func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Query:    c.QueryParam("q"),
		Category: c.QueryParam("category"),
		Limit:    20,
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		f.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v >= 0 {
		f.Offset = v
	}
	if v, err := strconv.ParseInt(c.QueryParam("min_price"), 10, 64); err == nil {
		f.MinPrice = v
	}
	if v, err := strconv.ParseInt(c.QueryParam("max_price"), 10, 64); err == nil {
		f.MaxPrice = v
	}

	visible, err := h.gate.VisibleListings(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	matched := visible[:0]
	for _, l := range visible {
		if f.match(l) {
			matched = append(matched, l)
		}
	}
	total := len(matched)
	listings := h.synth.ObserveAll(c.Request().Context(), f.page(matched))
	return c.JSON(http.StatusOK, echo.Map{
		"listings": publicAll(listings),
		"total":    total,
		"limit":    f.Limit,
		"offset":   f.Offset,
	})
}

// GET /listings/:id
func (h *Handler) Get(c echo.Context) error {
	l, err := h.synth.Observe(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if !l.Visible() {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	}
	return c.JSON(http.StatusOK, public(l))
}

// GET /listings/mine
func (h *Handler) Mine(c echo.Context) error {
	ls, err := h.gate.BySeller(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": ls})
}

// POST /listings
func (h *Handler) Create(c echo.Context) error {
	var req CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	l, err := h.gate.Submit(c.Request().Context(), auth.UserID(c), moderation.Draft{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

// PATCH /listings/:id
func (h *Handler) Update(c echo.Context) error {
	var req UpdateListingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	l, err := h.gate.Edit(c.Request().Context(), auth.UserID(c), c.Param("id"), moderation.Changes{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

// POST /listings/:id/like
func (h *Handler) Like(c echo.Context) error {
	l, err := h.synth.Like(c.Request().Context(), c.Param("id"))
	return h.interaction(c, l, err)
}

// POST /listings/:id/comment
func (h *Handler) Comment(c echo.Context) error {
	l, err := h.synth.Comment(c.Request().Context(), c.Param("id"))
	return h.interaction(c, l, err)
}

// POST /listings/:id/view
func (h *Handler) View(c echo.Context) error {
	l, err := h.synth.View(c.Request().Context(), c.Param("id"))
	return h.interaction(c, l, err)
}

// POST /listings/:id/sales
func (h *Handler) RecordSale(c echo.Context) error {
	var req SaleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	l, err := h.synth.RecordSale(c.Request().Context(), c.Param("id"), req.TransactionID)
	return h.interaction(c, l, err)
}

func (h *Handler) interaction(c echo.Context, l model.Listing, err error) error {
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, public(l))
}

func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, moderation.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, moderation.ErrInvalidListing),
		errors.Is(err, engagement.ErrMissingTxID),
		errors.Is(err, storage.ErrInvalidPath):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, engagement.ErrListingNotActive),
		errors.Is(err, engagement.ErrDuplicateSale),
		errors.Is(err, records.ErrLostUpdate):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable, try again"})
	}
	h.logger.Error("listing request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
