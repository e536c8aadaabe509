// Package moderation governs a listing's approval lifecycle and the
// orthogonal block flag that together decide buyer visibility.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

var (
	ErrInvalidListing = errors.New("invalid listing")
	ErrNotOwner       = errors.New("listing belongs to another seller")
	ErrReasonRequired = errors.New("reason required")
)

type Gate struct {
	repo    *records.Repository
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewGate(repo *records.Repository, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// Draft is what a seller supplies for a new listing.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
}

func (d Draft) validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidListing)
	}
	if d.Price <= 0 {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidListing)
	}
	return nil
}

// Submit stores a new pending listing for sellerID.
func (g *Gate) Submit(ctx context.Context, sellerID string, d Draft) (model.Listing, error) {
	if err := d.validate(); err != nil {
		return model.Listing{}, err
	}
	now := g.now().UTC()
	l := model.Listing{
		ID:             uuid.New().String(),
		Title:          strings.TrimSpace(d.Title),
		Description:    strings.TrimSpace(d.Description),
		Price:          d.Price,
		Category:       strings.TrimSpace(d.Category),
		SellerID:       sellerID,
		Status:         model.StatusPending,
		ApprovalStatus: model.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.repo.Store().Set(ctx, records.ListingPath(l.ID), l); err != nil {
		return model.Listing{}, fmt.Errorf("save listing: %w", err)
	}
	g.metrics.ModerationAction("submit")
	return l, nil
}

// Changes holds the seller-editable fields; nil leaves a field alone.
// Synthetic engagement fields are not editable.
type Changes struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int64  `json:"price"`
	Category    *string `json:"category"`
}

// Edit applies a seller's changes to their own listing.
func (g *Gate) Edit(ctx context.Context, sellerID, id string, ch Changes) (model.Listing, error) {
	current, err := g.repo.Listing(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	if current.SellerID != sellerID {
		return model.Listing{}, ErrNotOwner
	}

	patch := storage.Patch{}
	if ch.Title != nil {
		if strings.TrimSpace(*ch.Title) == "" {
			return model.Listing{}, fmt.Errorf("%w: title required", ErrInvalidListing)
		}
		patch["title"] = strings.TrimSpace(*ch.Title)
	}
	if ch.Description != nil {
		patch["description"] = strings.TrimSpace(*ch.Description)
	}
	if ch.Price != nil {
		if *ch.Price <= 0 {
			return model.Listing{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidListing)
		}
		patch["price"] = *ch.Price
	}
	if ch.Category != nil {
		patch["category"] = strings.TrimSpace(*ch.Category)
	}
	if len(patch) == 0 {
		return current, nil
	}
	patch["updatedAt"] = g.now().UTC()

	err = g.repo.Reconcile(ctx, records.ListingPath(id), func(map[string]any) (storage.Patch, error) {
		return patch, nil
	})
	if err != nil {
		return model.Listing{}, fmt.Errorf("edit listing: %w", err)
	}
	return g.repo.Listing(ctx, id)
}

// Approve makes a listing visible: approved, active and unblocked.
func (g *Gate) Approve(ctx context.Context, id string) (model.Listing, error) {
	return g.transition(ctx, id, "approve", storage.Patch{
		"approvalStatus":  model.ApprovalApproved,
		"status":          model.StatusActive,
		"blocked":         false,
		"blockReason":     nil,
		"rejectionReason": nil,
	})
}

// Reject marks a listing rejected and blocked with the given reason.
func (g *Gate) Reject(ctx context.Context, id, reason string) (model.Listing, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Listing{}, ErrReasonRequired
	}
	return g.transition(ctx, id, "reject", storage.Patch{
		"approvalStatus":  model.ApprovalRejected,
		"status":          model.StatusRejected,
		"blocked":         true,
		"rejectionReason": reason,
	})
}

// SetBlocked toggles the block flag without touching the approval axis.
func (g *Gate) SetBlocked(ctx context.Context, id string, blocked bool, reason string) (model.Listing, error) {
	patch := storage.Patch{"blocked": blocked, "blockReason": nil}
	action := "unblock"
	if blocked {
		action = "block"
		if r := strings.TrimSpace(reason); r != "" {
			patch["blockReason"] = r
		}
	}
	return g.transition(ctx, id, action, patch)
}

// transition applies an admin action. Any state may move to any other;
// repeating an action leaves the listing unchanged.
func (g *Gate) transition(ctx context.Context, id, action string, patch storage.Patch) (model.Listing, error) {
	before, err := g.repo.Listing(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	patch["updatedAt"] = g.now().UTC()
	if err := g.repo.Store().Update(ctx, records.ListingPath(id), patch); err != nil {
		return model.Listing{}, fmt.Errorf("%s listing: %w", action, err)
	}
	after, err := g.repo.Listing(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	g.metrics.ModerationAction(action)
	g.logger.Info("listing moderated",
		"listing", id,
		"action", action,
		"from", before.ApprovalStatus,
		"to", after.ApprovalStatus,
		"blocked", after.Blocked,
		"visible", after.Visible(),
	)
	return after, nil
}

// ByApproval lists listings with the given approval status, or all when
// status is empty, newest first.
func (g *Gate) ByApproval(ctx context.Context, status string) ([]model.Listing, error) {
	all, err := g.repo.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if status == "" || l.ApprovalStatus == status {
			out = append(out, l)
		}
	}
	newestFirst(out)
	return out, nil
}

// BySeller lists one seller's listings regardless of moderation state.
func (g *Gate) BySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	all, err := g.repo.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	newestFirst(out)
	return out, nil
}

// VisibleListings is the buyer-facing set.
func (g *Gate) VisibleListings(ctx context.Context) ([]model.Listing, error) {
	all, err := g.repo.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if l.Visible() {
			out = append(out, l)
		}
	}
	newestFirst(out)
	return out, nil
}

// WatchVisible sends the current visible set, then a fresh snapshot after
// every listing change, until ctx ends. The underlying subscription is
// released when ctx ends and the returned channel is closed.
func (g *Gate) WatchVisible(ctx context.Context) (<-chan []model.Listing, error) {
	events, err := g.repo.Store().Watch(ctx, model.CollectionListings)
	if err != nil {
		return nil, err
	}
	out := make(chan []model.Listing, 1)
	go func() {
		defer close(out)
		send := func() bool {
			snapshot, err := g.VisibleListings(ctx)
			if err != nil {
				g.logger.Warn("visible listings snapshot failed", "error", err)
				return ctx.Err() == nil
			}
			select {
			case out <- snapshot:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send() {
			return
		}
		for range events {
			if !send() {
				return
			}
		}
	}()
	return out, nil
}

func newestFirst(ls []model.Listing) {
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].CreatedAt.After(ls[j].CreatedAt) })
}
