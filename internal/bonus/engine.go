// Package bonus credits referral bonuses to both parties of an attribution.
//
// The store offers no multi-record transactions, so a credit is split into
// single-record stages that each leave a marker behind:
//
//	a. referred account: referredBy, wallet and earnings, referralStatus=pending
//	b. referrer: wallet, earnings, referral count and referralCredits/{newID}
//	c. referralBonuses audit record for the pair
//	d. referred account: referralStatus=settled, referralSettledAt
//
// A failed call can be retried; it resumes at the first stage whose marker
// is missing and never credits either account twice. Each marker is written
// with storage.Claim, so concurrent calls for the same account race on the
// marker itself and only one of them reports the credit.
package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

// DefaultAmount is credited to each party when no amount is configured.
const DefaultAmount int64 = 10

// Reasons reported when no credit was applied.
const (
	ReasonNoCode          = "no_code"
	ReasonInvalidCode     = "invalid_code"
	ReasonSelfReferral    = "self_referral"
	ReasonAlreadyCredited = "already_credited"
)

// Result is the outcome of one attribution attempt.
type Result struct {
	Credited   bool   `json:"credited"`
	ReferrerID string `json:"referrerId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Notifier is told once a bonus has been fully settled.
type Notifier interface {
	BonusPaid(ctx context.Context, referrerID, referredID string, amount int64) error
}

type Engine struct {
	repo     *records.Repository
	amount   int64
	now      func() time.Time
	metrics  *observability.Metrics
	notifier Notifier
	logger   *slog.Logger
}

type Option func(*Engine)

func WithAmount(amount int64) Option {
	return func(e *Engine) {
		if amount > 0 {
			e.amount = amount
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(repo *records.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		amount: DefaultAmount,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Amount is the per-party bonus.
func (e *Engine) Amount() int64 { return e.amount }

// Attribute credits the referrer owning rawCode and the new account, at most
// once per new account. Unknown codes and self-referral are outcomes, not
// errors. Errors are store failures and leave the attribution resumable.
func (e *Engine) Attribute(ctx context.Context, newAccountID, rawCode string) (Result, error) {
	res, err := e.attribute(ctx, newAccountID, strings.TrimSpace(rawCode))
	switch {
	case err != nil:
		e.metrics.BonusOutcome("error", 0)
	case res.Credited:
		e.metrics.BonusOutcome("credited", e.amount)
	default:
		e.metrics.BonusOutcome(res.Reason, 0)
	}
	return res, err
}

func (e *Engine) attribute(ctx context.Context, newID, code string) (Result, error) {
	if code == "" {
		return Result{Reason: ReasonNoCode}, nil
	}

	referrer, err := e.repo.FindByReferralCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Reason: ReasonInvalidCode}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("look up referral code: %w", err)
	}
	if referrer.ID == newID {
		return Result{Reason: ReasonSelfReferral}, nil
	}

	account, err := e.repo.Account(ctx, newID)
	if err != nil {
		return Result{}, fmt.Errorf("load new account: %w", err)
	}
	if account.ReferralStatus == model.ReferralSettled ||
		(account.ReferredBy != "" && account.ReferredBy != code) {
		return Result{ReferrerID: account.ReferredByID, Reason: ReasonAlreadyCredited}, nil
	}

	now := e.now().UTC()

	if account.ReferredBy == "" {
		err := e.repo.Store().Update(ctx, records.AccountPath(newID), storage.Patch{
			"referredBy":     storage.Claim(code),
			"referredById":   referrer.ID,
			"walletBalance":  storage.Increment(e.amount),
			"totalEarnings":  storage.Increment(e.amount),
			"referralStatus": model.ReferralPending,
		})
		switch {
		case errors.Is(err, storage.ErrConflict):
			// another attribution got there first; continue only if it used this code
			account, err = e.repo.Account(ctx, newID)
			if err != nil {
				return Result{}, fmt.Errorf("reload new account: %w", err)
			}
			if account.ReferredBy != code {
				return Result{ReferrerID: account.ReferredByID, Reason: ReasonAlreadyCredited}, nil
			}
		case err != nil:
			return Result{}, fmt.Errorf("credit referred account: %w", err)
		}
	}

	if err := e.creditReferrer(ctx, referrer.ID, newID, now); err != nil {
		return Result{}, err
	}

	if err := e.recordAudit(ctx, referrer.ID, newID, now); err != nil {
		return Result{}, err
	}

	err = e.repo.Store().Update(ctx, records.AccountPath(newID), storage.Patch{
		"referralStatus":    model.ReferralSettled,
		"referralSettledAt": storage.Claim(now),
	})
	if errors.Is(err, storage.ErrConflict) {
		return Result{ReferrerID: referrer.ID, Reason: ReasonAlreadyCredited}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("settle referral: %w", err)
	}

	e.logger.Info("referral bonus credited", "referrer", referrer.ID, "referred", newID, "amount", e.amount)
	if e.notifier != nil {
		if err := e.notifier.BonusPaid(ctx, referrer.ID, newID, e.amount); err != nil {
			e.logger.Warn("bonus notification failed", "referrer", referrer.ID, "referred", newID, "error", err)
		}
	}
	return Result{Credited: true, ReferrerID: referrer.ID}, nil
}

func (e *Engine) creditReferrer(ctx context.Context, referrerID, newID string, now time.Time) error {
	// fresh read: a previous attempt may have paid the referrer already
	referrer, err := e.repo.Account(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("reload referrer: %w", err)
	}
	if _, paid := referrer.ReferralCredits[newID]; paid {
		return nil
	}
	err = e.repo.Store().Update(ctx, records.AccountPath(referrerID), storage.Patch{
		"walletBalance":            storage.Increment(e.amount),
		"totalEarnings":            storage.Increment(e.amount),
		"totalReferrals":           storage.Increment(1),
		"referralCredits/" + newID: storage.Claim(now.Format(time.RFC3339Nano)),
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("credit referrer: %w", err)
	}
	return nil
}

// recordAudit writes the pair's audit record under an id derived from the
// pair, so racing attempts converge on one record.
func (e *Engine) recordAudit(ctx context.Context, referrerID, newID string, now time.Time) error {
	bonuses, err := e.repo.ReferralBonuses(ctx)
	if err != nil {
		return fmt.Errorf("scan referral bonuses: %w", err)
	}
	for _, b := range bonuses {
		if b.ReferrerID == referrerID && b.ReferredID == newID && b.Status == model.BonusPaid {
			return nil
		}
	}
	err = e.repo.Store().Update(ctx, records.ReferralBonusPath(referrerID, newID), storage.Patch{
		"referrerId":  storage.Claim(referrerID),
		"referredId":  newID,
		"bonusAmount": e.amount,
		"status":      model.BonusPaid,
		"createdAt":   now,
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("write referral bonus: %w", err)
	}
	return nil
}
