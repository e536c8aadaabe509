// Package jobs holds the periodic ledger reconciliation sweep.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sudo-init-do/channelhub/internal/account"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
)

// Drift is an account whose wallet does not match its ledger history.
type Drift struct {
	AccountID     string `json:"accountId"`
	WalletBalance int64  `json:"walletBalance"`
	Expected      int64  `json:"expected"`
	// Unsettled lists withdrawals debited from the wallet but still pending.
	Unsettled []string `json:"unsettled,omitempty"`
}

type Report struct {
	RanAt    time.Time `json:"ranAt"`
	Checked  int       `json:"checked"`
	Resumed  int       `json:"resumed"`
	Drifts   []Drift   `json:"drifts"`
	Duration string    `json:"duration"`
}

// Reconciler finishes half-done referral attributions and checks that
// walletBalance == referral credits - approved withdrawals for every account.
// It reports drift and never rewrites balances.
type Reconciler struct {
	repo    *records.Repository
	engine  account.Attributor
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewReconciler(repo *records.Repository, engine account.Attributor, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, engine: engine, logger: logger, metrics: metrics, now: time.Now}
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := r.now()
	rep, err := r.run(ctx)
	rep.RanAt = start.UTC()
	rep.Duration = r.now().Sub(start).String()
	if err != nil {
		r.metrics.ReconcileRun("error")
		return rep, err
	}
	if len(rep.Drifts) > 0 {
		r.metrics.ReconcileRun("drift")
	} else {
		r.metrics.ReconcileRun("clean")
	}
	return rep, nil
}

func (r *Reconciler) run(ctx context.Context) (Report, error) {
	var rep Report

	accounts, err := r.repo.Accounts(ctx)
	if err != nil {
		return rep, fmt.Errorf("load accounts: %w", err)
	}
	for _, a := range accounts {
		if a.ReferralStatus != model.ReferralPending || a.ReferredBy == "" {
			continue
		}
		res, err := r.engine.Attribute(ctx, a.ID, a.ReferredBy)
		if err != nil {
			r.logger.Warn("resume attribution failed", "account", a.ID, "error", err)
			continue
		}
		if res.Credited {
			rep.Resumed++
		}
	}
	if rep.Resumed > 0 {
		// balances moved; reload before checking
		if accounts, err = r.repo.Accounts(ctx); err != nil {
			return rep, fmt.Errorf("reload accounts: %w", err)
		}
	}

	bonuses, err := r.repo.ReferralBonuses(ctx)
	if err != nil {
		return rep, fmt.Errorf("load referral bonuses: %w", err)
	}
	withdrawals, err := r.repo.Withdrawals(ctx)
	if err != nil {
		return rep, fmt.Errorf("load withdrawals: %w", err)
	}

	expected := map[string]int64{}
	for _, b := range bonuses {
		if b.Status != model.BonusPaid {
			continue
		}
		expected[b.ReferrerID] += b.BonusAmount
		expected[b.ReferredID] += b.BonusAmount
	}
	status := map[string]string{}
	for _, w := range withdrawals {
		status[w.ID] = w.Status
		if w.Status == model.WithdrawalApproved {
			expected[w.AccountID] -= w.Amount
		}
	}

	for _, a := range accounts {
		rep.Checked++
		var unsettled []string
		for id := range a.WithdrawalDebits {
			if status[id] != model.WithdrawalApproved {
				unsettled = append(unsettled, id)
			}
		}
		if a.WalletBalance == expected[a.ID] && len(unsettled) == 0 {
			continue
		}
		sort.Strings(unsettled)
		d := Drift{AccountID: a.ID, WalletBalance: a.WalletBalance, Expected: expected[a.ID], Unsettled: unsettled}
		rep.Drifts = append(rep.Drifts, d)
		r.logger.Warn("ledger drift", "account", d.AccountID, "wallet", d.WalletBalance, "expected", d.Expected, "unsettled", d.Unsettled)
	}
	sort.Slice(rep.Drifts, func(i, j int) bool { return rep.Drifts[i].AccountID < rep.Drifts[j].AccountID })
	return rep, nil
}
