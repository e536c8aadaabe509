// Package withdrawal records payout requests and debits wallets when an
// admin approves them.
package withdrawal

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
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidDestination  = errors.New("invalid payout destination")
	ErrAccountInactive     = errors.New("account is suspended")
	ErrAlreadyDecided      = errors.New("withdrawal already decided")
	ErrInvalidOutcome      = errors.New("outcome must be approved or rejected")
	// ErrLedgerInconsistent means a debit drove the balance negative and was
	// reversed. The withdrawal stays pending.
	ErrLedgerInconsistent = errors.New("ledger inconsistency: debit reversed")
)

// Notifier is told about every final decision.
type Notifier interface {
	WithdrawalDecided(ctx context.Context, w model.Withdrawal) error
}

type Ledger struct {
	repo     *records.Repository
	logger   *slog.Logger
	metrics  *observability.Metrics
	notifier Notifier
	now      func() time.Time
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.now = clock }
}

func NewLedger(repo *records.Repository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ValidateDestination checks the payout address shape for method.
func ValidateDestination(method, address string) error {
	address = strings.TrimSpace(address)
	switch strings.ToLower(strings.TrimSpace(method)) {
	case model.MethodBank:
		if len(address) < 6 {
			return fmt.Errorf("%w: bank account number too short", ErrInvalidDestination)
		}
	case model.MethodPayPal, model.MethodUPI:
		if at := strings.Index(address, "@"); at <= 0 || at == len(address)-1 {
			return fmt.Errorf("%w: %s address must look like name@provider", ErrInvalidDestination, method)
		}
	case model.MethodCrypto:
		if len(address) < 20 || strings.ContainsAny(address, " \t") {
			return fmt.Errorf("%w: wallet address malformed", ErrInvalidDestination)
		}
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidDestination, method)
	}
	return nil
}

// Request creates a pending withdrawal. The balance check here only spares
// the user a doomed request; Decide checks again before any debit.
func (l *Ledger) Request(ctx context.Context, accountID string, amount int64, method, address string) (model.Withdrawal, error) {
	w, err := l.request(ctx, accountID, amount, method, address)
	if err != nil {
		l.metrics.Withdrawal("request", outcome(err))
		return model.Withdrawal{}, err
	}
	l.metrics.Withdrawal("request", "created")
	return w, nil
}

func (l *Ledger) request(ctx context.Context, accountID string, amount int64, method, address string) (model.Withdrawal, error) {
	if amount <= 0 {
		return model.Withdrawal{}, ErrInvalidAmount
	}
	if err := ValidateDestination(method, address); err != nil {
		return model.Withdrawal{}, err
	}
	account, err := l.repo.Account(ctx, accountID)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("load account: %w", err)
	}
	if !account.IsActive {
		return model.Withdrawal{}, ErrAccountInactive
	}
	if amount > account.WalletBalance {
		return model.Withdrawal{}, ErrInsufficientBalance
	}

	w := model.Withdrawal{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Amount:    amount,
		Method:    strings.ToLower(strings.TrimSpace(method)),
		Address:   strings.TrimSpace(address),
		Status:    model.WithdrawalPending,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Store().Set(ctx, records.WithdrawalPath(w.ID), w); err != nil {
		return model.Withdrawal{}, fmt.Errorf("save withdrawal: %w", err)
	}
	return w, nil
}

// Decide moves a pending withdrawal to approved or rejected. Approval
// re-reads the balance and refuses, leaving the withdrawal pending, when it
// no longer covers the amount.
func (l *Ledger) Decide(ctx context.Context, id, decision, note string) (model.Withdrawal, error) {
	w, err := l.decide(ctx, id, decision, strings.TrimSpace(note))
	if err != nil {
		l.metrics.Withdrawal("decide", outcome(err))
		return model.Withdrawal{}, err
	}
	l.metrics.Withdrawal("decide", w.Status)
	l.logger.Info("withdrawal decided", "withdrawal", w.ID, "account", w.AccountID, "status", w.Status, "amount", w.Amount)
	if l.notifier != nil {
		if err := l.notifier.WithdrawalDecided(ctx, w); err != nil {
			l.logger.Warn("withdrawal notification failed", "withdrawal", w.ID, "error", err)
		}
	}
	return w, nil
}

func (l *Ledger) decide(ctx context.Context, id, decision, note string) (model.Withdrawal, error) {
	w, err := l.repo.Withdrawal(ctx, id)
	if err != nil {
		return model.Withdrawal{}, err
	}
	if w.Status == model.WithdrawalRejected {
		// a reject that failed after recording its decision left the debit behind
		if err := l.refund(ctx, w); err != nil {
			return model.Withdrawal{}, err
		}
	}
	if w.Terminal() {
		return model.Withdrawal{}, ErrAlreadyDecided
	}

	now := l.now().UTC()
	switch decision {
	case model.WithdrawalRejected:
		if note == "" {
			note = "rejected by admin"
		}
		err := l.repo.Store().Update(ctx, records.WithdrawalPath(id), storage.Patch{
			"status":          model.WithdrawalRejected,
			"rejectionReason": note,
			"rejectedAt":      now,
			"decidedAt":       storage.Claim(now),
		})
		if errors.Is(err, storage.ErrConflict) {
			return model.Withdrawal{}, ErrAlreadyDecided
		}
		if err != nil {
			return model.Withdrawal{}, fmt.Errorf("reject withdrawal: %w", err)
		}
		// an approval may have debited before failing to record itself
		if err := l.refund(ctx, w); err != nil {
			return model.Withdrawal{}, err
		}
	case model.WithdrawalApproved:
		if err := l.debit(ctx, w); err != nil {
			return model.Withdrawal{}, err
		}
		patch := storage.Patch{
			"status":     model.WithdrawalApproved,
			"approvedAt": now,
			"decidedAt":  storage.Claim(now),
		}
		if note != "" {
			patch["note"] = note
		}
		err := l.repo.Store().Update(ctx, records.WithdrawalPath(id), patch)
		if errors.Is(err, storage.ErrConflict) {
			return model.Withdrawal{}, l.lostDecision(ctx, w)
		}
		if err != nil {
			return model.Withdrawal{}, fmt.Errorf("approve withdrawal: %w", err)
		}
	default:
		return model.Withdrawal{}, ErrInvalidOutcome
	}
	return l.repo.Withdrawal(ctx, id)
}

// lostDecision handles an approval whose status write found the withdrawal
// already decided. A rejection won the race, so any debit still on the
// wallet is handed back.
func (l *Ledger) lostDecision(ctx context.Context, w model.Withdrawal) error {
	current, err := l.repo.Withdrawal(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("reload withdrawal: %w", err)
	}
	if current.Status == model.WithdrawalRejected {
		if err := l.refund(ctx, w); err != nil {
			return err
		}
	}
	return ErrAlreadyDecided
}

// debit takes the amount from the owner's wallet once per withdrawal. The
// withdrawalDebits/{id} marker is claimed in the same write as the debit, so
// of several concurrent approvals only one moves money, and a retried
// approval skips straight to marking the withdrawal approved.
func (l *Ledger) debit(ctx context.Context, w model.Withdrawal) error {
	path := records.AccountPath(w.AccountID)
	marker := "withdrawalDebits/" + w.ID

	account, err := l.repo.Account(ctx, w.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if _, done := account.WithdrawalDebits[w.ID]; done {
		return nil
	}
	if account.WalletBalance < w.Amount {
		return ErrInsufficientBalance
	}

	err = l.repo.Store().Update(ctx, path, storage.Patch{
		"walletBalance": storage.Increment(-w.Amount),
		marker:          storage.Claim(w.Amount),
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}

	after, err := l.repo.Account(ctx, w.AccountID)
	if err != nil {
		return fmt.Errorf("confirm debit: %w", err)
	}
	if after.WalletBalance >= 0 {
		return nil
	}

	// a concurrent debit landed between the read and our write
	l.logger.Error("wallet went negative on withdrawal approval, reversing debit",
		"withdrawal", w.ID, "account", w.AccountID, "balance", after.WalletBalance, "amount", w.Amount)
	if err := l.refund(ctx, w); err != nil {
		return fmt.Errorf("%w: reversal failed: %v", ErrLedgerInconsistent, err)
	}
	return ErrLedgerInconsistent
}

// refund returns a debited amount to the wallet and clears its marker in one
// write. It is a no-op when the withdrawal holds no debit.
func (l *Ledger) refund(ctx context.Context, w model.Withdrawal) error {
	account, err := l.repo.Account(ctx, w.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if _, debited := account.WithdrawalDebits[w.ID]; !debited {
		return nil
	}
	err = l.repo.Store().Update(ctx, records.AccountPath(w.AccountID), storage.Patch{
		"walletBalance":            storage.Increment(w.Amount),
		"withdrawalDebits/" + w.ID: storage.Take(),
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("refund wallet: %w", err)
	}
	if err == nil {
		l.logger.Info("withdrawal debit refunded", "withdrawal", w.ID, "account", w.AccountID, "amount", w.Amount)
	}
	return nil
}

// ForAccount lists an account's withdrawals, newest first.
func (l *Ledger) ForAccount(ctx context.Context, accountID string) ([]model.Withdrawal, error) {
	return l.filter(ctx, func(w model.Withdrawal) bool { return w.AccountID == accountID })
}

// ByStatus lists withdrawals in status, or all when status is empty.
func (l *Ledger) ByStatus(ctx context.Context, status string) ([]model.Withdrawal, error) {
	return l.filter(ctx, func(w model.Withdrawal) bool { return status == "" || w.Status == status })
}

func (l *Ledger) filter(ctx context.Context, keep func(model.Withdrawal) bool) ([]model.Withdrawal, error) {
	all, err := l.repo.Withdrawals(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidDestination):
		return "invalid_destination"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, ErrLedgerInconsistent):
		return "inconsistent"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
