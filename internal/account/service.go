// Package account creates marketplace accounts and runs referral
// attribution for them.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/referral"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

// ReasonDeferred marks an attribution that kept failing and was left for
// the reconciliation job.
const ReasonDeferred = "deferred"

var ErrInvalidAccount = errors.New("invalid account")

// Attributor is the bonus engine as seen by account creation.
type Attributor interface {
	Attribute(ctx context.Context, newAccountID, rawCode string) (bonus.Result, error)
}

type Service struct {
	repo     *records.Repository
	engine   Attributor
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	attempts int
	backoff  time.Duration
}

type Option func(*Service)

// WithRetry sets how many times a transient attribution failure is tried
// and the first backoff, which doubles after every attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

func NewService(repo *records.Repository, engine Attributor, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		engine:   engine,
		logger:   slog.Default(),
		now:      time.Now,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup is the identity issued by the auth collaborator plus profile data.
type Signup struct {
	ID          string
	Email       string
	DisplayName string
}

// Create stores a new account with a fresh referral code and then attributes
// it to referralCode. The code is kept on the account as its signup code. An
// account that already exists is returned as is (created=false) and only an
// attribution to its own signup code is resumed, so a code supplied after
// signup never credits anyone. Attribution failures never fail the signup.
func (s *Service) Create(ctx context.Context, in Signup, referralCode string) (acct model.Account, res bonus.Result, created bool, err error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.ID == "" || in.Email == "" {
		return model.Account{}, bonus.Result{}, false, fmt.Errorf("%w: id and email required", ErrInvalidAccount)
	}

	acct, err = s.repo.Account(ctx, in.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		acct, created, err = s.insert(ctx, in, strings.TrimSpace(referralCode))
		if err != nil {
			return model.Account{}, bonus.Result{}, false, err
		}
	case err != nil:
		return model.Account{}, bonus.Result{}, false, fmt.Errorf("load account: %w", err)
	}

	res = s.attribute(ctx, acct.ID, signupCode(acct))
	if res.Credited {
		if fresh, err := s.repo.Account(ctx, acct.ID); err == nil {
			acct = fresh
		}
	}
	return acct, res, created, nil
}

// signupCode is the code an account was created with. Accounts stored
// before the code was recorded fall back to a pending attribution.
func signupCode(acct model.Account) string {
	if acct.SignupCode != "" {
		return acct.SignupCode
	}
	if acct.ReferralStatus == model.ReferralPending {
		return acct.ReferredBy
	}
	return ""
}

// insert writes the account unless a concurrent signup for the same id got
// there first, in which case that account is returned with created=false.
func (s *Service) insert(ctx context.Context, in Signup, referralCode string) (model.Account, bool, error) {
	code, err := referral.GenerateCode(ctx, s.codeTaken)
	if err != nil {
		return model.Account{}, false, fmt.Errorf("generate referral code: %w", err)
	}
	now := s.now().UTC()
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = strings.SplitN(in.Email, "@", 2)[0]
	}
	patch := storage.Patch{
		"email":          storage.Claim(in.Email),
		"displayName":    display,
		"referralCode":   code,
		"walletBalance":  0,
		"totalEarnings":  0,
		"totalReferrals": 0,
		"isActive":       true,
		"createdAt":      now,
		"lastActiveAt":   now,
	}
	if referralCode != "" {
		patch["signupCode"] = referralCode
	}
	err = s.repo.Store().Update(ctx, records.AccountPath(in.ID), patch)
	if errors.Is(err, storage.ErrConflict) {
		existing, err := s.repo.Account(ctx, in.ID)
		if err != nil {
			return model.Account{}, false, fmt.Errorf("load account: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return model.Account{}, false, fmt.Errorf("save account: %w", err)
	}
	s.logger.Info("account created", "account", in.ID, "referral_code", code)
	return model.Account{
		ID:           in.ID,
		Email:        in.Email,
		DisplayName:  display,
		ReferralCode: code,
		SignupCode:   referralCode,
		IsActive:     true,
		CreatedAt:    now,
		LastActiveAt: now,
	}, true, nil
}

func (s *Service) codeTaken(ctx context.Context, code string) (bool, error) {
	_, err := s.repo.FindByReferralCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// attribute retries transient store failures with exponential backoff.
func (s *Service) attribute(ctx context.Context, accountID, code string) bonus.Result {
	if strings.TrimSpace(code) == "" {
		return bonus.Result{Reason: bonus.ReasonNoCode}
	}
	wait := s.backoff
	for attempt := 1; ; attempt++ {
		res, err := s.engine.Attribute(ctx, accountID, code)
		if err == nil {
			return res
		}
		if !errors.Is(err, storage.ErrUnavailable) || attempt >= s.attempts {
			s.logger.Error("referral attribution deferred", "account", accountID, "code", code, "attempts", attempt, "error", err)
			return bonus.Result{Reason: ReasonDeferred}
		}
		s.metrics.StoreRetry("attribute")
		s.logger.Warn("referral attribution failed, retrying", "account", accountID, "attempt", attempt, "backoff", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return bonus.Result{Reason: ReasonDeferred}
		case <-t.C:
		}
		wait *= 2
	}
}

// Get loads an account.
func (s *Service) Get(ctx context.Context, id string) (model.Account, error) {
	return s.repo.Account(ctx, id)
}

// Touch records activity on an account. Failures are only logged.
func (s *Service) Touch(ctx context.Context, id string) {
	err := s.repo.Store().Update(ctx, records.AccountPath(id), storage.Patch{"lastActiveAt": s.now().UTC()})
	if err != nil {
		s.logger.Warn("touch account failed", "account", id, "error", err)
	}
}

// SetActive suspends or reactivates an account.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (model.Account, error) {
	if _, err := s.repo.Account(ctx, id); err != nil {
		return model.Account{}, err
	}
	if err := s.repo.Store().Update(ctx, records.AccountPath(id), storage.Patch{"isActive": active}); err != nil {
		return model.Account{}, fmt.Errorf("set account active: %w", err)
	}
	s.logger.Info("account status changed", "account", id, "active", active)
	return s.repo.Account(ctx, id)
}

// List returns every account, newest first.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	all, err := s.repo.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}
