package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/bonus"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
	"github.com/sudo-init-do/channelhub/internal/storage/storagetest"
)

func newService(t *testing.T) (*Service, *storagetest.Flaky, *records.Repository) {
	t.Helper()
	store := storagetest.NewFlaky(memory.New())
	repo := records.New(store, logging.Discard(), nil)
	engine := bonus.NewEngine(repo, bonus.WithLogger(logging.Discard()))
	svc := NewService(repo, engine, WithRetry(3, time.Millisecond), WithLogger(logging.Discard()))
	return svc, store, repo
}

func TestCreateAssignsUniqueCode(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	a, res, created, err := svc.Create(ctx, Signup{ID: "u1", Email: "ann@example.com"}, "")
	require.NoError(t, err)
	require.True(t, created)
	require.Regexp(t, `^[A-Z0-9]{8}$`, a.ReferralCode)
	require.Equal(t, "ann", a.DisplayName)
	require.True(t, a.IsActive)
	require.Equal(t, bonus.ReasonNoCode, res.Reason)

	b, _, _, err := svc.Create(ctx, Signup{ID: "u2", Email: "bob@example.com", DisplayName: "Bob"}, "")
	require.NoError(t, err)
	require.NotEqual(t, a.ReferralCode, b.ReferralCode)

	_, _, _, err = svc.Create(ctx, Signup{ID: "", Email: "x@example.com"}, "")
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestCreateWithReferralCreditsBoth(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)

	b, res, created, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, res.Credited)
	require.Equal(t, int64(10), b.WalletBalance)
	require.Equal(t, a.ReferralCode, b.ReferredBy)

	referrer, err := repo.Account(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(10), referrer.WalletBalance)
	require.Equal(t, int64(1), referrer.TotalReferrals)
}

func TestCreateIsRepeatable(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b, _, _, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
		require.NoError(t, err)
		require.Equal(t, int64(10), b.WalletBalance)
	}
	referrer, err := repo.Account(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(10), referrer.WalletBalance)

	bonuses, err := repo.ReferralBonuses(ctx)
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
}

func TestLaterCodeDoesNotAttributeExistingAccount(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)
	_, res, created, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, "")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, bonus.ReasonNoCode, res.Reason)

	b, res, created, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, res.Credited)
	require.Empty(t, b.ReferredBy)
	require.Zero(t, b.WalletBalance)

	referrer, err := repo.Account(ctx, "a")
	require.NoError(t, err)
	require.Zero(t, referrer.WalletBalance)
	require.Zero(t, referrer.TotalReferrals)
}

func TestRepeatSignupResumesStoredCode(t *testing.T) {
	svc, store, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)
	c, _, _, err := svc.Create(ctx, Signup{ID: "c", Email: "c@example.com"}, "")
	require.NoError(t, err)

	// one failed referrer write per attempt exhausts the retries
	store.FailNext(storagetest.OpUpdate, "accounts/a", 3)
	b, res, _, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
	require.NoError(t, err)
	require.Equal(t, ReasonDeferred, res.Reason)
	require.Equal(t, a.ReferralCode, b.SignupCode)

	b, res, created, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, c.ReferralCode)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, res.Credited)
	require.Equal(t, "a", res.ReferrerID)
	require.Equal(t, a.ReferralCode, b.ReferredBy)

	referrer, err := repo.Account(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(10), referrer.WalletBalance)
	other, err := repo.Account(ctx, "c")
	require.NoError(t, err)
	require.Zero(t, other.WalletBalance)
}

func TestAttributionRetriesTransientFailures(t *testing.T) {
	svc, store, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)

	store.FailNext(storagetest.OpUpdate, "accounts/a", 2)
	_, res, _, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
	require.NoError(t, err)
	require.True(t, res.Credited)

	referrer, err := repo.Account(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(10), referrer.WalletBalance)
}

func TestAttributionFailureDoesNotBlockSignup(t *testing.T) {
	svc, store, repo := newService(t)
	ctx := context.Background()
	a, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)

	store.FailNext(storagetest.OpUpdate, "accounts/a", 10)
	b, res, created, err := svc.Create(ctx, Signup{ID: "b", Email: "b@example.com"}, a.ReferralCode)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, res.Credited)
	require.Equal(t, ReasonDeferred, res.Reason)

	stored, err := repo.Account(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReferralPending, stored.ReferralStatus)
}

func TestSetActiveAndList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, _, _, err := svc.Create(ctx, Signup{ID: "a", Email: "a@example.com"}, "")
	require.NoError(t, err)

	a, err := svc.SetActive(ctx, "a", false)
	require.NoError(t, err)
	require.False(t, a.IsActive)

	_, err = svc.SetActive(ctx, "missing", false)
	require.Error(t, err)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
